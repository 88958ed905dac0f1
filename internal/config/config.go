// Package config holds the runtime configuration the pipeline consults on
// every call, and its durable KEY=VALUE store.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/caarlos0/env/v9"
)

// EnvPrefix is shared by environment variables and store file keys.
const EnvPrefix = "LINGOGEN_"

// Provider names.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

// OpenRouter configures the remote model router.
type OpenRouter struct {
	APIKey string `env:"OPENROUTER_API_KEY"`
	Model  string `env:"OPENROUTER_MODEL" envDefault:"meta-llama/llama-3.3-70b-instruct"`
	AppURL string `env:"APP_URL" envDefault:"https://github.com/parloapp/lingogen"`
}

// Ollama configures the local model server.
type Ollama struct {
	Host  string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	Model string `env:"OLLAMA_MODEL" envDefault:"llama3.1"`
}

// Config is the runtime configuration. MaxTokens caps the output tokens of
// every provider call, overriding any caller-supplied value.
type Config struct {
	Provider   string `env:"PROVIDER" envDefault:"openrouter"`
	MaxTokens  int64  `env:"MAX_TOKENS" envDefault:"4096"`
	OpenRouter OpenRouter
	Ollama     Ollama
}

// ActiveModel returns the model identifier of the active provider.
func (c Config) ActiveModel() string {
	if c.Provider == ProviderOllama {
		return c.Ollama.Model
	}
	return c.OpenRouter.Model
}

// Snapshot is the externally observable projection of a [Config]. The
// credential is reduced to a presence flag and never leaves the process.
type Snapshot struct {
	Provider   string `json:"provider"`
	MaxTokens  int64  `json:"maxOutputTokens"`
	OpenRouter struct {
		Model     string `json:"model"`
		HasAPIKey bool   `json:"hasApiKey"`
		AppURL    string `json:"appUrl"`
	} `json:"openrouter"`
	Ollama struct {
		Host  string `json:"host"`
		Model string `json:"model"`
	} `json:"ollama"`
}

// Update is a partial configuration change. Nil fields are left untouched.
type Update struct {
	Provider         *string `json:"provider"`
	MaxTokens        *int64  `json:"maxOutputTokens"`
	OpenRouterAPIKey *string `json:"openRouterApiKey"`
	OpenRouterModel  *string `json:"openRouterModel"`
	AppURL           *string `json:"appUrl"`
	OllamaHost       *string `json:"ollamaHost"`
	OllamaModel      *string `json:"ollamaModel"`
}

// Store owns the process-wide configuration. Reads return copies, so callers
// can hold a snapshot without locking; writes go through [Store.Apply] with
// last-write-wins semantics.
type Store struct {
	mu    sync.RWMutex
	cfg   Config
	path  string
	log   *slog.Logger
	spawn func(name string, fn func())
}

// NewStore wraps an already-built Config. The spawn function runs the
// detached persistence write; pass nil to disable persistence entirely.
func NewStore(cfg Config, path string, log *slog.Logger, spawn func(string, func())) *Store {
	return &Store{cfg: cfg, path: path, log: log, spawn: spawn}
}

// Load builds the initial configuration from LINGOGEN_* environment
// variables. A credential persisted by a previous run is adopted when the
// environment does not carry one.
func Load(path string, log *slog.Logger, spawn func(string, func())) (*Store, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	if cfg.OpenRouter.APIKey == "" && path != "" {
		if stored, err := readStoreFile(path); err == nil {
			cfg.OpenRouter.APIKey = stored[EnvPrefix+"OPENROUTER_API_KEY"]
		}
	}
	return NewStore(cfg, path, log, spawn), nil
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Snapshot returns the redacted projection for the configuration endpoint.
func (s *Store) Snapshot() Snapshot {
	cfg := s.Get()
	var snap Snapshot
	snap.Provider = cfg.Provider
	snap.MaxTokens = cfg.MaxTokens
	snap.OpenRouter.Model = cfg.OpenRouter.Model
	snap.OpenRouter.HasAPIKey = cfg.OpenRouter.APIKey != ""
	snap.OpenRouter.AppURL = cfg.OpenRouter.AppURL
	snap.Ollama.Host = cfg.Ollama.Host
	snap.Ollama.Model = cfg.Ollama.Model
	return snap
}

// Apply merges the supplied fields into the configuration and schedules a
// best-effort write to the durable store. The caller gets the new snapshot
// back before that write completes; persistence failures are logged only.
func (s *Store) Apply(u Update) Config {
	s.mu.Lock()
	cfg := s.cfg
	if u.Provider != nil {
		p := strings.ToLower(strings.TrimSpace(*u.Provider))
		switch p {
		case ProviderOpenRouter, ProviderOllama:
			cfg.Provider = p
		default:
			s.log.Warn("ignoring unknown provider", "provider", *u.Provider)
		}
	}
	if u.MaxTokens != nil {
		if *u.MaxTokens > 0 {
			cfg.MaxTokens = *u.MaxTokens
		} else {
			s.log.Warn("ignoring non-positive token cap", "maxOutputTokens", *u.MaxTokens)
		}
	}
	if u.OpenRouterAPIKey != nil {
		cfg.OpenRouter.APIKey = *u.OpenRouterAPIKey
	}
	if u.OpenRouterModel != nil {
		cfg.OpenRouter.Model = *u.OpenRouterModel
	}
	if u.AppURL != nil {
		cfg.OpenRouter.AppURL = *u.AppURL
	}
	if u.OllamaHost != nil {
		cfg.Ollama.Host = *u.OllamaHost
	}
	if u.OllamaModel != nil {
		cfg.Ollama.Model = *u.OllamaModel
	}
	s.cfg = cfg
	s.mu.Unlock()

	if s.path != "" && s.spawn != nil {
		s.spawn("config-persist", func() {
			if err := mergeStoreFile(s.path, storeValues(cfg)); err != nil {
				s.log.Error("could not persist configuration", "path", s.path, "error", err)
			}
		})
	}
	return cfg
}

// storeValues maps a Config onto store file keys. The credential is omitted
// when empty so a previously persisted one survives updates that did not
// replace it.
func storeValues(cfg Config) map[string]string {
	values := map[string]string{
		EnvPrefix + "PROVIDER":         cfg.Provider,
		EnvPrefix + "MAX_TOKENS":       fmt.Sprintf("%d", cfg.MaxTokens),
		EnvPrefix + "OPENROUTER_MODEL": cfg.OpenRouter.Model,
		EnvPrefix + "APP_URL":          cfg.OpenRouter.AppURL,
		EnvPrefix + "OLLAMA_HOST":      cfg.Ollama.Host,
		EnvPrefix + "OLLAMA_MODEL":     cfg.Ollama.Model,
	}
	if cfg.OpenRouter.APIKey != "" {
		values[EnvPrefix+"OPENROUTER_API_KEY"] = cfg.OpenRouter.APIKey
	}
	return values
}
