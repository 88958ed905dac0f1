// Package engine orchestrates generation requests end to end: validation,
// cache lookup, provider dispatch, response normalization, parsing, and
// partial salvage.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/parloapp/lingogen/internal/cache"
	"github.com/parloapp/lingogen/internal/config"
	"github.com/parloapp/lingogen/internal/jsonx"
	"github.com/parloapp/lingogen/internal/proto"
)

// cacheableSchemas marks the response classes that may be stored and reused
// by topic and model. Only the recommendation class repeats often enough to
// be worth it.
var cacheableSchemas = map[string]bool{
	"topic_recommendations": true,
}

// Request is the externally visible generation request.
type Request struct {
	SystemPrompt   string         `json:"systemPrompt,omitempty"`
	UserPrompt     string         `json:"userPrompt"`
	ResponseSchema map[string]any `json:"responseSchema,omitempty"`
	SchemaName     string         `json:"schemaName,omitempty"`
}

// Engine wires the provider clients, the response cache, and the recovery
// pipeline into the generation contract.
type Engine struct {
	store  *config.Store
	cache  *cache.LRU[any]
	log    *slog.Logger
	remote proto.Client
	local  proto.Client
}

// New creates an Engine. Pass capacity 0 for the default cache size.
func New(store *config.Store, log *slog.Logger, remote, local proto.Client, capacity int) *Engine {
	return &Engine{
		store:  store,
		cache:  cache.NewLRU[any](capacity),
		log:    log,
		remote: remote,
		local:  local,
	}
}

// Generate resolves one generation request. With a schema the result is the
// parsed payload; without one it is the normalized raw text. Provider output
// that defeats every parse strategy fails with a malformed-output error,
// except that item-list shapes are first run through salvage and a non-empty
// partial result counts as success.
func (e *Engine) Generate(ctx context.Context, request Request) (any, error) {
	prompt := strings.TrimSpace(request.UserPrompt)
	if prompt == "" {
		return nil, proto.Validationf("userPrompt must not be empty")
	}

	cfg := e.store.Get()
	key, cacheable := e.cacheKey(request, cfg)
	if cacheable {
		if v, ok := e.cache.Get(key); ok {
			e.log.Debug("response cache hit", "key", key)
			return v, nil
		}
	}

	raw, err := e.client(cfg).Complete(ctx, proto.Request{
		SystemPrompt: request.SystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    cfg.MaxTokens,
		Schema:       request.ResponseSchema,
		SchemaName:   request.SchemaName,
	})
	if err != nil {
		return nil, err
	}

	text := jsonx.Normalize(raw)
	if request.ResponseSchema == nil {
		return text, nil
	}

	parsed, err := jsonx.Parse(text)
	if err != nil {
		if wantsItems(request.ResponseSchema) {
			if salvaged := jsonx.Salvage(text); salvaged != nil {
				items, _ := salvaged["items"].([]any)
				e.log.Warn("salvaged partial item list",
					"schema", request.SchemaName,
					"items", len(items))
				// lossy results are returned but never cached
				return salvaged, nil
			}
		}
		var perr *jsonx.ParseError
		if errors.As(err, &perr) {
			return nil, proto.Malformed(perr.Preview, err)
		}
		return nil, proto.Malformed("", err)
	}

	if cacheable {
		e.cache.Set(key, parsed)
	}
	return parsed, nil
}

// CacheStats reports the response cache occupancy.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

func (e *Engine) client(cfg config.Config) proto.Client {
	if cfg.Provider == config.ProviderOllama {
		return e.local
	}
	return e.remote
}

func (e *Engine) cacheKey(request Request, cfg config.Config) (string, bool) {
	if !cacheableSchemas[request.SchemaName] {
		return "", false
	}
	topic, ok := cache.Topic(request.UserPrompt)
	if !ok {
		return "", false
	}
	return cache.Key(topic, cfg.ActiveModel()), true
}

// wantsItems reports whether the schema describes an `{items: [...]}`
// payload, the only shape partial salvage applies to.
func wantsItems(schema map[string]any) bool {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return false
	}
	items, ok := props["items"].(map[string]any)
	if !ok {
		return false
	}
	typ, ok := items["type"].(string)
	return !ok || typ == "array"
}
