// Package openrouter implements [proto.Client] for the OpenRouter model
// router.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/parloapp/lingogen/internal/config"
	"github.com/parloapp/lingogen/internal/proto"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// costFetchDelay gives the router time to finalize accounting before the
// follow-up generation lookup.
var costFetchDelay = 2 * time.Second

var _ proto.Client = (*Client)(nil)

// Usage is the cost accounting the router reports for one completion.
type Usage struct {
	GenerationID     string  `json:"id"`
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"tokens_prompt"`
	CompletionTokens int64   `json:"tokens_completion"`
	Cost             float64 `json:"total_cost"`
}

// Client is the OpenRouter client. Credentials and model selection are read
// from the configuration store on every call, so runtime updates take effect
// without rebuilding the client.
type Client struct {
	store   *config.Store
	log     *slog.Logger
	baseURL string
	hc      *http.Client
	spawn   func(name string, fn func())
	onUsage func(Usage)
	models  modelsCache
}

// New creates a Client. The spawn function runs detached diagnostics (cost
// accounting, quota lookups); onUsage, when non-nil, receives each resolved
// [Usage].
func New(store *config.Store, log *slog.Logger, spawn func(string, func()), onUsage func(Usage)) *Client {
	if spawn == nil {
		spawn = func(_ string, fn func()) { go fn() }
	}
	return &Client{
		store:   store,
		log:     log,
		baseURL: defaultBaseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
		spawn:   spawn,
		onUsage: onUsage,
	}
}

func (c *Client) api(cfg config.Config) openai.Client {
	return openai.NewClient(
		option.WithAPIKey(cfg.OpenRouter.APIKey),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(0),
		option.WithHeader("HTTP-Referer", cfg.OpenRouter.AppURL),
		option.WithHeader("X-Title", "lingogen"),
		option.WithHTTPClient(c.hc),
	)
}

// Complete implements [proto.Client]. A missing credential fails before any
// network I/O. When a schema is present the router is asked for strict
// schema-constrained output. On success a detached follow-up retrieves the
// completion's cost accounting; its outcome never affects the result.
func (c *Client) Complete(ctx context.Context, request proto.Request) (string, error) {
	cfg := c.store.Get()
	if cfg.OpenRouter.APIKey == "" {
		return "", proto.Configf("OpenRouter API key is not configured")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(request.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(cfg.OpenRouter.Model),
		Messages: messages,
		// the process-wide cap always wins over the caller's value
		MaxTokens: openai.Int(cfg.MaxTokens),
	}
	if request.Schema != nil {
		name := request.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: request.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	api := c.api(cfg)
	resp, err := api.Chat.Completions.New(ctx, params)
	if err != nil {
		var ae *openai.Error
		if errors.As(err, &ae) {
			if ae.StatusCode == http.StatusTooManyRequests {
				c.spawn("quota-diagnostics", func() { c.logQuota(cfg) })
			}
			return "", proto.Upstream(ae.StatusCode, "OpenRouter request failed", err)
		}
		return "", proto.Upstream(0, "OpenRouter unreachable", err)
	}
	if len(resp.Choices) == 0 {
		return "", proto.Upstream(0, "OpenRouter returned no completion choices", nil)
	}

	id := resp.ID
	c.spawn("generation-cost", func() {
		time.Sleep(costFetchDelay)
		c.fetchCost(id, cfg)
	})

	return resp.Choices[0].Message.Content, nil
}

// fetchCost retrieves the cost accounting for a completed generation. It is
// diagnostic only: every failure is swallowed after a debug log.
func (c *Client) fetchCost(id string, cfg config.Config) {
	var out struct {
		Data Usage `json:"data"`
	}
	err := c.getJSON(context.Background(), cfg, "/generation?id="+id, &out)
	if err != nil {
		c.log.Debug("generation cost lookup failed", "generation_id", id, "error", err)
		return
	}
	c.log.Info("generation cost",
		"generation_id", out.Data.GenerationID,
		"model", out.Data.Model,
		"prompt_tokens", out.Data.PromptTokens,
		"completion_tokens", out.Data.CompletionTokens,
		"cost_usd", out.Data.Cost)
	if c.onUsage != nil {
		c.onUsage(out.Data)
	}
}

// Quota looks up the key's usage and limit.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	cfg := c.store.Get()
	if cfg.OpenRouter.APIKey == "" {
		return nil, proto.Configf("OpenRouter API key is not configured")
	}
	var out struct {
		Data Quota `json:"data"`
	}
	if err := c.getJSON(ctx, cfg, "/key", &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Quota is the router's view of the active credential.
type Quota struct {
	Label      string   `json:"label"`
	Usage      float64  `json:"usage"`
	Limit      *float64 `json:"limit"`
	IsFreeTier bool     `json:"is_free_tier"`
}

func (c *Client) logQuota(cfg config.Config) {
	var out struct {
		Data Quota `json:"data"`
	}
	if err := c.getJSON(context.Background(), cfg, "/key", &out); err != nil {
		c.log.Debug("quota lookup failed", "error", err)
		return
	}
	c.log.Warn("rate limited by OpenRouter",
		"usage_usd", out.Data.Usage,
		"limit_usd", out.Data.Limit,
		"free_tier", out.Data.IsFreeTier)
}

func (c *Client) getJSON(ctx context.Context, cfg config.Config, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if cfg.OpenRouter.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.OpenRouter.APIKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return proto.Upstream(0, "OpenRouter unreachable", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return proto.Upstream(resp.StatusCode, "OpenRouter request failed", nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
