// Package ollama implements [proto.Client] for a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/parloapp/lingogen/internal/config"
	"github.com/parloapp/lingogen/internal/proto"
)

var _ proto.Client = (*Client)(nil)

// Client is the local model server client. No credential is required; host
// and model are read from the configuration store on every call.
type Client struct {
	store *config.Store
	log   *slog.Logger
	hc    *http.Client
}

// New creates a Client.
func New(store *config.Store, log *slog.Logger) *Client {
	return &Client{
		store: store,
		log:   log,
		hc:    &http.Client{},
	}
}

func (c *Client) api(cfg config.Config) (*api.Client, error) {
	u, err := url.Parse(cfg.Ollama.Host)
	if err != nil {
		return nil, proto.Configf("invalid Ollama host %q: %v", cfg.Ollama.Host, err)
	}
	return api.NewClient(u, c.hc), nil
}

// Complete implements [proto.Client]. A supplied schema is passed through as
// the generation format constraint. Chat-style output is preferred; when the
// chat endpoint yields no content the completion-style endpoint is consulted
// instead.
func (c *Client) Complete(ctx context.Context, request proto.Request) (string, error) {
	cfg := c.store.Get()
	client, err := c.api(cfg)
	if err != nil {
		return "", err
	}

	var format json.RawMessage
	if request.Schema != nil {
		format, err = json.Marshal(request.Schema)
		if err != nil {
			return "", proto.Validationf("unencodable response schema: %v", err)
		}
	}

	messages := make([]api.Message, 0, 2)
	if request.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: proto.RoleSystem, Content: request.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: proto.RoleUser, Content: request.UserPrompt})

	stream := false
	chat := &api.ChatRequest{
		Model:    cfg.Ollama.Model,
		Messages: messages,
		Stream:   &stream,
		Format:   format,
		Options: map[string]any{
			// the process-wide cap always wins over the caller's value
			"num_predict": cfg.MaxTokens,
		},
	}

	var content string
	err = client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", upstreamErr(err)
	}
	if content != "" {
		return content, nil
	}

	c.log.Debug("chat response empty, falling back to generate", "model", cfg.Ollama.Model)
	return c.generate(ctx, client, cfg, request, format)
}

func (c *Client) generate(
	ctx context.Context,
	client *api.Client,
	cfg config.Config,
	request proto.Request,
	format json.RawMessage,
) (string, error) {
	stream := false
	gen := &api.GenerateRequest{
		Model:  cfg.Ollama.Model,
		System: request.SystemPrompt,
		Prompt: request.UserPrompt,
		Stream: &stream,
		Format: format,
		Options: map[string]any{
			"num_predict": cfg.MaxTokens,
		},
	}
	var out string
	err := client.Generate(ctx, gen, func(resp api.GenerateResponse) error {
		out += resp.Response
		return nil
	})
	if err != nil {
		return "", upstreamErr(err)
	}
	return out, nil
}

func upstreamErr(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return proto.Upstream(se.StatusCode, "Ollama request failed", err)
	}
	return proto.Upstream(0, "Ollama unreachable", err)
}

// LocalModel describes one locally installed model.
type LocalModel struct {
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	ParameterSize string    `json:"parameterSize,omitempty"`
	ModifiedAt    time.Time `json:"modifiedAt"`
}

// Models lists the locally installed models.
func (c *Client) Models(ctx context.Context) ([]LocalModel, error) {
	cfg := c.store.Get()
	client, err := c.api(cfg)
	if err != nil {
		return nil, err
	}
	resp, err := client.List(ctx)
	if err != nil {
		return nil, upstreamErr(err)
	}
	models := make([]LocalModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, LocalModel{
			Name:          m.Name,
			Size:          m.Size,
			ParameterSize: m.Details.ParameterSize,
			ModifiedAt:    m.ModifiedAt,
		})
	}
	return models, nil
}
