package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parloapp/lingogen/internal/config"
	"github.com/parloapp/lingogen/internal/proto"
)

var discard = slog.New(slog.DiscardHandler)

// fakeClient scripts provider responses and records calls.
type fakeClient struct {
	responses []string
	err       error
	calls     int
	last      proto.Request
}

func (f *fakeClient) Complete(_ context.Context, request proto.Request) (string, error) {
	f.calls++
	f.last = request
	if f.err != nil {
		return "", f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func testStore(provider string) *config.Store {
	return config.NewStore(config.Config{
		Provider:   provider,
		MaxTokens:  512,
		OpenRouter: config.OpenRouter{APIKey: "sk", Model: "remote-model"},
		Ollama:     config.Ollama{Host: "http://localhost:11434", Model: "local-model"},
	}, "", discard, nil)
}

var itemsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"items": map[string]any{"type": "array"},
	},
}

func TestGenerate(t *testing.T) {
	t.Run("rejects empty prompt", func(t *testing.T) {
		remote := &fakeClient{responses: []string{"x"}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		_, err := e.Generate(context.Background(), Request{UserPrompt: "   "})
		var perr *proto.Error
		require.True(t, errors.As(err, &perr))
		require.Equal(t, proto.KindValidation, perr.Kind)
		require.Zero(t, remote.calls)
	})

	t.Run("raw text without schema", func(t *testing.T) {
		remote := &fakeClient{responses: []string{"```\nplain answer\n```"}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		got, err := e.Generate(context.Background(), Request{UserPrompt: "explain ser vs estar"})
		require.NoError(t, err)
		require.Equal(t, "plain answer", got)
	})

	t.Run("parses fenced structured output", func(t *testing.T) {
		remote := &fakeClient{responses: []string{"```json\n{\"word\":\"hund\"}\n```"}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		got, err := e.Generate(context.Background(), Request{
			UserPrompt:     "translate dog",
			ResponseSchema: map[string]any{"type": "object"},
		})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"word": "hund"}, got)
	})

	t.Run("token cap forwarded from config", func(t *testing.T) {
		remote := &fakeClient{responses: []string{"ok"}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		_, err := e.Generate(context.Background(), Request{UserPrompt: "hi"})
		require.NoError(t, err)
		require.EqualValues(t, 512, remote.last.MaxTokens)
	})

	t.Run("dispatches to local provider", func(t *testing.T) {
		remote := &fakeClient{responses: []string{"remote"}}
		local := &fakeClient{responses: []string{"local"}}
		e := New(testStore(config.ProviderOllama), discard, remote, local, 0)

		got, err := e.Generate(context.Background(), Request{UserPrompt: "hi"})
		require.NoError(t, err)
		require.Equal(t, "local", got)
		require.Zero(t, remote.calls)
		require.Equal(t, 1, local.calls)
	})

	t.Run("provider error passes through", func(t *testing.T) {
		remote := &fakeClient{err: proto.Upstream(502, "bad gateway", nil)}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		_, err := e.Generate(context.Background(), Request{UserPrompt: "hi"})
		var perr *proto.Error
		require.True(t, errors.As(err, &perr))
		require.Equal(t, proto.KindUpstream, perr.Kind)
	})

	t.Run("salvages truncated item list", func(t *testing.T) {
		remote := &fakeClient{responses: []string{`{"items":[{"a":1},{"a":2},{"a":3`}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		got, err := e.Generate(context.Background(), Request{
			UserPrompt:     "make exercises",
			ResponseSchema: itemsSchema,
		})
		require.NoError(t, err)
		require.Equal(t, map[string]any{
			"items": []any{
				map[string]any{"a": float64(1)},
				map[string]any{"a": float64(2)},
			},
		}, got)
	})

	t.Run("malformed output without salvageable items", func(t *testing.T) {
		remote := &fakeClient{responses: []string{"total garbage {{{"}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		_, err := e.Generate(context.Background(), Request{
			UserPrompt:     "make exercises",
			ResponseSchema: itemsSchema,
		})
		var perr *proto.Error
		require.True(t, errors.As(err, &perr))
		require.Equal(t, proto.KindMalformed, perr.Kind)
		require.Contains(t, perr.Detail, "total garbage")
	})

	t.Run("non-items schema never salvages", func(t *testing.T) {
		remote := &fakeClient{responses: []string{`{"items":[{"a":1}],broken`}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		_, err := e.Generate(context.Background(), Request{
			UserPrompt:     "explain",
			ResponseSchema: map[string]any{"type": "object"},
		})
		var perr *proto.Error
		require.True(t, errors.As(err, &perr))
		require.Equal(t, proto.KindMalformed, perr.Kind)
	})
}

func TestGenerateCaching(t *testing.T) {
	request := Request{
		UserPrompt:     `Recommend exercises for the topic: "travel".`,
		ResponseSchema: map[string]any{"type": "object"},
		SchemaName:     "topic_recommendations",
	}

	t.Run("second identical request hits the cache", func(t *testing.T) {
		remote := &fakeClient{responses: []string{`{"topics":["a"]}`}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		first, err := e.Generate(context.Background(), request)
		require.NoError(t, err)
		second, err := e.Generate(context.Background(), request)
		require.NoError(t, err)
		require.Equal(t, first, second)
		require.Equal(t, 1, remote.calls)
		require.Equal(t, 1, e.CacheStats().Size)
	})

	t.Run("model change misses", func(t *testing.T) {
		store := testStore(config.ProviderOpenRouter)
		remote := &fakeClient{responses: []string{`{"topics":["a"]}`, `{"topics":["b"]}`}}
		e := New(store, discard, remote, &fakeClient{}, 0)

		_, err := e.Generate(context.Background(), request)
		require.NoError(t, err)

		model := "other-model"
		store.Apply(config.Update{OpenRouterModel: &model})
		_, err = e.Generate(context.Background(), request)
		require.NoError(t, err)
		require.Equal(t, 2, remote.calls)
	})

	t.Run("non-cacheable schema name bypasses cache", func(t *testing.T) {
		remote := &fakeClient{responses: []string{`{"a":1}`}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		r := request
		r.SchemaName = "explanation"
		_, err := e.Generate(context.Background(), r)
		require.NoError(t, err)
		_, err = e.Generate(context.Background(), r)
		require.NoError(t, err)
		require.Equal(t, 2, remote.calls)
	})

	t.Run("prompt without topic bypasses cache", func(t *testing.T) {
		remote := &fakeClient{responses: []string{`{"a":1}`}}
		e := New(testStore(config.ProviderOpenRouter), discard, remote, &fakeClient{}, 0)

		r := request
		r.UserPrompt = "recommend something"
		_, err := e.Generate(context.Background(), r)
		require.NoError(t, err)
		_, err = e.Generate(context.Background(), r)
		require.NoError(t, err)
		require.Equal(t, 2, remote.calls)
	})
}
