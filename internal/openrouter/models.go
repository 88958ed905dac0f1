package openrouter

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/parloapp/lingogen/internal/cache"
)

const (
	modelsTTL     = 24 * time.Hour
	modelsCacheID = "openrouter-models"
)

// Model describes one remote-router model.
type Model struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	ContextLength       int64    `json:"context_length"`
	Pricing             Pricing  `json:"pricing"`
	SupportedParameters []string `json:"supported_parameters"`
}

// Pricing holds per-token USD prices as the router reports them, decimal
// strings.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Structured reports whether the model accepts schema-constrained output.
func (m Model) Structured() bool {
	return slices.Contains(m.SupportedParameters, "structured_outputs") ||
		slices.Contains(m.SupportedParameters, "response_format")
}

// Free reports whether the model costs nothing to call.
func (m Model) Free() bool {
	if strings.HasSuffix(m.ID, ":free") {
		return true
	}
	return isZero(m.Pricing.Prompt) && isZero(m.Pricing.Completion)
}

func isZero(price string) bool {
	if price == "" {
		return false
	}
	for _, r := range price {
		if r != '0' && r != '.' {
			return false
		}
	}
	return true
}

// ListFilter narrows a model listing.
type ListFilter struct {
	StructuredOnly bool
	FreeOnly       bool
}

type modelsEntry struct {
	FetchedAt time.Time
	Models    []Model
}

type modelsCache struct {
	mu    sync.Mutex
	entry *modelsEntry
	file  *cache.Expiring[modelsEntry]
}

// SetModelsDir enables the file-backed models cache so a fresh process can
// reuse a list fetched by a previous one.
func (c *Client) SetModelsDir(dir string) error {
	file, err := cache.NewExpiring[modelsEntry](dir)
	if err != nil {
		return err
	}
	c.models.file = file
	return nil
}

// Models returns the router's model list, fetching at most once per
// [modelsTTL].
func (c *Client) Models(ctx context.Context, filter ListFilter) ([]Model, error) {
	c.models.mu.Lock()
	defer c.models.mu.Unlock()

	entry := c.models.entry
	if entry == nil && c.models.file != nil {
		var stored modelsEntry
		if err := c.models.file.Read(modelsCacheID, &stored); err == nil {
			entry = &stored
		}
	}
	if entry == nil || time.Since(entry.FetchedAt) >= modelsTTL {
		fetched, err := c.fetchModels(ctx)
		if err != nil {
			return nil, err
		}
		entry = &modelsEntry{FetchedAt: time.Now(), Models: fetched}
		if c.models.file != nil {
			if werr := c.models.file.Write(modelsCacheID, entry.FetchedAt.Add(modelsTTL).Unix(), entry); werr != nil {
				c.log.Debug("could not persist models cache", "error", werr)
			}
		}
	}
	c.models.entry = entry

	return filterModels(entry.Models, filter), nil
}

func (c *Client) fetchModels(ctx context.Context) ([]Model, error) {
	var out struct {
		Data []Model `json:"data"`
	}
	if err := c.getJSON(ctx, c.store.Get(), "/models", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func filterModels(models []Model, filter ListFilter) []Model {
	result := make([]Model, 0, len(models))
	for _, m := range models {
		if filter.StructuredOnly && !m.Structured() {
			continue
		}
		if filter.FreeOnly && !m.Free() {
			continue
		}
		result = append(result, m)
	}
	return result
}
