package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/parloapp/lingogen/internal/openrouter"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	generation_id TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_created_at ON usage_records (created_at);
`

// ledger persists per-generation usage and cost records reported by the
// remote router, so spend can be reviewed after the fact.
type ledger struct {
	db *sqlx.DB
}

type usageRecord struct {
	ID               int64     `db:"id" json:"-"`
	GenerationID     string    `db:"generation_id" json:"generationId"`
	Model            string    `db:"model" json:"model"`
	PromptTokens     int64     `db:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int64     `db:"completion_tokens" json:"completionTokens"`
	Cost             float64   `db:"cost_usd" json:"costUsd"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

func openLedger(path string) (*ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("migrate usage ledger: %w", err)
	}
	return &ledger{db: db}, nil
}

func (l *ledger) Record(u openrouter.Usage) error {
	_, err := l.db.NamedExec(`
		INSERT INTO usage_records (generation_id, model, prompt_tokens, completion_tokens, cost_usd, created_at)
		VALUES (:generation_id, :model, :prompt_tokens, :completion_tokens, :cost_usd, :created_at)`,
		usageRecord{
			GenerationID:     u.GenerationID,
			Model:            u.Model,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			Cost:             u.Cost,
			CreatedAt:        time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Recent returns up to n usage records, newest first.
func (l *ledger) Recent(n int) ([]usageRecord, error) {
	if n <= 0 {
		n = 50
	}
	records := []usageRecord{}
	if err := l.db.Select(&records, `
		SELECT * FROM usage_records ORDER BY created_at DESC, id DESC LIMIT ?`, n); err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	return records, nil
}

func (l *ledger) Close() error {
	return l.db.Close()
}
