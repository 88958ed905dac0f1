// Package proto holds the shared generation contract.
package proto

import "context"

// Roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Request is a structured generation request.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int64
	Schema       map[string]any
	SchemaName   string
}

// Client is a completion backend.
type Client interface {
	// Complete submits the prompt pair and returns the raw completion text.
	Complete(ctx context.Context, request Request) (string, error)
}
