// Package tasks tracks fire-and-forget background work so it can be drained
// at shutdown instead of leaking past it.
package tasks

import (
	"context"
	"log/slog"
	"sync"
)

// Registry owns detached background tasks. A task's failure never reaches
// the caller that spawned it.
type Registry struct {
	wg  sync.WaitGroup
	log *slog.Logger
}

// New creates a Registry.
func New(log *slog.Logger) *Registry {
	return &Registry{log: log}
}

// Go runs fn on its own goroutine. Panics are recovered and logged.
func (r *Registry) Go(name string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("background task panicked", "task", name, "panic", p)
			}
		}()
		fn()
	}()
}

// Drain waits for all spawned tasks, or gives up when ctx expires.
func (r *Registry) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}
