// Package dispatcher defines the outbound sink interface and its registry.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgeinfer/orchestrator/internal/action"
)

// Dispatcher carries out one action against an external system: a process
// log, a publish/subscribe bus, or an HTTP endpoint. Dispatch must be
// idempotent-safe and must never propagate an error into the pipeline; it
// logs failures itself. Close is called exactly once at shutdown.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, act action.Action, agentName, pipelineID string) error
	Close(ctx context.Context) error
}

// Registry is the name-keyed, fail-fast-on-duplicate mapping built at startup
// before any worker runs.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]Dispatcher
}

// NewRegistry returns an empty dispatcher registry.
func NewRegistry() *Registry {
	return &Registry{dispatchers: make(map[string]Dispatcher)}
}

// Register adds d under its own name, failing if the name is already taken.
func (r *Registry) Register(d Dispatcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dispatchers[d.Name()]; exists {
		return fmt.Errorf("dispatcher: %q already registered", d.Name())
	}
	r.dispatchers[d.Name()] = d
	return nil
}

// Dispatch routes act to the dispatcher it names. An unknown dispatcher name
// is logged and silently dropped; the pipeline never sees an error here.
func (r *Registry) Dispatch(ctx context.Context, act action.Action, agentName, pipelineID string) {
	r.mu.RLock()
	d, ok := r.dispatchers[act.Dispatcher]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("no dispatcher registered for action", "dispatcher", act.Dispatcher, "agent", agentName, "pipeline", pipelineID)
		return
	}
	if err := d.Dispatch(ctx, act, agentName, pipelineID); err != nil {
		slog.Error("dispatcher failed", "dispatcher", act.Dispatcher, "agent", agentName, "pipeline", pipelineID, "error", err)
	}
}

// CloseAll closes every registered dispatcher, collecting but not stopping on
// individual errors.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var firstErr error
	for name, d := range r.dispatchers {
		if err := d.Close(ctx); err != nil {
			slog.Error("dispatcher close failed", "dispatcher", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
