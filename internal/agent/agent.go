// Package agent defines the decision-stage interface and the shared registry
// pipelines resolve their agent lists against.
//
// The registry shape (fail-fast on duplicate registration, read-only once
// built) is grounded on pkg/plugins.Registry; agents are keyed by name rather
// than matched by priority since a pipeline names its agents explicitly.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeinfer/orchestrator/internal/action"
	"github.com/edgeinfer/orchestrator/internal/message"
)

// Agent is a pure decision stage: given a message, its postprocessed payload,
// and the inference-only latency that produced it, it returns zero or more
// actions. Handle must tolerate concurrent invocation, since a single agent
// instance is shared across every pipeline that names it.
type Agent interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Handle(ctx context.Context, msg *message.Message, payload any, latencyMS float64) ([]action.Action, error)
}

// Registry is the read-only-after-build mapping from agent id to live
// instance. Built once at startup before any worker starts; no locking is
// needed for Get once construction finishes, but Register itself is guarded
// so a misbehaving config loader fails fast rather than racing.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds agent under its own name. A duplicate name is a startup-time
// configuration error.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name()]; exists {
		return fmt.Errorf("agent: %q already registered", a.Name())
	}
	r.agents[a.Name()] = a
	return nil
}

// Get resolves a pipeline's agent id list to live instances, failing at
// startup if any name is unknown.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent: unknown agent %q", name)
	}
	return a, nil
}

// All returns every registered agent, used for startup/shutdown ordering.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}
