// Package pipeline implements the per-message transform chain: decode,
// preprocess, remote inference, postprocess, agent evaluation, and action
// dispatch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgeinfer/orchestrator/internal/agent"
	"github.com/edgeinfer/orchestrator/internal/decode"
	"github.com/edgeinfer/orchestrator/internal/dispatcher"
	"github.com/edgeinfer/orchestrator/internal/gatewaypool"
	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/plugins"
)

// Config is a pipeline's static definition, resolved once at startup.
type Config struct {
	ID          string
	Preprocess  string
	Model       string
	Postprocess string
	AgentNames  []string
	DeadlineMS  int64
	MaxParallel int
}

// Pipeline is a built, ready-to-run pipeline: refs resolved to callables,
// agent names resolved to live instances.
type Pipeline struct {
	ID          string
	DeadlineMS  int64
	preprocess  plugins.PreprocessFunc
	postprocess plugins.PostprocessFunc
	model       string
	agents      []agent.Agent
	dispatchers *dispatcher.Registry
	gateway     *gatewaypool.Pool
	sem         chan struct{} // nil when MaxParallel is unset
}

// Build resolves a Config's refs against the plugin and agent registries and
// returns a ready-to-run Pipeline. Unknown refs fail here, at startup, rather
// than per message.
func Build(cfg Config, plugs *plugins.Registry, agents *agent.Registry, dispatchers *dispatcher.Registry, gateway *gatewaypool.Pool) (*Pipeline, error) {
	p := &Pipeline{
		ID:          cfg.ID,
		DeadlineMS:  cfg.DeadlineMS,
		model:       cfg.Model,
		dispatchers: dispatchers,
		gateway:     gateway,
	}

	if cfg.Preprocess != "" {
		fn, err := plugs.Preprocess(cfg.Preprocess)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", cfg.ID, err)
		}
		p.preprocess = fn
	}
	if cfg.Postprocess != "" {
		fn, err := plugs.Postprocess(cfg.Postprocess)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", cfg.ID, err)
		}
		p.postprocess = fn
	}
	for _, name := range cfg.AgentNames {
		a, err := agents.Get(name)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", cfg.ID, err)
		}
		p.agents = append(p.agents, a)
	}
	if cfg.MaxParallel > 0 {
		p.sem = make(chan struct{}, cfg.MaxParallel)
	}

	return p, nil
}

// Run executes the full decode -> preprocess -> infer -> postprocess ->
// agents -> dispatch chain for one message.
func (p *Pipeline) Run(ctx context.Context, msg *message.Message) error {
	intermediate, err := decode.Payload(msg)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	start := time.Now()
	var agentInput any = intermediate
	var latencyMS float64

	if p.preprocess != nil {
		preproc, err := p.preprocess(msg, intermediate)
		if err != nil {
			return fmt.Errorf("preprocess: %w", err)
		}

		if p.model != "" {
			if len(preproc) == 0 {
				return fmt.Errorf("pipeline %q: model configured but preprocess produced no tensors", p.ID)
			}

			if p.sem != nil {
				select {
				case p.sem <- struct{}{}:
					defer func() { <-p.sem }()
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			resp, err := p.gateway.Infer(ctx, p.model, preproc)
			latencyMS = float64(time.Since(start).Microseconds()) / 1000.0
			if err != nil {
				return fmt.Errorf("infer: %w", err)
			}
			if resp.Status != 0 {
				return fmt.Errorf("infer: gateway returned status %d", resp.Status)
			}

			if p.postprocess != nil {
				out, err := p.postprocess(resp, msg)
				if err != nil {
					return fmt.Errorf("postprocess: %w", err)
				}
				agentInput = out
			} else {
				agentInput = resp
			}
		}
		// No model configured: inference is skipped entirely and agents see
		// the decoded intermediate, not the unused tensor descriptors.
	}

	for _, a := range p.agents {
		actions, err := a.Handle(ctx, msg, agentInput, latencyMS)
		if err != nil {
			slog.Error("agent failed", "pipeline", p.ID, "agent", a.Name(), "error", err)
			continue
		}
		for _, act := range actions {
			p.dispatchers.Dispatch(ctx, act, a.Name(), p.ID)
		}
	}

	return nil
}
