package agent

import (
	"context"

	"github.com/edgeinfer/orchestrator/internal/action"
	"github.com/edgeinfer/orchestrator/internal/message"
)

// ThresholdConfig configures a ThresholdAgent.
type ThresholdConfig struct {
	Metric     string
	Threshold  float64
	Dispatcher string
	Target     string
}

// ThresholdAgent gates a single numeric field of the postprocessed payload
// against a configured threshold, emitting one action when the metric meets
// or exceeds it. Ported from orchestrator/agents/threshold.py.
type ThresholdAgent struct {
	name string
	cfg  ThresholdConfig
}

// NewThresholdAgent returns a ThresholdAgent, defaulting Metric to "value"
// and Dispatcher to "log" when unset, matching the Python original's
// defaults.
func NewThresholdAgent(name string, cfg ThresholdConfig) *ThresholdAgent {
	if cfg.Metric == "" {
		cfg.Metric = "value"
	}
	if cfg.Dispatcher == "" {
		cfg.Dispatcher = "log"
	}
	return &ThresholdAgent{name: name, cfg: cfg}
}

func (a *ThresholdAgent) Name() string                   { return a.name }
func (a *ThresholdAgent) Start(ctx context.Context) error { return nil }
func (a *ThresholdAgent) Stop(ctx context.Context) error  { return nil }

func (a *ThresholdAgent) Handle(_ context.Context, msg *message.Message, payload any, _ float64) ([]action.Action, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, nil
	}
	current, ok := numericValue(m[a.cfg.Metric])
	if !ok {
		return nil, nil
	}
	if current < a.cfg.Threshold {
		return nil, nil
	}

	return []action.Action{{
		Dispatcher: a.cfg.Dispatcher,
		Target:     a.cfg.Target,
		Payload: map[string]any{
			"metric":    a.cfg.Metric,
			"value":     current,
			"threshold": a.cfg.Threshold,
			"sensor":    msg.SensorID,
		},
	}}, nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
