package dispatcher

import (
	"context"
	"log/slog"

	"github.com/edgeinfer/orchestrator/internal/action"
)

// LogDispatcher writes every action it receives to the structured logger, for
// debugging and audit trails.
type LogDispatcher struct {
	name string
}

// NewLogDispatcher builds a log dispatcher under the given name.
func NewLogDispatcher(name string) *LogDispatcher {
	return &LogDispatcher{name: name}
}

func (d *LogDispatcher) Name() string { return d.name }

func (d *LogDispatcher) Dispatch(_ context.Context, act action.Action, agentName, pipelineID string) error {
	slog.Info("action dispatched",
		"dispatcher", d.name,
		"pipeline", pipelineID,
		"agent", agentName,
		"target", act.Target,
		"payload", act.Payload,
		"metadata", act.Metadata,
	)
	return nil
}

func (d *LogDispatcher) Close(_ context.Context) error { return nil }
