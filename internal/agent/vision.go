package agent

import (
	"context"

	"github.com/edgeinfer/orchestrator/internal/action"
	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/plugins"
)

// PersonInZoneConfig configures a PersonInZoneAgent.
type PersonInZoneConfig struct {
	PersonLabel int
	// Zone, when HasZone is set, restricts matches to detections whose bbox
	// center falls inside [x1, y1, x2, y2] in original image coordinates.
	Zone       [4]float64
	HasZone    bool
	Dispatcher string
	Target     string
}

// PersonInZoneAgent scans a YOLONMS postprocess result for detections
// carrying the configured person class label, optionally restricted to a
// zone, and emits one action carrying every match. Ported from
// orchestrator/agents/vision.py::PersonInZoneAgent.
type PersonInZoneAgent struct {
	name string
	cfg  PersonInZoneConfig
}

func NewPersonInZoneAgent(name string, cfg PersonInZoneConfig) *PersonInZoneAgent {
	if cfg.Dispatcher == "" {
		cfg.Dispatcher = "log"
	}
	return &PersonInZoneAgent{name: name, cfg: cfg}
}

func (a *PersonInZoneAgent) Name() string                   { return a.name }
func (a *PersonInZoneAgent) Start(ctx context.Context) error { return nil }
func (a *PersonInZoneAgent) Stop(ctx context.Context) error  { return nil }

func (a *PersonInZoneAgent) Handle(_ context.Context, _ *message.Message, payload any, latencyMS float64) ([]action.Action, error) {
	detections := extractDetections(payload)
	if len(detections) == 0 {
		return nil, nil
	}

	var hits []plugins.Detection
	for _, d := range detections {
		if d.Label != a.cfg.PersonLabel {
			continue
		}
		if a.cfg.HasZone && !inZone(d, a.cfg.Zone) {
			continue
		}
		hits = append(hits, d)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	return []action.Action{{
		Dispatcher: a.cfg.Dispatcher,
		Target:     a.cfg.Target,
		Payload: map[string]any{
			"detections": hits,
			"latency_ms": latencyMS,
		},
	}}, nil
}

func inZone(d plugins.Detection, zone [4]float64) bool {
	cx := (d.BBox[0] + d.BBox[2]) / 2
	cy := (d.BBox[1] + d.BBox[3]) / 2
	return cx >= zone[0] && cx <= zone[2] && cy >= zone[1] && cy <= zone[3]
}

func extractDetections(payload any) []plugins.Detection {
	switch v := payload.(type) {
	case map[string]any:
		if dets, ok := v["detections"].([]plugins.Detection); ok {
			return dets
		}
		return nil
	case []plugins.Detection:
		return v
	default:
		return nil
	}
}

// SnapshotArchiveConfig configures a SnapshotArchiveAgent.
type SnapshotArchiveConfig struct {
	Dispatcher string
	Target     string
}

// SnapshotArchiveAgent emits an action carrying the raw image bytes whenever
// the postprocessed payload has one, for archiving a frame alongside a
// detection event. Ported from orchestrator/agents/vision.py::SnapshotArchiveAgent.
type SnapshotArchiveAgent struct {
	name string
	cfg  SnapshotArchiveConfig
}

func NewSnapshotArchiveAgent(name string, cfg SnapshotArchiveConfig) *SnapshotArchiveAgent {
	if cfg.Dispatcher == "" {
		cfg.Dispatcher = "log"
	}
	return &SnapshotArchiveAgent{name: name, cfg: cfg}
}

func (a *SnapshotArchiveAgent) Name() string                   { return a.name }
func (a *SnapshotArchiveAgent) Start(ctx context.Context) error { return nil }
func (a *SnapshotArchiveAgent) Stop(ctx context.Context) error  { return nil }

func (a *SnapshotArchiveAgent) Handle(_ context.Context, msg *message.Message, payload any, latencyMS float64) ([]action.Action, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, nil
	}
	image, ok := m["image"]
	if !ok || image == nil {
		return nil, nil
	}

	return []action.Action{{
		Dispatcher: a.cfg.Dispatcher,
		Target:     a.cfg.Target,
		Payload: map[string]any{
			"sensor":     msg.SensorID,
			"latency_ms": latencyMS,
			"image":      image,
		},
	}}, nil
}
