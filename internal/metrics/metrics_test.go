package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRegistryRecordsIngressAndDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.RecordIngress("env")
	m.RecordIngress("env")
	m.RecordDropped("env", ReasonQueueFull)
	m.RecordDropped("", ReasonUnmapped)

	require.Equal(t, float64(2), counterValue(t, m.IngressTotal.WithLabelValues("env")))
	require.Equal(t, float64(1), counterValue(t, m.DroppedTotal.WithLabelValues("env", "queue_full")))
	require.Equal(t, float64(1), counterValue(t, m.DroppedTotal.WithLabelValues("", "unmapped")))
}

func TestNewServerDisabledAtPortZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.Nil(t, NewServer(0, reg))
}
