package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/edgeinfer/orchestrator/internal/agent"
	"github.com/edgeinfer/orchestrator/internal/dispatcher"
	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/metrics"
	"github.com/edgeinfer/orchestrator/internal/pipeline"
	"github.com/edgeinfer/orchestrator/internal/plugins"
	"github.com/edgeinfer/orchestrator/internal/wire"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func buildTestPipeline(t *testing.T, id string, deadlineMS int64) *pipeline.Pipeline {
	t.Helper()
	agents := agent.NewRegistry()
	dispatchers := dispatcher.NewRegistry()
	plugs := plugins.NewRegistry()

	p, err := pipeline.Build(pipeline.Config{ID: id, DeadlineMS: deadlineMS}, plugs, agents, dispatchers, nil)
	require.NoError(t, err)
	return p
}

func buildFailingPipeline(t *testing.T, id string) *pipeline.Pipeline {
	t.Helper()
	agents := agent.NewRegistry()
	dispatchers := dispatcher.NewRegistry()
	plugs := plugins.NewRegistry()
	require.NoError(t, plugs.RegisterPreprocess("always_fail", func(msg *message.Message, intermediate any) ([]wire.Tensor, error) {
		return nil, assertAnError
	}))

	p, err := pipeline.Build(pipeline.Config{ID: id, Preprocess: "always_fail"}, plugs, agents, dispatchers, nil)
	require.NoError(t, err)
	return p
}

var assertAnError = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newTestScheduler(pipelines map[string]*pipeline.Pipeline) (*Scheduler, *metrics.Registry) {
	m := metrics.NewRegistry(prometheus.NewRegistry())
	return New(pipelines, m), m
}

func TestEnqueueDropsUnmappedMessage(t *testing.T) {
	s, m := newTestScheduler(map[string]*pipeline.Pipeline{})
	msg := message.New("s1", []byte(`{}`), message.EncodingJSON)
	s.Enqueue(msg)
	require.Equal(t, float64(1), counterValue(t, m.DroppedTotal.WithLabelValues("", "unmapped")))
}

func TestEnqueueDropsUnregisteredPipeline(t *testing.T) {
	s, m := newTestScheduler(map[string]*pipeline.Pipeline{})
	msg := message.New("s1", []byte(`{}`), message.EncodingJSON).WithPipeline("ghost")
	s.Enqueue(msg)
	require.Equal(t, float64(1), counterValue(t, m.DroppedTotal.WithLabelValues("ghost", "unregistered")))
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	p := buildTestPipeline(t, "p1", 0)
	s, m := newTestScheduler(map[string]*pipeline.Pipeline{"p1": p})

	// Fill the queue without starting workers so nothing drains it.
	for i := 0; i < QueueCapacity; i++ {
		s.Enqueue(message.New("s1", []byte(`{}`), message.EncodingJSON).WithPipeline("p1"))
	}
	s.Enqueue(message.New("s1", []byte(`{}`), message.EncodingJSON).WithPipeline("p1"))

	require.Equal(t, float64(1), counterValue(t, m.DroppedTotal.WithLabelValues("p1", "queue_full")))
	require.Equal(t, float64(QueueCapacity), counterValue(t, m.IngressTotal.WithLabelValues("p1")))
}

func TestSchedulerRunsMessageAndObservesLatency(t *testing.T) {
	p := buildTestPipeline(t, "p1", 0)
	s, m := newTestScheduler(map[string]*pipeline.Pipeline{"p1": p})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Enqueue(message.New("s1", []byte(`{"a":1}`), message.EncodingJSON).WithPipeline("p1"))

	require.Eventually(t, func() bool {
		h := &dto.Metric{}
		_ = m.LatencyMS.WithLabelValues("p1").(prometheus.Histogram).Write(h)
		return h.GetHistogram().GetSampleCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerDropsExpiredMessageByDeadline(t *testing.T) {
	p := buildTestPipeline(t, "p1", 10) // 10ms deadline
	s, m := newTestScheduler(map[string]*pipeline.Pipeline{"p1": p})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	msg := message.New("s1", []byte(`{}`), message.EncodingJSON).WithPipeline("p1")
	msg.Timestamp = time.Now().Add(-time.Second)
	s.Enqueue(msg)

	require.Eventually(t, func() bool {
		return counterValue(t, m.DroppedTotal.WithLabelValues("p1", "deadline")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRecordsExceptionOnPipelineError(t *testing.T) {
	p := buildFailingPipeline(t, "p1")
	s, m := newTestScheduler(map[string]*pipeline.Pipeline{"p1": p})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Enqueue(message.New("s1", []byte(`{}`), message.EncodingJSON).WithPipeline("p1"))

	require.Eventually(t, func() bool {
		return counterValue(t, m.DroppedTotal.WithLabelValues("p1", "exception")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopDrainsWorkers(t *testing.T) {
	p := buildTestPipeline(t, "p1", 0)
	s, _ := newTestScheduler(map[string]*pipeline.Pipeline{"p1": p})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	for i := 0; i < 5; i++ {
		s.Enqueue(message.New("s1", []byte(`{}`), message.EncodingJSON).WithPipeline("p1"))
	}
	s.Stop() // must return without hanging
}
