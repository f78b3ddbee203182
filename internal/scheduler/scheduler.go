// Package scheduler implements the bounded ingress queue and worker pool that
// drive per-message pipeline execution.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeinfer/orchestrator/internal/message"
	"github.com/edgeinfer/orchestrator/internal/metrics"
	"github.com/edgeinfer/orchestrator/internal/pipeline"
)

// QueueCapacity is the fixed depth of the ingress FIFO.
const QueueCapacity = 1024

type queueItem struct {
	pipelineID string
	msg        *message.Message
}

// Scheduler owns the ingress queue and the worker set draining it.
type Scheduler struct {
	pipelines map[string]*pipeline.Pipeline
	metrics   *metrics.Registry

	queue chan queueItem
	wg    sync.WaitGroup
}

// New builds a scheduler over the given pipeline set. Worker count is
// max(2, len(pipelines)).
func New(pipelines map[string]*pipeline.Pipeline, m *metrics.Registry) *Scheduler {
	return &Scheduler{
		pipelines: pipelines,
		metrics:   m,
		queue:     make(chan queueItem, QueueCapacity),
	}
}

func (s *Scheduler) workerCount() int {
	n := len(s.pipelines)
	if n < 2 {
		n = 2
	}
	return n
}

// Start launches the worker pool. ctx cancellation does not itself stop
// workers; Stop drives the cooperative sentinel-based shutdown instead, so an
// in-flight pipeline run is never killed mid-message.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workerCount(); i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}
}

// Enqueue is the single ingress callback every connector calls. It rejects a
// message whose routing hint is absent or names no pipeline, and otherwise
// performs a non-blocking enqueue, dropping with reason queue_full if the
// queue is at capacity. Enqueue never blocks and never suspends.
func (s *Scheduler) Enqueue(msg *message.Message) {
	if !msg.HasPipelineHint() {
		s.metrics.RecordDropped("", metrics.ReasonUnmapped)
		return
	}

	pipelineID := msg.PipelineHint
	if _, ok := s.pipelines[pipelineID]; !ok {
		s.metrics.RecordDropped(pipelineID, metrics.ReasonUnregistered)
		return
	}

	select {
	case s.queue <- queueItem{pipelineID: pipelineID, msg: msg}:
		s.metrics.RecordIngress(pipelineID)
		s.metrics.SetQueueDepth(len(s.queue))
	default:
		s.metrics.RecordDropped(pipelineID, metrics.ReasonQueueFull)
	}
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	for item := range s.queue {
		if item.msg == nil {
			// Sentinel: drain and exit.
			return
		}
		s.metrics.SetQueueDepth(len(s.queue))
		s.runOne(ctx, item)
	}
}

func (s *Scheduler) runOne(ctx context.Context, item queueItem) {
	p := s.pipelines[item.pipelineID]

	if p.DeadlineMS > 0 && item.msg.AgeMS() > float64(p.DeadlineMS) {
		s.metrics.RecordDropped(item.pipelineID, metrics.ReasonDeadline)
		return
	}

	if err := p.Run(ctx, item.msg); err != nil {
		slog.Error("pipeline execution failed", "pipeline", item.pipelineID, "sensor", item.msg.SensorID, "error", err)
		s.metrics.RecordDropped(item.pipelineID, metrics.ReasonException)
		return
	}

	s.metrics.ObserveLatency(item.pipelineID, item.msg.AgeMS())
}

// Stop pushes one sentinel per worker, waits for every worker to drain and
// exit, then returns; if the workers have not exited after 30 seconds it logs
// a warning and returns anyway. Connectors must already be stopped by the caller before
// Stop is invoked, per the orchestrator's shutdown order.
func (s *Scheduler) Stop() {
	for i := 0; i < s.workerCount(); i++ {
		s.queue <- queueItem{}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("scheduler shutdown timed out waiting for workers to drain")
	}
}
