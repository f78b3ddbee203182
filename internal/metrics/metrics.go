// Package metrics declares the Prometheus counters, gauges, and histograms the
// scheduling core and pipeline report to, and an optional HTTP exposition
// endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the orchestrator emits.
type Registry struct {
	IngressTotal *prometheus.CounterVec
	DroppedTotal *prometheus.CounterVec
	LatencyMS    *prometheus.HistogramVec
	QueueDepth   prometheus.Gauge
}

// NewRegistry creates and registers the orchestrator's metrics against reg.
// Passing a fresh prometheus.NewRegistry() keeps tests from colliding with the
// global default registry's package-level state.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		IngressTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_ingress_total",
				Help: "Messages accepted into the ingress queue.",
			},
			[]string{"pipeline"},
		),
		DroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_dropped_total",
				Help: "Messages discarded before or during pipeline execution.",
			},
			[]string{"pipeline", "reason"},
		),
		LatencyMS: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_latency_ms",
				Help:    "End-to-end latency from message creation to pipeline completion, in milliseconds.",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000},
			},
			[]string{"pipeline"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_queue_depth",
				Help: "Current depth of the ingress queue.",
			},
		),
	}
}

// DropReason is the closed set of reasons a message never reaches dispatch.
type DropReason string

const (
	ReasonUnmapped     DropReason = "unmapped"
	ReasonUnregistered DropReason = "unregistered"
	ReasonQueueFull    DropReason = "queue_full"
	ReasonDeadline     DropReason = "deadline"
	ReasonException    DropReason = "exception"
)

// RecordIngress marks one message accepted into the queue for pipeline.
func (r *Registry) RecordIngress(pipeline string) {
	r.IngressTotal.WithLabelValues(pipeline).Inc()
}

// RecordDropped marks one message discarded for the given reason. pipeline may
// be empty when the routing hint itself was absent (unmapped).
func (r *Registry) RecordDropped(pipeline string, reason DropReason) {
	r.DroppedTotal.WithLabelValues(pipeline, string(reason)).Inc()
}

// ObserveLatency records the end-to-end latency of a completed message.
func (r *Registry) ObserveLatency(pipeline string, ms float64) {
	r.LatencyMS.WithLabelValues(pipeline).Observe(ms)
}

// SetQueueDepth updates the current ingress queue depth gauge.
func (r *Registry) SetQueueDepth(depth int) {
	r.QueueDepth.Set(float64(depth))
}

// Server exposes the metrics registry over HTTP at /metrics. A zero port
// disables the endpoint entirely, per the metrics_port: 0 configuration knob.
type Server struct {
	httpServer *http.Server
}

// NewServer builds an exposition server bound to port. Passing port 0 returns
// a nil *Server; callers should check for nil and skip Start/Stop.
func NewServer(port int, gatherer prometheus.Gatherer) *Server {
	if port <= 0 {
		return nil
	}
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}
}

// Start begins serving /metrics in the background. Errors other than a clean
// shutdown are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics: server exited: %w", err)
		}
	}()
}

// Stop gracefully shuts down the exposition server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

