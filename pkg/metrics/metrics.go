// Package metrics provides Prometheus metrics for harvest runs.
//
// # Overview
//
// A Collector owns the harvest metric vectors and registers them on a
// caller-supplied registry, so tests and embedded runs never collide on the
// default registry:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg)
//	collector.EntityEmitted("table")
//	collector.SchemaDuration(time.Since(start))
//
// A nil *Collector is valid and records nothing.
//
// # Metrics
//
//	harvest_entities_total{kind,outcome}   outcome is emitted, filtered or failed
//	harvest_deletions_total                 deletion markers emitted
//	harvest_schema_duration_seconds         time spent per admitted schema
//	harvest_runs_total{outcome}             outcome is done or failed
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of an entity.
const (
	OutcomeEmitted  = "emitted"
	OutcomeFiltered = "filtered"
	OutcomeFailed   = "failed"
)

// Collector records harvest metrics.
type Collector struct {
	entities       *prometheus.CounterVec
	deletions      prometheus.Counter
	schemaDuration prometheus.Histogram
	runs           *prometheus.CounterVec
}

// NewCollector creates the harvest metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		entities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_entities_total",
				Help: "Total number of namespace entities by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		deletions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_deletions_total",
				Help: "Total number of deletion markers emitted",
			},
		),
		schemaDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_schema_duration_seconds",
				Help:    "Time spent harvesting one schema",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_runs_total",
				Help: "Total number of harvest runs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// EntityEmitted counts an emitted table or view.
func (c *Collector) EntityEmitted(kind string) {
	c.entity(kind, OutcomeEmitted)
}

// EntityFiltered counts an entity skipped by the filters.
func (c *Collector) EntityFiltered(kind string) {
	c.entity(kind, OutcomeFiltered)
}

// EntityFailed counts an entity that could not be read or converted.
func (c *Collector) EntityFailed(kind string) {
	c.entity(kind, OutcomeFailed)
}

func (c *Collector) entity(kind, outcome string) {
	if c == nil {
		return
	}
	c.entities.WithLabelValues(kind, outcome).Inc()
}

// DeletionEmitted counts a deletion marker.
func (c *Collector) DeletionEmitted() {
	if c == nil {
		return
	}
	c.deletions.Inc()
}

// SchemaDuration observes the time spent on one schema.
func (c *Collector) SchemaDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.schemaDuration.Observe(d.Seconds())
}

// RunFinished counts a finished run.
func (c *Collector) RunFinished(outcome string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(outcome).Inc()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Serve exposes /metrics for gatherer on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
