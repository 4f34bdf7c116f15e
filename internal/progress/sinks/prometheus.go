package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pricewise/catalog-search/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running, per-store record outcomes and
// backfill batch counters.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   *prometheus.GaugeVec
	runRuntime    *prometheus.HistogramVec

	records       *prometheus.CounterVec
	batchRecords  *prometheus.CounterVec
	batchFailed   *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_started_total",
			Help: "Total ingest and backfill runs that have started.",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_completed_total",
			Help: "Total runs completed partitioned by kind and result.",
		}, []string{"kind", "result"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_runs_running",
			Help: "Current number of running ingest and backfill runs.",
		}, []string{"kind"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind", "result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_ingest_records_total",
			Help: "Ingested records partitioned by store and outcome.",
		}, []string{"store", "outcome"}),
		batchRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_batch_records_total",
			Help: "Records processed per completed batch, by kind.",
		}, []string{"kind"}),
		batchFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_batch_failed_total",
			Help: "Records that failed within completed batches, by kind.",
		}, []string{"kind"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_batch_duration_seconds",
			Help:    "Batch duration partitioned by kind.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.records,
		s.batchRecords,
		s.batchFailed,
		s.batchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageRecordDone:
		s.handleRecordEvent(evt)
	case progress.StageBatchDone:
		s.handleBatchEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	kind := string(evt.Kind)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.WithLabelValues(kind).Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(kind, "success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(kind, "error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.WithLabelValues(kind).Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(string(evt.Kind), label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleRecordEvent(evt progress.Event) {
	store := evt.Store
	if store == "" {
		store = "unknown"
	}
	s.records.WithLabelValues(store, string(evt.Outcome)).Inc()
}

func (s *PrometheusSink) handleBatchEvent(evt progress.Event) {
	kind := string(evt.Kind)
	if evt.Records > 0 {
		s.batchRecords.WithLabelValues(kind).Add(float64(evt.Records))
	}
	if evt.Failed > 0 {
		s.batchFailed.WithLabelValues(kind).Add(float64(evt.Failed))
	}
	if evt.Dur > 0 {
		s.batchDuration.WithLabelValues(kind).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
