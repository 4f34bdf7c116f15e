package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pricewise/catalog-search/internal/progress"
)

// RunStatus is the lifecycle state of one tracked run.
type RunStatus string

// Supported run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunSummary is the aggregated view of one ingestion or backfill run.
type RunSummary struct {
	RunID      uuid.UUID     `json:"run_id"`
	Kind       progress.Kind `json:"kind"`
	Status     RunStatus     `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Records    int64         `json:"records"`
	Failed     int64         `json:"failed"`
	Note       string        `json:"note,omitempty"`

	// perRecord marks runs that report per-record events. Their batch
	// events carry roll-ups of counts already applied, so batch counters
	// are ignored to avoid double counting.
	perRecord bool
}

// RecentSink keeps the most recent run summaries in memory so the API can
// answer run-status queries without a durable backend. Record and batch
// events roll up into their run's counters.
type RecentSink struct {
	mu       sync.Mutex
	capacity int
	runs     map[[16]byte]*RunSummary
	order    [][16]byte
}

// NewRecentSink bounds the history at capacity runs; the oldest run is
// evicted first.
func NewRecentSink(capacity int) *RecentSink {
	if capacity <= 0 {
		capacity = 100
	}
	return &RecentSink{
		capacity: capacity,
		runs:     make(map[[16]byte]*RunSummary, capacity),
	}
}

// Consume implements progress.Sink.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *RecentSink) apply(evt progress.Event) {
	run, ok := s.runs[evt.RunID]
	if !ok {
		if evt.Stage != progress.StageRunStart {
			// Events for runs that started before this sink attached
			// have no anchor; drop them.
			return
		}
		run = &RunSummary{
			RunID:     evt.RunUUID(),
			Kind:      evt.Kind,
			Status:    RunRunning,
			StartedAt: evt.TS,
		}
		s.runs[evt.RunID] = run
		s.order = append(s.order, evt.RunID)
		s.evict()
		return
	}

	switch evt.Stage {
	case progress.StageRecordDone:
		run.perRecord = true
		run.Records++
		if evt.Outcome == progress.OutcomeRejected {
			run.Failed++
		}
	case progress.StageBatchDone:
		if !run.perRecord {
			run.Failed += evt.Failed
		}
	case progress.StageRunDone:
		ts := evt.TS
		run.Status = RunSuccess
		run.FinishedAt = &ts
		if evt.Records > run.Records {
			run.Records = evt.Records
		}
	case progress.StageRunError:
		ts := evt.TS
		run.Status = RunError
		run.FinishedAt = &ts
		run.Note = evt.Note
	}
}

func (s *RecentSink) evict() {
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
	}
}

// List returns up to limit summaries, newest first, optionally filtered by
// kind ("" matches all).
func (s *RecentSink) List(kind progress.Kind, limit int) []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunSummary, 0, len(s.order))
	for _, id := range s.order {
		run := s.runs[id]
		if kind != "" && run.Kind != kind {
			continue
		}
		out = append(out, *run)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns the summary for one run.
func (s *RecentSink) Get(id uuid.UUID) (RunSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[progress.UUIDToBytes(id)]
	if !ok {
		return RunSummary{}, false
	}
	return *run, true
}

// Close implements progress.Sink.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
