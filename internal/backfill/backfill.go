// Package backfill computes embeddings for products whose vectors are
// missing or stale. A run drains the pending set in bounded batches so it
// can be canceled and resumed at any point; products whose stored model
// differs from the configured one are treated as pending too.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pricewise/catalog-search/internal/catalog"
	"github.com/pricewise/catalog-search/internal/embedding"
	"github.com/pricewise/catalog-search/internal/progress"
	"github.com/pricewise/catalog-search/internal/queue/memory"
)

// ErrBusy signals that a run is already queued or in flight.
var ErrBusy = errors.New("backfill: run already queued")

// Embedder is the slice of the embedding service the runner needs.
type Embedder interface {
	Available() bool
	Model() string
	EmbedTexts(ctx context.Context, texts []string) ([]embedding.Result, error)
}

// Job is one queued backfill trigger.
type Job struct {
	ID          uuid.UUID `json:"id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Config tunes the runner.
type Config struct {
	// BatchSize bounds how many pending products one pass loads.
	BatchSize int
	// Concurrency bounds parallel vector writes per batch.
	Concurrency int
	// QueueSize bounds how many triggers may wait; extra triggers get
	// ErrBusy so callers cannot pile up redundant runs.
	QueueSize int
}

const (
	defaultBatchSize   = 50
	defaultConcurrency = 4
	defaultQueueSize   = 1
)

// Runner consumes backfill triggers and drains the pending-embedding set.
type Runner struct {
	store    catalog.ProductRepository
	embedder Embedder
	clock    catalog.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
	cfg      Config
	jobs     *memory.Queue[Job]
}

// New wires a runner. Emitter and logger may be nil.
func New(store catalog.ProductRepository, embedder Embedder, clock catalog.Clock, emitter progress.Emitter, logger *zap.Logger, cfg Config) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:    store,
		embedder: embedder,
		clock:    clock,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
		jobs:     memory.NewQueue[Job](cfg.QueueSize),
	}
}

// Trigger queues one backfill run without blocking. It fails fast when the
// embedder has no backend configured, so callers learn immediately that a
// run could not do anything.
func (r *Runner) Trigger() (Job, error) {
	if r.embedder == nil || !r.embedder.Available() {
		return Job{}, embedding.ErrUnavailable
	}
	job := Job{ID: uuid.New(), RequestedAt: r.clock.Now()}
	if !r.jobs.TryEnqueue(job) {
		return Job{}, ErrBusy
	}
	return job, nil
}

// Run blocks, consuming triggers until the context finishes. It satisfies
// dispatcher.Runner.
func (r *Runner) Run(ctx context.Context) {
	for {
		job, err := r.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("backfill dequeue failed", zap.Error(err))
			continue
		}
		r.runJob(ctx, job)
	}
}

// Close stops accepting triggers.
func (r *Runner) Close() {
	r.jobs.Close()
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	started := r.clock.Now()
	runID := progress.UUIDToBytes(job.ID)
	r.emit(progress.Event{
		RunID: runID,
		TS:    started,
		Kind:  progress.KindBackfill,
		Stage: progress.StageRunStart,
	})

	var processed int64
	for {
		if ctx.Err() != nil {
			r.finish(runID, started, processed, fmt.Sprintf("canceled: %v", ctx.Err()))
			return
		}
		done, err := r.runBatch(ctx, runID)
		if err != nil {
			r.finish(runID, started, processed, err.Error())
			return
		}
		processed += done
		if done == 0 {
			break
		}
	}

	now := r.clock.Now()
	r.logger.Info("backfill run complete",
		zap.Int64("products", processed),
		zap.Duration("dur", now.Sub(started)))
	r.emit(progress.Event{
		RunID:   runID,
		TS:      now,
		Kind:    progress.KindBackfill,
		Stage:   progress.StageRunDone,
		Records: processed,
		Dur:     now.Sub(started),
	})
}

// runBatch embeds one batch of pending products and reports how many got a
// vector. Zero successes on a non-empty batch is treated as no progress so
// a permanently failing backend cannot spin the run forever.
func (r *Runner) runBatch(ctx context.Context, runID [16]byte) (int64, error) {
	batchStart := r.clock.Now()
	products, err := r.store.ListPendingEmbedding(ctx, r.embedder.Model(), r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	if len(products) == 0 {
		return 0, nil
	}

	texts := make([]string, len(products))
	for i, p := range products {
		texts[i] = p.SearchText
	}
	results, err := r.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}

	var (
		succeeded int64
		failed    int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	successCh := make(chan struct{}, len(products))
	for i := range products {
		p, res := products[i], results[i]
		if res.Err != nil {
			failed++
			r.logger.Warn("embedding failed",
				zap.String("product_id", p.ID.String()),
				zap.Error(res.Err))
			continue
		}
		g.Go(func() error {
			err := r.store.SetEmbedding(gctx, p.ID, p.SearchText, res.Vector, r.embedder.Model(), r.clock.Now())
			if err != nil {
				return fmt.Errorf("set embedding %s: %w", p.ID, err)
			}
			successCh <- struct{}{}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(successCh)
	for range successCh {
		succeeded++
	}

	now := r.clock.Now()
	r.emit(progress.Event{
		RunID:   runID,
		TS:      now,
		Kind:    progress.KindBackfill,
		Stage:   progress.StageBatchDone,
		Records: succeeded,
		Failed:  failed,
		Dur:     now.Sub(batchStart),
	})
	if succeeded == 0 {
		return 0, fmt.Errorf("no progress: %d of %d items failed", failed, len(products))
	}
	return succeeded, nil
}

func (r *Runner) finish(runID [16]byte, started time.Time, processed int64, note string) {
	now := r.clock.Now()
	r.logger.Warn("backfill run aborted", zap.String("reason", note))
	r.emit(progress.Event{
		RunID:   runID,
		TS:      now,
		Kind:    progress.KindBackfill,
		Stage:   progress.StageRunError,
		Records: processed,
		Dur:     now.Sub(started),
		Note:    note,
	})
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}
