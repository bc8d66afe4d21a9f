// Package worker drains the job queue: evaluation cycles requested over the
// API or by the periodic schedule, and the evidence retention purge.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kalambet/fcsentinel/internal/observability"
	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/storage"
)

// Job types.
const (
	JobEvaluateCycle = "evaluate_cycle"
	JobPurgeEvidence = "purge_evidence"
)

// JobStore abstracts the job queue and the purge.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) (string, error)
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetJob(ctx context.Context, id string) (storage.Job, error)
	PurgeEvidence(ctx context.Context, before time.Time) (int64, error)
}

// CycleRunner runs one evaluation cycle.
type CycleRunner interface {
	Run(ctx context.Context, emit func(pipeline.Row)) (pipeline.Result, error)
}

type Config struct {
	Poll time.Duration // queue poll interval, default 500ms
	// Interval schedules a cycle and a purge every tick. 0 disables it.
	Interval    time.Duration
	Retention   time.Duration // evidence older than this is purged, default 24h
	MaxAttempts int           // per cycle job, default 3
}

// Worker processes jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	runner  CycleRunner
	metrics *observability.Metrics
	clock   clockwork.Clock
	cfg     Config
	logger  *slog.Logger

	lastScheduled string // id of the last cycle job the ticker enqueued
}

func New(store JobStore, runner CycleRunner, metrics *observability.Metrics, clock clockwork.Clock, cfg Config) *Worker {
	if cfg.Poll <= 0 {
		cfg.Poll = 500 * time.Millisecond
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		store:   store,
		runner:  runner,
		metrics: metrics,
		clock:   clock,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. With a schedule configured it
// also enqueues a cycle and a purge at start and on every tick.
func (w *Worker) Run(ctx context.Context) {
	var tick <-chan time.Time
	if w.cfg.Interval > 0 {
		ticker := w.clock.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.Chan()
		w.Schedule(ctx)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.Schedule(ctx)
		case <-w.clock.After(w.cfg.Poll):
		}
	}
}

// EnqueueCycle queues an evaluation cycle and returns the job id.
func (w *Worker) EnqueueCycle(ctx context.Context) (string, error) {
	return w.store.EnqueueJob(ctx, storage.Job{Type: JobEvaluateCycle, MaxAttempts: w.cfg.MaxAttempts})
}

// EnqueuePurge queues an evidence retention purge.
func (w *Worker) EnqueuePurge(ctx context.Context) (string, error) {
	return w.store.EnqueueJob(ctx, storage.Job{Type: JobPurgeEvidence, MaxAttempts: 1})
}

// Schedule enqueues the periodic cycle and purge. A new cycle is skipped
// while the previously scheduled one is still queued or running.
func (w *Worker) Schedule(ctx context.Context) {
	if w.lastScheduled != "" {
		job, err := w.store.GetJob(ctx, w.lastScheduled)
		if err == nil && (job.Status == storage.JobPending || job.Status == storage.JobRunning) {
			w.logger.Debug("previous scheduled cycle still in progress, skipping", "job_id", job.ID)
			return
		}
	}
	id, err := w.EnqueueCycle(ctx)
	if err != nil {
		w.logger.Error("scheduling cycle failed", "error", err)
		return
	}
	w.lastScheduled = id
	if _, err := w.EnqueuePurge(ctx); err != nil {
		w.logger.Error("scheduling purge failed", "error", err)
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobEvaluateCycle, JobPurgeEvidence})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		// The job must be released even when ctx is already gone.
		if failErr := w.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobEvaluateCycle:
		res, err := w.runner.Run(ctx, nil)
		if err != nil {
			return fmt.Errorf("cycle %s: %w", res.CycleID, err)
		}
		w.logger.Info("scheduled cycle done", "job_id", job.ID, "cycle_id", res.CycleID,
			"evaluated", res.Evaluated, "failed", res.Failed)
		return nil
	case JobPurgeEvidence:
		before := w.clock.Now().Add(-w.cfg.Retention)
		n, err := w.store.PurgeEvidence(ctx, before)
		if err != nil {
			return err
		}
		w.metrics.EvidencePurged.Add(float64(n))
		if n > 0 {
			w.logger.Info("purged expired evidence", "records", n, "before", before)
		}
		return nil
	}
	return errors.New("unknown job type " + job.Type)
}
