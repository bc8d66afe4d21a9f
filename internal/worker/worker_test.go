package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kalambet/fcsentinel/internal/observability"
	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/storage"
)

type mockRunner struct {
	calls atomic.Int32
	err   error
}

func (m *mockRunner) Run(ctx context.Context, emit func(pipeline.Row)) (pipeline.Result, error) {
	m.calls.Add(1)
	if m.err != nil {
		return pipeline.Result{CycleID: "c-err"}, m.err
	}
	return pipeline.Result{CycleID: "c-1", Evaluated: 2}, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorker_RunsCycleJob(t *testing.T) {
	store := openTestStore(t)
	runner := &mockRunner{}
	w := New(store, runner, observability.NewMetricsForTesting(), clockwork.NewFakeClock(), Config{})
	ctx := context.Background()

	id, err := w.EnqueueCycle(ctx)
	if err != nil {
		t.Fatalf("EnqueueCycle: %v", err)
	}

	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if runner.calls.Load() != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls.Load())
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.JobCompleted {
		t.Errorf("job status = %q, want %q", job.Status, storage.JobCompleted)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	w := New(openTestStore(t), &mockRunner{}, observability.NewMetricsForTesting(), nil, Config{})
	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_FailedCycleIsRetried(t *testing.T) {
	store := openTestStore(t)
	runner := &mockRunner{err: errors.New("listing fulfillment centers: database is locked")}
	w := New(store, runner, observability.NewMetricsForTesting(), nil, Config{MaxAttempts: 2})
	ctx := context.Background()

	id, _ := w.EnqueueCycle(ctx)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.JobPending || job.Attempts != 1 {
		t.Errorf("after first failure: status=%q attempts=%d, want pending/1", job.Status, job.Attempts)
	}
	if job.LastError == "" {
		t.Error("LastError should record the failure")
	}
	if !job.RunAfter.After(time.Now()) {
		t.Error("retry should be delayed by backoff")
	}

	// Backoff keeps it out of the queue for now.
	didWork, _ := w.RunOnce(ctx)
	if didWork {
		t.Error("job claimed again before its backoff elapsed")
	}
}

func TestWorker_PurgesEvidence(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	m := observability.NewMetricsForTesting()
	w := New(store, &mockRunner{}, m, clock, Config{Retention: 24 * time.Hour})
	ctx := context.Background()

	for i, age := range []time.Duration{time.Hour, 30 * time.Hour, 48 * time.Hour} {
		if _, err := store.UpsertEvidence(ctx, storage.EvidenceRecord{
			Category:  storage.CategoryNews,
			Location:  "Denver",
			Title:     "headline",
			Timestamp: now.Add(-age),
			DedupKey:  string(rune('a' + i)),
		}); err != nil {
			t.Fatalf("UpsertEvidence: %v", err)
		}
	}

	if _, err := w.EnqueuePurge(ctx); err != nil {
		t.Fatalf("EnqueuePurge: %v", err)
	}
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	left, err := store.RecentEvidence(ctx, storage.CategoryNews, "Denver", now.Add(-100*time.Hour), 0)
	if err != nil {
		t.Fatalf("RecentEvidence: %v", err)
	}
	if len(left) != 1 {
		t.Errorf("records left = %d, want 1", len(left))
	}
	if got := testutil.ToFloat64(m.EvidencePurged); got != 2 {
		t.Errorf("purged metric = %v, want 2", got)
	}
}

func TestWorker_ScheduleSkipsWhileInFlight(t *testing.T) {
	store := openTestStore(t)
	w := New(store, &mockRunner{}, observability.NewMetricsForTesting(), nil, Config{Interval: time.Minute})
	ctx := context.Background()

	w.Schedule(ctx)
	first := w.lastScheduled
	if first == "" {
		t.Fatal("Schedule did not enqueue a cycle")
	}
	w.Schedule(ctx)
	if w.lastScheduled != first {
		t.Error("a second cycle was scheduled while the first is still pending")
	}

	// Drain: one cycle and one purge.
	for i := 0; i < 2; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce error: %v", err)
		}
	}
	w.Schedule(ctx)
	if w.lastScheduled == first {
		t.Error("a new cycle should be scheduled once the previous one finished")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	runner := &mockRunner{}
	w := New(store, runner, observability.NewMetricsForTesting(), clockwork.NewFakeClock(), Config{})
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := w.EnqueueCycle(ctx); err != nil {
		t.Fatalf("EnqueueCycle: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for runner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("queued cycle was never run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
