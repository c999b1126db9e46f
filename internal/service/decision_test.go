package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
)

var testDay = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func TestShouldProcessCompletedBatch(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	o := newTestOrchestrator(states, &fakePairRepo{}, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	state := domain.NewBatchState(testDay, 3, time.Now())
	state.Status = domain.StatusCompleted

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if process {
		t.Fatal("completed batch must not be processed again")
	}
	if reason != "already completed" {
		t.Fatalf("reason = %q, want %q", reason, "already completed")
	}
}

func TestShouldProcessRunningNotStuck(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	o := newTestOrchestrator(states, &fakePairRepo{}, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	now := time.Now().UTC()
	o.now = func() time.Time { return now }

	started := now.Add(-30 * time.Minute)
	state := domain.NewBatchState(testDay, 3, now)
	state.Status = domain.StatusRunning
	state.StartedAt = &started

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if process {
		t.Fatal("recently started RUNNING batch must not be reprocessed")
	}
	if !strings.HasPrefix(reason, "currently running") {
		t.Fatalf("reason = %q, want currently running prefix", reason)
	}
}

func TestShouldProcessStuckRunningBecomesFailed(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	o := newTestOrchestrator(states, &fakePairRepo{}, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	now := time.Now().UTC()
	o.now = func() time.Time { return now }

	started := now.Add(-3 * time.Hour)
	state := domain.NewBatchState(testDay, 3, now)
	state.Status = domain.StatusRunning
	state.StartedAt = &started

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if !process {
		t.Fatal("stuck RUNNING batch must be reprocessed")
	}
	if reason != "was stuck, retrying" {
		t.Fatalf("reason = %q, want %q", reason, "was stuck, retrying")
	}
	if state.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", state.Status)
	}
	if state.ErrorType != "stuck" {
		t.Fatalf("error type = %q, want stuck", state.ErrorType)
	}
	if states.updates != 1 {
		t.Fatalf("updates = %d, want 1 (stuck reclassification must persist)", states.updates)
	}
}

func TestShouldProcessMaxRetriesExceeded(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	o := newTestOrchestrator(states, &fakePairRepo{}, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	state := domain.NewBatchState(testDay, 3, time.Now())
	state.Status = domain.StatusFailed
	state.RetryCount = 3

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if process {
		t.Fatal("exhausted batch must not be processed")
	}
	if !strings.Contains(reason, "max retries") {
		t.Fatalf("reason = %q, want max retries mention", reason)
	}
}

func TestShouldProcessRetryDelayed(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	o := newTestOrchestrator(states, &fakePairRepo{}, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	now := time.Now().UTC()
	o.now = func() time.Time { return now }

	retryAfter := now.Add(10 * time.Minute)
	state := domain.NewBatchState(testDay, 3, now)
	state.Status = domain.StatusFailed
	state.RetryCount = 1
	state.RetryAfter = &retryAfter

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if process {
		t.Fatal("batch inside its backoff window must not be processed")
	}
	if !strings.HasPrefix(reason, "retry delayed") {
		t.Fatalf("reason = %q, want retry delayed prefix", reason)
	}
}

func TestShouldProcessNoData(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	pairs := &fakePairRepo{
		hasDataFn: func(ctx context.Context, day time.Time) (bool, error) { return false, nil },
	}
	o := newTestOrchestrator(states, pairs, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	state := domain.NewBatchState(testDay, 3, time.Now())

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if process {
		t.Fatal("batch without data must not be processed")
	}
	if reason != "no data available" {
		t.Fatalf("reason = %q, want %q", reason, "no data available")
	}
}

func TestShouldProcessRetryableFailedBatch(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	o := newTestOrchestrator(states, &fakePairRepo{}, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	state := domain.NewBatchState(testDay, 3, time.Now())
	state.Status = domain.StatusFailed
	state.RetryCount = 1

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if !process {
		t.Fatal("retryable failed batch must be processed")
	}
	if !strings.Contains(reason, "attempt 2/3") {
		t.Fatalf("reason = %q, want attempt 2/3 mention", reason)
	}
}

func TestShouldProcessPendingBatch(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	o := newTestOrchestrator(states, &fakePairRepo{}, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	state := domain.NewBatchState(testDay, 3, time.Now())

	process, reason, err := o.ShouldProcess(context.Background(), state)
	if err != nil {
		t.Fatalf("ShouldProcess() error = %v", err)
	}
	if !process {
		t.Fatal("fresh pending batch must be processed")
	}
	if reason != "ready for processing" {
		t.Fatalf("reason = %q, want %q", reason, "ready for processing")
	}
}

func TestShouldProcessDataProbeError(t *testing.T) {
	t.Parallel()

	states := newFakeStateRepo()
	pairs := &fakePairRepo{
		hasDataFn: func(ctx context.Context, day time.Time) (bool, error) {
			return false, errors.New("db unavailable")
		},
	}
	o := newTestOrchestrator(states, pairs, &fakeEvaluationRepo{}, &fakeJudge{}, &fakeGenerator{}, &fakeNotifier{})

	state := domain.NewBatchState(testDay, 3, time.Now())

	_, _, err := o.ShouldProcess(context.Background(), state)
	if err == nil {
		t.Fatal("expected error when data probe fails")
	}
}
