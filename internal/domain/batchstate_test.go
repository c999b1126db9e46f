package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBatchStatusIsValid(t *testing.T) {
	t.Parallel()

	for _, s := range []BatchStatus{
		StatusPending, StatusRunning, StatusCompleted, StatusFailed,
		StatusPartial, StatusSkipped, StatusCancelled,
	} {
		if !s.IsValid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if BatchStatus("BOGUS").IsValid() {
		t.Fatal("BOGUS should not be valid")
	}
}

func TestBatchStatusRetryable(t *testing.T) {
	t.Parallel()

	retryable := map[BatchStatus]bool{
		StatusPending:   true,
		StatusFailed:    true,
		StatusPartial:   true,
		StatusRunning:   false,
		StatusCompleted: false,
		StatusSkipped:   false,
		StatusCancelled: false,
	}
	for status, want := range retryable {
		if got := status.Retryable(); got != want {
			t.Fatalf("%s.Retryable() = %v, want %v", status, got, want)
		}
	}
}

func TestNormalizeDay(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2026, 3, 15, 2, 30, 0, 0, loc) // 2026-03-14 21:30 UTC
	got := NormalizeDay(in)
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NormalizeDay(%v) = %v, want %v", in, got, want)
	}
	if got.Location() != time.UTC {
		t.Fatal("normalized day must be in UTC")
	}
}

func TestCanRetry(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	for _, tc := range []struct {
		name       string
		status     BatchStatus
		retryCount int
		retryAfter *time.Time
		want       bool
	}{
		{"fresh failed", StatusFailed, 0, nil, true},
		{"partial", StatusPartial, 1, nil, true},
		{"pending", StatusPending, 0, nil, true},
		{"retries exhausted", StatusFailed, 3, nil, false},
		{"backoff pending", StatusFailed, 1, &future, false},
		{"backoff elapsed", StatusFailed, 1, &past, true},
		{"completed", StatusCompleted, 0, nil, false},
		{"running", StatusRunning, 0, nil, false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewBatchState(now, 3, now)
			s.Status = tc.status
			s.RetryCount = tc.retryCount
			s.RetryAfter = tc.retryAfter
			if got := s.CanRetry(now); got != tc.want {
				t.Fatalf("CanRetry() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsStuck(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	recent := now.Add(-time.Hour)
	old := now.Add(-3 * time.Hour)

	s := NewBatchState(now, 3, now)
	if s.IsStuck(now) {
		t.Fatal("pending batch cannot be stuck")
	}

	s.Status = StatusRunning
	if s.IsStuck(now) {
		t.Fatal("running batch without start timestamp cannot be stuck")
	}

	s.StartedAt = &recent
	if s.IsStuck(now) {
		t.Fatal("batch under the threshold must not be stuck")
	}

	s.StartedAt = &old
	if !s.IsStuck(now) {
		t.Fatal("batch over the threshold must be stuck")
	}
}

func TestSetErrorTruncatesLongMessages(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewBatchState(now, 3, now)
	long := strings.Repeat("x", 6000)

	s.SetError(errors.New(long), "evaluate", now)

	if s.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", s.Status)
	}
	if len(s.ErrorMessage) != maxErrorMessageLen {
		t.Fatalf("error message length = %d, want %d", len(s.ErrorMessage), maxErrorMessageLen)
	}
	if s.ErrorType != "evaluate" {
		t.Fatalf("error type = %q, want evaluate", s.ErrorType)
	}
	if s.FailedAt == nil {
		t.Fatal("failure timestamp must be set")
	}
}

func TestSetErrorDefaultsErrorType(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewBatchState(now, 3, now)
	s.SetError(errors.New("boom"), "", now)
	if s.ErrorType != "error" {
		t.Fatalf("error type = %q, want error", s.ErrorType)
	}
}

func TestIncrementRetry(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewBatchState(now, 3, now)

	s.IncrementRetry(now)
	s.IncrementRetry(now)

	if s.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", s.RetryCount)
	}
	if s.LastRetryAt == nil {
		t.Fatal("last retry timestamp must be set")
	}
}

func TestProgressPercent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewBatchState(now, 3, now)
	if got := s.ProgressPercent(); got != 0 {
		t.Fatalf("empty batch progress = %v, want 0", got)
	}

	s.TotalPairs = 200
	s.ProcessedPairs = 50
	if got := s.ProgressPercent(); got != 25 {
		t.Fatalf("progress = %v, want 25", got)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewBatchState(now, 3, now)
	if _, ok := s.Duration(); ok {
		t.Fatal("duration must be unknown before start")
	}

	started := now.Add(-10 * time.Minute)
	s.StartedAt = &started
	if _, ok := s.Duration(); ok {
		t.Fatal("duration must be unknown before a terminal timestamp")
	}

	s.CompletedAt = &now
	d, ok := s.Duration()
	if !ok || d != 10*time.Minute {
		t.Fatalf("duration = %v ok=%v, want 10m", d, ok)
	}

	s.CompletedAt = nil
	s.FailedAt = &now
	if d, ok := s.Duration(); !ok || d != 10*time.Minute {
		t.Fatalf("failed duration = %v ok=%v, want 10m", d, ok)
	}
}

func TestNewBatchStateDefaults(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewBatchState(now, 0, now)
	if s.MaxRetries != DefaultMaxRetries {
		t.Fatalf("max retries = %d, want %d", s.MaxRetries, DefaultMaxRetries)
	}
	if s.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", s.Status)
	}
	if !s.Day.Equal(NormalizeDay(now)) {
		t.Fatalf("day = %v, want normalized %v", s.Day, NormalizeDay(now))
	}
}
