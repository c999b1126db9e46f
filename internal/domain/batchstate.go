package domain

import (
	"time"
)

// BatchStatus represents the execution state of one day's evaluation batch.
type BatchStatus string

const (
	StatusPending   BatchStatus = "PENDING"
	StatusRunning   BatchStatus = "RUNNING"
	StatusCompleted BatchStatus = "COMPLETED"
	StatusFailed    BatchStatus = "FAILED"
	StatusPartial   BatchStatus = "PARTIAL"
	StatusSkipped   BatchStatus = "SKIPPED"
	StatusCancelled BatchStatus = "CANCELLED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed,
		StatusPartial, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further processing is expected for this status.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// Retryable reports whether a batch in this status may be re-attempted.
func (s BatchStatus) Retryable() bool {
	switch s {
	case StatusFailed, StatusPartial, StatusPending:
		return true
	}
	return false
}

const (
	// DefaultMaxRetries bounds automatic re-attempts per day.
	DefaultMaxRetries = 3

	// StuckThreshold is the runtime after which a RUNNING batch is presumed crashed.
	StuckThreshold = 2 * time.Hour

	maxErrorMessageLen = 5000
)

// NormalizeDay truncates a timestamp to the start of its UTC calendar day.
// All batch state records are keyed by the normalized value.
func NormalizeDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// BatchState is the durable record of one calendar day's execution attempt.
type BatchState struct {
	Day     time.Time
	BatchID string

	Status         BatchStatus
	PreviousStatus BatchStatus

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time

	RetryCount  int
	MaxRetries  int
	LastRetryAt *time.Time
	RetryAfter  *time.Time

	ErrorMessage string
	ErrorType    string

	TotalPairs            int
	ProcessedPairs        int
	SuccessfulEvaluations int
	ErrorEvaluations      int
	Passed                int
	Failed                int
	Accuracy              *float64

	ReportPath      string
	ReportGenerated bool
	EmailSent       bool
	EmailRecipients []string

	IsRecovery          bool
	RecoveryTriggeredBy string
	RecoveryAttempted   bool
	RecoveryCount       int

	Metadata map[string]string
}

// NewBatchState builds a fresh PENDING state for the given day.
func NewBatchState(day time.Time, maxRetries int, now time.Time) *BatchState {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &BatchState{
		Day:        NormalizeDay(day),
		Status:     StatusPending,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
		MaxRetries: maxRetries,
		Metadata:   map[string]string{},
	}
}

// CanRetry reports whether this batch may be re-attempted at the given instant.
func (s *BatchState) CanRetry(now time.Time) bool {
	if s.RetryCount >= s.MaxRetries {
		return false
	}
	if s.RetryAfter != nil && now.Before(*s.RetryAfter) {
		return false
	}
	return s.Status.Retryable()
}

// IsStuck reports whether a RUNNING batch has exceeded the stuck threshold.
func (s *BatchState) IsStuck(now time.Time) bool {
	if s.Status != StatusRunning || s.StartedAt == nil {
		return false
	}
	return now.Sub(*s.StartedAt) > StuckThreshold
}

// SetError marks the batch FAILED and records error details from err.
func (s *BatchState) SetError(err error, errorType string, now time.Time) {
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	s.ErrorMessage = msg
	if errorType == "" {
		errorType = "error"
	}
	s.ErrorType = errorType
	failedAt := now.UTC()
	s.FailedAt = &failedAt
	s.Status = StatusFailed
}

// IncrementRetry bumps the retry counter and stamps the attempt time.
func (s *BatchState) IncrementRetry(now time.Time) {
	s.RetryCount++
	t := now.UTC()
	s.LastRetryAt = &t
}

// ProgressPercent returns processed/total as a percentage, 0 when empty.
func (s *BatchState) ProgressPercent() float64 {
	if s.TotalPairs == 0 {
		return 0
	}
	return float64(s.ProcessedPairs) / float64(s.TotalPairs) * 100
}

// Duration returns elapsed processing time once a terminal timestamp exists.
func (s *BatchState) Duration() (time.Duration, bool) {
	if s.StartedAt == nil {
		return 0, false
	}
	end := s.CompletedAt
	if end == nil {
		end = s.FailedAt
	}
	if end == nil {
		return 0, false
	}
	return end.Sub(*s.StartedAt), true
}

// SetMetadata records a free-form diagnostic annotation.
func (s *BatchState) SetMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	s.Metadata[key] = value
}
