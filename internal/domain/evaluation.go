package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EvaluationStatus is the verdict for a single transcript-summary pair.
type EvaluationStatus string

const (
	EvaluationPass  EvaluationStatus = "PASS"
	EvaluationFail  EvaluationStatus = "FAIL"
	EvaluationError EvaluationStatus = "ERROR"
)

func (s EvaluationStatus) String() string { return string(s) }

func (s EvaluationStatus) IsValid() bool {
	switch s {
	case EvaluationPass, EvaluationFail, EvaluationError:
		return true
	}
	return false
}

func ParseEvaluationStatus(s string) (EvaluationStatus, error) {
	st := EvaluationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid evaluation status %q", ErrValidation, s)
	}
	return st, nil
}

// Pair is one call transcript plus its AI-generated summary, the atomic
// evaluation unit.
type Pair struct {
	InteractionID  string
	CallID         string
	CustomerID     string
	AgentID        string
	LOB            string
	AccountNumber  string
	StartTimestamp time.Time
	Transcript     string
	Summary        string
}

func (p *Pair) Validate() error {
	if strings.TrimSpace(p.InteractionID) == "" {
		return fmt.Errorf("%w: interaction id is required", ErrValidation)
	}
	if strings.TrimSpace(p.Transcript) == "" {
		return fmt.Errorf("%w: transcript is required", ErrValidation)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return fmt.Errorf("%w: summary is required", ErrValidation)
	}
	return nil
}

// EvaluationResult is the judged outcome for one pair.
type EvaluationResult struct {
	EvaluationID    string
	BatchID         string
	InteractionID   string
	Status          EvaluationStatus
	Reason          string
	ConfidenceScore *float64

	CallID         string
	CustomerID     string
	AgentID        string
	LOB            string
	AccountNumber  string
	StartTimestamp time.Time

	EvaluatedAt     time.Time
	DurationSeconds float64
	Model           string
}

// BatchEvaluation is the aggregate outcome of judging one day's pairs.
type BatchEvaluation struct {
	BatchID        string
	EvaluationDate time.Time

	TotalEvaluations int
	Passed           int
	Failed           int
	Errors           int

	PassPercentage  float64
	FailPercentage  float64
	ErrorPercentage float64

	// Accuracy is passed/(passed+failed); evaluation errors are excluded
	// from the denominator.
	Accuracy          float64
	AverageConfidence *float64

	ProcessingSeconds float64
}

// RoundAccuracy normalizes an accuracy ratio to four decimal places.
func RoundAccuracy(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Summarize computes the aggregate statistics over a batch of results.
func Summarize(batchID string, day time.Time, results []EvaluationResult, processing time.Duration) BatchEvaluation {
	batch := BatchEvaluation{
		BatchID:           batchID,
		EvaluationDate:    NormalizeDay(day),
		TotalEvaluations:  len(results),
		ProcessingSeconds: processing.Seconds(),
	}
	if len(results) == 0 {
		return batch
	}

	var confidenceSum float64
	confidenceCount := 0
	for i := range results {
		switch results[i].Status {
		case EvaluationPass:
			batch.Passed++
		case EvaluationFail:
			batch.Failed++
		default:
			batch.Errors++
		}
		if results[i].ConfidenceScore != nil {
			confidenceSum += *results[i].ConfidenceScore
			confidenceCount++
		}
	}

	total := float64(batch.TotalEvaluations)
	batch.PassPercentage = float64(batch.Passed) / total * 100
	batch.FailPercentage = float64(batch.Failed) / total * 100
	batch.ErrorPercentage = float64(batch.Errors) / total * 100

	if evaluable := batch.Passed + batch.Failed; evaluable > 0 {
		batch.Accuracy = RoundAccuracy(float64(batch.Passed) / float64(evaluable))
	}
	if confidenceCount > 0 {
		avg := confidenceSum / float64(confidenceCount)
		batch.AverageConfidence = &avg
	}

	return batch
}

// SummaryText renders a one-line human-readable digest for logs and mail.
func (b *BatchEvaluation) SummaryText() string {
	return fmt.Sprintf("%d evaluated: %d passed, %d failed, %d errors (accuracy %.2f%%)",
		b.TotalEvaluations, b.Passed, b.Failed, b.Errors, b.Accuracy*100)
}
