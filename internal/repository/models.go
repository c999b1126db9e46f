package repository

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
)

// BatchStateModel is the persistence model for the batch_states table.
// Exactly one row exists per normalized calendar day.
type BatchStateModel struct {
	Day     time.Time `gorm:"type:date;primaryKey"`
	BatchID string    `gorm:"type:varchar(64)"`

	Status         domain.BatchStatus `gorm:"type:varchar(20);not null"`
	PreviousStatus domain.BatchStatus `gorm:"type:varchar(20)"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time

	RetryCount  int `gorm:"not null;default:0"`
	MaxRetries  int `gorm:"not null;default:3"`
	LastRetryAt *time.Time
	RetryAfter  *time.Time

	ErrorMessage string `gorm:"type:text"`
	ErrorType    string `gorm:"type:varchar(128)"`

	TotalPairs            int `gorm:"not null;default:0"`
	ProcessedPairs        int `gorm:"not null;default:0"`
	SuccessfulEvaluations int `gorm:"not null;default:0"`
	ErrorEvaluations      int `gorm:"not null;default:0"`
	Passed                int `gorm:"not null;default:0"`
	Failed                int `gorm:"not null;default:0"`
	Accuracy              *float64

	ReportPath      string `gorm:"type:text"`
	ReportGenerated bool   `gorm:"not null;default:false"`
	EmailSent       bool   `gorm:"not null;default:false"`
	EmailRecipients string `gorm:"type:text"`

	IsRecovery          bool   `gorm:"not null;default:false"`
	RecoveryTriggeredBy string `gorm:"type:varchar(128)"`
	RecoveryAttempted   bool   `gorm:"not null;default:false"`
	RecoveryCount       int    `gorm:"not null;default:0"`

	Metadata string `gorm:"type:jsonb;default:'{}'"`
}

func (BatchStateModel) TableName() string {
	return "batch_states"
}

// CallRecordModel is the persistence model for the call_records table,
// the source of transcript-summary pairs.
type CallRecordModel struct {
	InteractionID  string    `gorm:"type:varchar(64);primaryKey"`
	CallID         string    `gorm:"type:varchar(64);not null"`
	CustomerID     string    `gorm:"type:varchar(64)"`
	AgentID        string    `gorm:"type:varchar(64)"`
	LOB            string    `gorm:"type:varchar(64);column:lob"`
	AccountNumber  string    `gorm:"type:varchar(64)"`
	StartTimestamp time.Time `gorm:"not null"`
	Transcript     string    `gorm:"type:text;not null"`
	Summary        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time
}

func (CallRecordModel) TableName() string {
	return "call_records"
}

// EvaluationModel is the persistence model for individual judged results.
type EvaluationModel struct {
	EvaluationID    string                  `gorm:"type:uuid;primaryKey"`
	BatchID         string                  `gorm:"type:varchar(64);not null"`
	InteractionID   string                  `gorm:"type:varchar(64);not null"`
	Status          domain.EvaluationStatus `gorm:"type:varchar(10);not null"`
	Reason          string                  `gorm:"type:text"`
	ConfidenceScore *float64

	CallID         string `gorm:"type:varchar(64)"`
	CustomerID     string `gorm:"type:varchar(64)"`
	AgentID        string `gorm:"type:varchar(64)"`
	LOB            string `gorm:"type:varchar(64);column:lob"`
	AccountNumber  string `gorm:"type:varchar(64)"`
	StartTimestamp time.Time

	EvaluatedAt     time.Time
	DurationSeconds float64
	Model           string `gorm:"type:varchar(128)"`
}

func (EvaluationModel) TableName() string {
	return "evaluations"
}

// BatchEvaluationModel stores the aggregate outcome per judged batch.
type BatchEvaluationModel struct {
	BatchID        string    `gorm:"type:varchar(64);primaryKey"`
	EvaluationDate time.Time `gorm:"type:date;not null"`

	TotalEvaluations int `gorm:"not null;default:0"`
	Passed           int `gorm:"not null;default:0"`
	Failed           int `gorm:"not null;default:0"`
	Errors           int `gorm:"not null;default:0"`

	PassPercentage  float64
	FailPercentage  float64
	ErrorPercentage float64

	Accuracy          float64
	AverageConfidence *float64

	ProcessingSeconds float64
	CreatedAt         time.Time
}

func (BatchEvaluationModel) TableName() string {
	return "evaluation_batches"
}

func stateModelFromDomain(s *domain.BatchState) *BatchStateModel {
	if s == nil {
		return nil
	}

	metadata := "{}"
	if len(s.Metadata) > 0 {
		if raw, err := json.Marshal(s.Metadata); err == nil {
			metadata = string(raw)
		}
	}

	return &BatchStateModel{
		Day:                   s.Day,
		BatchID:               s.BatchID,
		Status:                s.Status,
		PreviousStatus:        s.PreviousStatus,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
		StartedAt:             s.StartedAt,
		CompletedAt:           s.CompletedAt,
		FailedAt:              s.FailedAt,
		RetryCount:            s.RetryCount,
		MaxRetries:            s.MaxRetries,
		LastRetryAt:           s.LastRetryAt,
		RetryAfter:            s.RetryAfter,
		ErrorMessage:          s.ErrorMessage,
		ErrorType:             s.ErrorType,
		TotalPairs:            s.TotalPairs,
		ProcessedPairs:        s.ProcessedPairs,
		SuccessfulEvaluations: s.SuccessfulEvaluations,
		ErrorEvaluations:      s.ErrorEvaluations,
		Passed:                s.Passed,
		Failed:                s.Failed,
		Accuracy:              s.Accuracy,
		ReportPath:            s.ReportPath,
		ReportGenerated:       s.ReportGenerated,
		EmailSent:             s.EmailSent,
		EmailRecipients:       strings.Join(s.EmailRecipients, ","),
		IsRecovery:            s.IsRecovery,
		RecoveryTriggeredBy:   s.RecoveryTriggeredBy,
		RecoveryAttempted:     s.RecoveryAttempted,
		RecoveryCount:         s.RecoveryCount,
		Metadata:              metadata,
	}
}

func stateModelToDomain(m *BatchStateModel) *domain.BatchState {
	if m == nil {
		return nil
	}

	metadata := map[string]string{}
	if strings.TrimSpace(m.Metadata) != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &metadata)
	}

	var recipients []string
	if trimmed := strings.TrimSpace(m.EmailRecipients); trimmed != "" {
		recipients = strings.Split(trimmed, ",")
	}

	return &domain.BatchState{
		Day:                   domain.NormalizeDay(m.Day),
		BatchID:               m.BatchID,
		Status:                m.Status,
		PreviousStatus:        m.PreviousStatus,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
		StartedAt:             m.StartedAt,
		CompletedAt:           m.CompletedAt,
		FailedAt:              m.FailedAt,
		RetryCount:            m.RetryCount,
		MaxRetries:            m.MaxRetries,
		LastRetryAt:           m.LastRetryAt,
		RetryAfter:            m.RetryAfter,
		ErrorMessage:          m.ErrorMessage,
		ErrorType:             m.ErrorType,
		TotalPairs:            m.TotalPairs,
		ProcessedPairs:        m.ProcessedPairs,
		SuccessfulEvaluations: m.SuccessfulEvaluations,
		ErrorEvaluations:      m.ErrorEvaluations,
		Passed:                m.Passed,
		Failed:                m.Failed,
		Accuracy:              m.Accuracy,
		ReportPath:            m.ReportPath,
		ReportGenerated:       m.ReportGenerated,
		EmailSent:             m.EmailSent,
		EmailRecipients:       recipients,
		IsRecovery:            m.IsRecovery,
		RecoveryTriggeredBy:   m.RecoveryTriggeredBy,
		RecoveryAttempted:     m.RecoveryAttempted,
		RecoveryCount:         m.RecoveryCount,
		Metadata:              metadata,
	}
}

func pairModelToDomain(m *CallRecordModel) *domain.Pair {
	if m == nil {
		return nil
	}
	return &domain.Pair{
		InteractionID:  m.InteractionID,
		CallID:         m.CallID,
		CustomerID:     m.CustomerID,
		AgentID:        m.AgentID,
		LOB:            m.LOB,
		AccountNumber:  m.AccountNumber,
		StartTimestamp: m.StartTimestamp,
		Transcript:     m.Transcript,
		Summary:        m.Summary,
	}
}

func evaluationModelFromDomain(r *domain.EvaluationResult) *EvaluationModel {
	if r == nil {
		return nil
	}
	return &EvaluationModel{
		EvaluationID:    r.EvaluationID,
		BatchID:         r.BatchID,
		InteractionID:   r.InteractionID,
		Status:          r.Status,
		Reason:          r.Reason,
		ConfidenceScore: r.ConfidenceScore,
		CallID:          r.CallID,
		CustomerID:      r.CustomerID,
		AgentID:         r.AgentID,
		LOB:             r.LOB,
		AccountNumber:   r.AccountNumber,
		StartTimestamp:  r.StartTimestamp,
		EvaluatedAt:     r.EvaluatedAt,
		DurationSeconds: r.DurationSeconds,
		Model:           r.Model,
	}
}

func batchEvaluationModelFromDomain(b *domain.BatchEvaluation) *BatchEvaluationModel {
	if b == nil {
		return nil
	}
	return &BatchEvaluationModel{
		BatchID:           b.BatchID,
		EvaluationDate:    b.EvaluationDate,
		TotalEvaluations:  b.TotalEvaluations,
		Passed:            b.Passed,
		Failed:            b.Failed,
		Errors:            b.Errors,
		PassPercentage:    b.PassPercentage,
		FailPercentage:    b.FailPercentage,
		ErrorPercentage:   b.ErrorPercentage,
		Accuracy:          b.Accuracy,
		AverageConfidence: b.AverageConfidence,
		ProcessingSeconds: b.ProcessingSeconds,
	}
}
