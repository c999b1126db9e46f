package notification

import (
	"context"
	"strings"

	"github.com/plumeng/evalbatch/internal/domain"
)

// Priority grades how urgently an alert should be treated.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Header value for mail clients: 1 is highest, 5 is lowest.
func (p Priority) headerValue() string {
	switch p {
	case PriorityCritical:
		return "1"
	case PriorityHigh:
		return "2"
	case PriorityLow:
		return "5"
	default:
		return "3"
	}
}

// Notifier delivers alerts and evaluation reports to stakeholders.
type Notifier interface {
	SendAlert(ctx context.Context, subject, body string, priority Priority) error
	SendReport(ctx context.Context, batch domain.BatchEvaluation, reportPath string, isAlert, isRecovery bool) error
}

func sanitizeRecipients(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if trimmed := strings.TrimSpace(r); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
