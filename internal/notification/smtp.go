package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/plumeng/evalbatch/internal/domain"
	"go.uber.org/zap"
)

// SMTPConfig carries mail transport settings.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// SMTPNotifier sends alerts and report mails over SMTP.
type SMTPNotifier struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
	logger     *zap.Logger
	send       func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	host := strings.TrimSpace(cfg.Host)
	from := strings.TrimSpace(cfg.From)
	recipients := sanitizeRecipients(cfg.Recipients)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if from == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPNotifier{
		host:       host,
		port:       port,
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		from:       from,
		recipients: recipients,
		logger:     logger,
		send:       smtp.SendMail,
	}, nil
}

// Recipients returns the configured recipient list.
func (n *SMTPNotifier) Recipients() []string {
	out := make([]string, len(n.recipients))
	copy(out, n.recipients)
	return out
}

func (n *SMTPNotifier) SendAlert(ctx context.Context, subject, body string, priority Priority) error {
	if !priority.IsValid() {
		priority = PriorityNormal
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := n.deliver(subject, body, priority); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}

	n.logger.Info("alert sent",
		zap.String("subject", subject),
		zap.String("priority", priority.String()),
	)
	return nil
}

func (n *SMTPNotifier) SendReport(ctx context.Context, batch domain.BatchEvaluation, reportPath string, isAlert, isRecovery bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	day := batch.EvaluationDate.Format("2006-01-02")
	subject := fmt.Sprintf("Daily Summary Evaluation Report - %s", day)
	if isAlert {
		subject = "[ALERT] " + subject
	}
	if isRecovery {
		subject = "[RECOVERY] " + subject
	}

	priority := PriorityNormal
	if isAlert {
		priority = PriorityHigh
	}

	body := buildReportBody(batch, reportPath, isAlert, isRecovery)

	if err := n.deliver(subject, body, priority); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}

	n.logger.Info("report sent",
		zap.String("batchId", batch.BatchID),
		zap.String("day", day),
		zap.Bool("alert", isAlert),
	)
	return nil
}

func (n *SMTPNotifier) deliver(subject, body string, priority Priority) error {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nX-Priority: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		n.from, strings.Join(n.recipients, ","), subject, priority.headerValue())

	message := []byte(headers + body)
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	return n.send(addr, auth, n.from, n.recipients, message)
}

func buildReportBody(batch domain.BatchEvaluation, reportPath string, isAlert, isRecovery bool) string {
	body := strings.Builder{}

	if isAlert {
		body.WriteString("ACCURACY BELOW THRESHOLD - please review the attached results.\n\n")
	}
	if isRecovery {
		body.WriteString("This report was produced by an automatic recovery run.\n\n")
	}

	body.WriteString(fmt.Sprintf("Evaluation date: %s\n", batch.EvaluationDate.Format("2006-01-02")))
	body.WriteString(fmt.Sprintf("Batch: %s\n\n", batch.BatchID))
	body.WriteString(fmt.Sprintf("Total evaluations: %d\n", batch.TotalEvaluations))
	body.WriteString(fmt.Sprintf("Passed: %d (%.2f%%)\n", batch.Passed, batch.PassPercentage))
	body.WriteString(fmt.Sprintf("Failed: %d (%.2f%%)\n", batch.Failed, batch.FailPercentage))
	body.WriteString(fmt.Sprintf("Errors: %d (%.2f%%)\n", batch.Errors, batch.ErrorPercentage))
	body.WriteString(fmt.Sprintf("Accuracy: %.2f%%\n", batch.Accuracy*100))
	if batch.AverageConfidence != nil {
		body.WriteString(fmt.Sprintf("Average confidence: %.2f\n", *batch.AverageConfidence))
	}
	body.WriteString(fmt.Sprintf("Processing time: %.1fs\n\n", batch.ProcessingSeconds))

	if strings.TrimSpace(reportPath) != "" {
		body.WriteString(fmt.Sprintf("Full report: %s\n", reportPath))
	}

	return body.String()
}
