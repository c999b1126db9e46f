package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/plumeng/evalbatch/internal/domain"
	"go.uber.org/zap"
)

// Generator renders an evaluation batch into a reviewable report file.
type Generator interface {
	GenerateReport(batch domain.BatchEvaluation, results []domain.EvaluationResult) (string, error)
}

// CSVGenerator writes one CSV file per batch under the output directory.
type CSVGenerator struct {
	dir    string
	logger *zap.Logger
}

func NewCSVGenerator(dir string, logger *zap.Logger) (*CSVGenerator, error) {
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVGenerator{dir: dir, logger: logger}, nil
}

func (g *CSVGenerator) GenerateReport(batch domain.BatchEvaluation, results []domain.EvaluationResult) (string, error) {
	filename := fmt.Sprintf("evaluation_report_%s_%s.csv",
		batch.EvaluationDate.Format("2006-01-02"), batch.BatchID)
	path := filepath.Join(g.dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)

	metrics := [][]string{
		{"Metric", "Value"},
		{"Evaluation Date", batch.EvaluationDate.Format("2006-01-02")},
		{"Batch ID", batch.BatchID},
		{"Total Evaluations", strconv.Itoa(batch.TotalEvaluations)},
		{"Passed", strconv.Itoa(batch.Passed)},
		{"Failed", strconv.Itoa(batch.Failed)},
		{"Errors", strconv.Itoa(batch.Errors)},
		{"Accuracy", fmt.Sprintf("%.4f", batch.Accuracy)},
		{"Processing Seconds", fmt.Sprintf("%.1f", batch.ProcessingSeconds)},
		{},
	}
	for _, row := range metrics {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write report header: %w", err)
		}
	}

	header := []string{
		"EvaluationID", "InteractionID", "CallID", "CustomerID", "AgentID", "LOB",
		"AccountNumber", "StartTimestamp", "Status", "Reason", "Confidence", "EvaluatedAt",
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write report header: %w", err)
	}

	for i := range results {
		r := &results[i]
		confidence := ""
		if r.ConfidenceScore != nil {
			confidence = fmt.Sprintf("%.2f", *r.ConfidenceScore)
		}
		row := []string{
			r.EvaluationID,
			r.InteractionID,
			r.CallID,
			r.CustomerID,
			r.AgentID,
			r.LOB,
			r.AccountNumber,
			r.StartTimestamp.Format("2006-01-02 15:04:05"),
			r.Status.String(),
			r.Reason,
			confidence,
			r.EvaluatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write report row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush report: %w", err)
	}

	g.logger.Info("report generated",
		zap.String("path", path),
		zap.Int("rows", len(results)),
	)

	return path, nil
}
