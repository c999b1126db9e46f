package service

import (
	"context"
	"fmt"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
	"github.com/plumeng/evalbatch/internal/judge"
	"github.com/plumeng/evalbatch/internal/notification"
	"github.com/plumeng/evalbatch/internal/observability"
	"github.com/plumeng/evalbatch/internal/report"
	"github.com/plumeng/evalbatch/internal/repository"
	"go.uber.org/zap"
)

const (
	backoffBaseMinutes = 5
	backoffCapMinutes  = 60
)

// stepError tags a pipeline failure with the stage it occurred in so the
// persisted error type tells an operator where to look.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }
func (e *stepError) Unwrap() error { return e.err }

// Orchestrator drives one day's evaluation batch end to end: decision,
// judging, persistence, report, notification. Every state transition is
// written through before the next stage starts so a crash at any point
// leaves a record the recovery sweep can act on.
type Orchestrator struct {
	states      repository.StateRepository
	pairs       repository.PairRepository
	evaluations repository.EvaluationRepository
	judge       judge.Judge
	reports     report.Generator
	notifier    notification.Notifier
	logger      *zap.Logger
	metrics     *observability.Metrics

	accuracyThreshold float64
	maxRetries        int
	recipients        []string

	now func() time.Time
}

func NewOrchestrator(
	states repository.StateRepository,
	pairs repository.PairRepository,
	evaluations repository.EvaluationRepository,
	judgeService judge.Judge,
	reports report.Generator,
	notifier notification.Notifier,
	logger *zap.Logger,
	accuracyThreshold float64,
	maxRetries int,
	recipients []string,
) (*Orchestrator, error) {
	if states == nil || pairs == nil || evaluations == nil {
		return nil, fmt.Errorf("orchestrator: repositories are required")
	}
	if judgeService == nil {
		return nil, fmt.Errorf("orchestrator: judge is required")
	}
	if reports == nil {
		return nil, fmt.Errorf("orchestrator: report generator is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("orchestrator: notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if accuracyThreshold <= 0 || accuracyThreshold > 1 {
		return nil, fmt.Errorf("orchestrator: accuracy threshold must be in (0, 1]")
	}
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	return &Orchestrator{
		states:            states,
		pairs:             pairs,
		evaluations:       evaluations,
		judge:             judgeService,
		reports:           reports,
		notifier:          notifier,
		logger:            logger,
		accuracyThreshold: accuracyThreshold,
		maxRetries:        maxRetries,
		recipients:        recipients,
		now:               time.Now,
	}, nil
}

// SetMetrics attaches a metrics registry. Safe to skip in tests.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) { o.metrics = m }

// RunDay executes the full evaluation pipeline for one calendar day.
// It returns true when the day needs no further attention (completed,
// skipped, or legitimately not processable) and false when the attempt
// failed and a retry may be due later.
func (o *Orchestrator) RunDay(ctx context.Context, day time.Time) bool {
	day = domain.NormalizeDay(day)
	log := observability.WithBatchDay(o.logger, day)

	state, err := o.states.GetOrCreate(ctx, day)
	if err != nil {
		log.Error("failed to load batch state", zap.Error(err))
		return false
	}

	process, reason, err := o.ShouldProcess(ctx, state)
	if err != nil {
		log.Error("decision check failed", zap.Error(err))
		return false
	}
	if !process {
		// Declining to run is not an error, whatever the reason.
		log.Info("skipping batch", zap.String("reason", reason))
		return true
	}
	log.Info("starting batch", zap.String("reason", reason))

	if state.Status == domain.StatusFailed || state.Status == domain.StatusPartial {
		state.IncrementRetry(o.now())
	}
	startedAt := o.now().UTC()
	state.Status = domain.StatusRunning
	state.StartedAt = &startedAt
	state.CompletedAt = nil
	state.ErrorMessage = ""
	state.ErrorType = ""
	state.RetryAfter = nil
	if err := o.states.Update(ctx, state); err != nil {
		log.Error("failed to mark batch running", zap.Error(err))
		return false
	}

	// The final state must land in the store even when the run context is
	// cancelled mid-pipeline.
	defer func() {
		if err := o.states.Update(context.WithoutCancel(ctx), state); err != nil {
			log.Error("failed to persist final batch state", zap.Error(err))
		}
	}()

	skipped, runErr := o.executePipeline(ctx, state, log)
	if runErr != nil {
		return o.handleFailure(ctx, state, runErr, log)
	}
	if skipped {
		o.observeOutcome(state)
		return true
	}

	completedAt := o.now().UTC()
	state.Status = domain.StatusCompleted
	state.CompletedAt = &completedAt
	o.observeOutcome(state)

	if d, ok := state.Duration(); ok {
		log.Info("batch completed",
			zap.String("batch_id", state.BatchID),
			zap.Int("pairs", state.TotalPairs),
			zap.Duration("duration", d),
		)
	}
	return true
}

// executePipeline runs fetch, judge, persist, report, and notify stages.
// The skipped return is true when the day had no data to evaluate.
func (o *Orchestrator) executePipeline(ctx context.Context, state *domain.BatchState, log *zap.Logger) (bool, error) {
	from := state.Day
	to := state.Day.AddDate(0, 0, 1)

	pairs, err := o.pairs.FetchUnevaluatedPairs(ctx, from, to)
	if err != nil {
		return false, &stepError{step: "fetch_pairs", err: err}
	}

	if len(pairs) == 0 {
		completedAt := o.now().UTC()
		state.Status = domain.StatusSkipped
		state.CompletedAt = &completedAt
		log.Info("no pairs found, skipping day")
		if err := o.notifier.SendAlert(ctx,
			fmt.Sprintf("No Data Found - %s", state.Day.Format("2006-01-02")),
			fmt.Sprintf("No call summary pairs were found for %s. The batch was skipped.", state.Day.Format("2006-01-02")),
			notification.PriorityLow,
		); err != nil {
			log.Warn("failed to send no-data alert", zap.Error(err))
		}
		return true, nil
	}

	state.TotalPairs = len(pairs)
	if err := o.states.Update(ctx, state); err != nil {
		return false, &stepError{step: "persist_progress", err: err}
	}

	results, batch, judgeErr := o.judge.EvaluateBatch(ctx, state.Day, pairs)

	// Progress counters reflect whatever the judge produced, including a
	// partial run interrupted by cancellation.
	state.BatchID = batch.BatchID
	state.ProcessedPairs = len(results)
	state.Passed = batch.Passed
	state.Failed = batch.Failed
	state.SuccessfulEvaluations = batch.Passed + batch.Failed
	state.ErrorEvaluations = batch.Errors
	if batch.Passed+batch.Failed > 0 {
		accuracy := batch.Accuracy
		state.Accuracy = &accuracy
	}
	state.SetMetadata("judge_seconds", fmt.Sprintf("%.1f", batch.ProcessingSeconds))

	if len(results) > 0 {
		if err := o.evaluations.SaveResults(ctx, results, batch); err != nil {
			return false, &stepError{step: "save_results", err: err}
		}
	}
	if judgeErr != nil {
		return false, &stepError{step: "evaluate", err: judgeErr}
	}

	reportPath, err := o.reports.GenerateReport(batch, results)
	if err != nil {
		return false, &stepError{step: "generate_report", err: err}
	}
	state.ReportPath = reportPath
	state.ReportGenerated = true
	if err := o.states.Update(ctx, state); err != nil {
		return false, &stepError{step: "persist_progress", err: err}
	}

	isAlert := o.checkAccuracy(ctx, state, &batch, log)

	if err := o.notifier.SendReport(ctx, batch, reportPath, isAlert, state.IsRecovery); err != nil {
		return false, &stepError{step: "send_report", err: err}
	}
	state.EmailSent = true
	state.EmailRecipients = o.recipients

	log.Info("batch evaluated", zap.String("summary", batch.SummaryText()))
	return false, nil
}

// checkAccuracy fires the low-accuracy alert when the batch falls under
// the configured threshold. The report mail is sent either way; the
// return value only controls its alert tagging.
func (o *Orchestrator) checkAccuracy(ctx context.Context, state *domain.BatchState, batch *domain.BatchEvaluation, log *zap.Logger) bool {
	if batch.Passed+batch.Failed == 0 || batch.Accuracy >= o.accuracyThreshold {
		return false
	}

	log.Warn("accuracy below threshold",
		zap.Float64("accuracy", batch.Accuracy),
		zap.Float64("threshold", o.accuracyThreshold),
	)
	subject := fmt.Sprintf("ALERT: Low Evaluation Accuracy - %s", state.Day.Format("2006-01-02"))
	body := fmt.Sprintf(
		"Accuracy for %s was %.2f%%, below the %.2f%% threshold.\n\n%s",
		state.Day.Format("2006-01-02"),
		batch.Accuracy*100,
		o.accuracyThreshold*100,
		batch.SummaryText(),
	)
	if err := o.notifier.SendAlert(ctx, subject, body, notification.PriorityHigh); err != nil {
		log.Warn("failed to send accuracy alert", zap.Error(err))
	}
	return true
}

// handleFailure records the error, schedules a backoff retry when attempts
// remain, and raises an operator alert. Always returns false.
func (o *Orchestrator) handleFailure(ctx context.Context, state *domain.BatchState, runErr error, log *zap.Logger) bool {
	now := o.now().UTC()
	errorType := "pipeline"
	var se *stepError
	if stepErr, ok := runErr.(*stepError); ok {
		se = stepErr
		errorType = se.step
	}

	state.SetError(runErr, errorType, now)

	// An interrupted judge run that produced some results is a PARTIAL
	// batch: its evaluations are saved and a retry picks up the rest.
	if errorType == "evaluate" && state.ProcessedPairs > 0 && state.ProcessedPairs < state.TotalPairs {
		state.Status = domain.StatusPartial
	}

	if state.CanRetry(now) {
		delay := backoffBaseMinutes * (1 << state.RetryCount)
		if delay > backoffCapMinutes {
			delay = backoffCapMinutes
		}
		retryAfter := now.Add(time.Duration(delay) * time.Minute)
		state.RetryAfter = &retryAfter
		log.Error("batch failed, retry scheduled",
			zap.String("error_type", errorType),
			zap.Error(runErr),
			zap.Int("retry_count", state.RetryCount),
			zap.Time("retry_after", retryAfter),
		)
	} else {
		log.Error("batch failed, no retries remaining",
			zap.String("error_type", errorType),
			zap.Error(runErr),
			zap.Int("retry_count", state.RetryCount),
		)
	}

	o.observeOutcome(state)

	subject := fmt.Sprintf("CRITICAL: Evaluation Batch Failed - %s", state.Day.Format("2006-01-02"))
	body := fmt.Sprintf(
		"Batch processing for %s failed in stage %q.\n\nError: %s\nRetry count: %d/%d\nProcessed: %d/%d pairs",
		state.Day.Format("2006-01-02"),
		errorType,
		state.ErrorMessage,
		state.RetryCount,
		state.MaxRetries,
		state.ProcessedPairs,
		state.TotalPairs,
	)
	if err := o.notifier.SendAlert(ctx, subject, body, notification.PriorityCritical); err != nil {
		log.Warn("failed to send failure alert", zap.Error(err))
	}
	return false
}

func (o *Orchestrator) observeOutcome(state *domain.BatchState) {
	if o.metrics == nil {
		return
	}
	o.metrics.IncBatch(state.Status.String())
	if d, ok := state.Duration(); ok {
		o.metrics.ObserveBatchDuration(d)
	}
	if state.Accuracy != nil {
		o.metrics.SetBatchAccuracy(*state.Accuracy)
	}
}
