package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
	"github.com/plumeng/evalbatch/internal/notification"
	"github.com/plumeng/evalbatch/internal/observability"
	"github.com/plumeng/evalbatch/internal/repository"
	"go.uber.org/zap"
)

const (
	// quickCheckDays bounds the post-run sweep to the most recent days.
	quickCheckDays = 3

	defaultInterDayDelay = 5 * time.Second
	recoveryTrigger      = "recovery_manager"
)

// RecoveryManager finds days in the lookback window whose batches never
// reached a terminal state and re-runs them through the orchestrator,
// oldest first. It runs at process startup and after every scheduled day.
type RecoveryManager struct {
	orchestrator *Orchestrator
	states       repository.StateRepository
	pairs        repository.PairRepository
	notifier     notification.Notifier
	logger       *zap.Logger
	metrics      *observability.Metrics

	lookbackDays  int
	interDayDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRecoveryManager(
	orchestrator *Orchestrator,
	states repository.StateRepository,
	pairs repository.PairRepository,
	notifier notification.Notifier,
	logger *zap.Logger,
	lookbackDays int,
) (*RecoveryManager, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("recovery: orchestrator is required")
	}
	if states == nil || pairs == nil {
		return nil, fmt.Errorf("recovery: repositories are required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("recovery: notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	return &RecoveryManager{
		orchestrator:  orchestrator,
		states:        states,
		pairs:         pairs,
		notifier:      notifier,
		logger:        logger,
		lookbackDays:  lookbackDays,
		interDayDelay: defaultInterDayDelay,
		now:           time.Now,
		sleep:         sleepWithContext,
	}, nil
}

// SetMetrics attaches a metrics registry. Safe to skip in tests.
func (r *RecoveryManager) SetMetrics(m *observability.Metrics) { r.metrics = m }

// SweepMissing scans the full lookback window, re-runs every eligible day,
// and mails a summary when anything was attempted. Returns the number of
// days recovered successfully.
func (r *RecoveryManager) SweepMissing(ctx context.Context) int {
	return r.sweep(ctx, r.lookbackDays, true)
}

// QuickCheck scans only the trailing few days and skips the summary mail.
// Intended to run right after the daily batch to catch recent stragglers.
func (r *RecoveryManager) QuickCheck(ctx context.Context) int {
	days := quickCheckDays
	if r.lookbackDays < days {
		days = r.lookbackDays
	}
	return r.sweep(ctx, days, false)
}

func (r *RecoveryManager) sweep(ctx context.Context, days int, notifySummary bool) int {
	eligible, err := r.findEligibleDays(ctx, days)
	if err != nil {
		r.logger.Error("recovery scan failed", zap.Error(err))
		return 0
	}
	if len(eligible) == 0 {
		r.logger.Info("recovery scan found nothing to do", zap.Int("lookback_days", days))
		return 0
	}

	r.logger.Info("recovery scan found eligible days",
		zap.Int("count", len(eligible)),
		zap.Int("lookback_days", days),
	)

	recovered := 0
	var attempted, failed []string
	for i, day := range eligible {
		if i > 0 {
			if err := r.sleep(ctx, r.interDayDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		label := day.Format("2006-01-02")
		attempted = append(attempted, label)
		if r.recoverSingle(ctx, day) {
			recovered++
		} else {
			failed = append(failed, label)
		}
	}

	if notifySummary && len(attempted) > 0 {
		r.sendSummary(ctx, attempted, failed, recovered)
	}
	return recovered
}

// findEligibleDays walks the window oldest first and returns the days
// whose batch state warrants a recovery attempt.
func (r *RecoveryManager) findEligibleDays(ctx context.Context, days int) ([]time.Time, error) {
	now := r.now().UTC()
	end := domain.NormalizeDay(now)

	var eligible []time.Time
	for offset := days; offset >= 1; offset-- {
		day := end.AddDate(0, 0, -offset)

		state, err := r.states.GetOrCreate(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("failed to load state for %s: %w", day.Format("2006-01-02"), err)
		}

		switch state.Status {
		case domain.StatusCompleted, domain.StatusSkipped, domain.StatusCancelled:
			continue
		case domain.StatusRunning:
			if state.IsStuck(now) {
				eligible = append(eligible, day)
			}
		case domain.StatusFailed, domain.StatusPartial:
			// Exhausted days stay out of the sweep; the terminal failure
			// already alerted when the last attempt ran.
			if state.CanRetry(now) {
				eligible = append(eligible, day)
			}
		case domain.StatusPending:
			hasData, err := r.pairs.HasDataForDay(ctx, day)
			if err != nil {
				return nil, fmt.Errorf("failed to probe data for %s: %w", day.Format("2006-01-02"), err)
			}
			if hasData {
				eligible = append(eligible, day)
			}
		}
	}
	return eligible, nil
}

func (r *RecoveryManager) recoverSingle(ctx context.Context, day time.Time) bool {
	label := day.Format("2006-01-02")
	now := r.now().UTC()

	state, err := r.states.GetOrCreate(ctx, day)
	if err != nil {
		r.logger.Error("recovery failed to load state", zap.String("day", label), zap.Error(err))
		r.observeRecovery("error")
		return false
	}

	if state.Status == domain.StatusCompleted {
		return true
	}

	// Stuck RUNNING days bypass the exhaustion gate so ShouldProcess can
	// reclassify them; only already-failed days can be beyond saving here.
	exhausted := (state.Status == domain.StatusFailed || state.Status == domain.StatusPartial) &&
		state.RetryCount >= state.MaxRetries
	if exhausted {
		r.logger.Error("recovery exhausted, operator attention required",
			zap.String("day", label),
			zap.Int("retry_count", state.RetryCount),
		)
		subject := fmt.Sprintf("CRITICAL: Batch Unrecoverable - %s", label)
		body := fmt.Sprintf(
			"Batch for %s exhausted all %d retries and cannot be recovered automatically.\n\nLast error (%s): %s",
			label, state.MaxRetries, state.ErrorType, state.ErrorMessage,
		)
		if err := r.notifier.SendAlert(ctx, subject, body, notification.PriorityCritical); err != nil {
			r.logger.Warn("failed to send unrecoverable alert", zap.Error(err))
		}
		r.observeRecovery("exhausted")
		return false
	}

	state.IsRecovery = true
	state.RecoveryAttempted = true
	state.RecoveryCount++
	state.RecoveryTriggeredBy = recoveryTrigger
	state.SetMetadata("recovery_triggered_at", now.Format(time.RFC3339))
	if err := r.states.Update(ctx, state); err != nil {
		r.logger.Error("recovery failed to mark state", zap.String("day", label), zap.Error(err))
		r.observeRecovery("error")
		return false
	}

	r.logger.Info("recovering batch",
		zap.String("day", label),
		zap.String("previous_status", state.Status.String()),
		zap.Int("recovery_count", state.RecoveryCount),
	)

	ok := r.orchestrator.RunDay(ctx, day)
	if ok {
		r.observeRecovery("recovered")
	} else {
		r.observeRecovery("failed")
	}
	return ok
}

func (r *RecoveryManager) sendSummary(ctx context.Context, attempted, failed []string, recovered int) {
	body := fmt.Sprintf(
		"Recovery sweep finished.\n\nAttempted: %s\nRecovered: %d\nStill failing: %s",
		strings.Join(attempted, ", "),
		recovered,
		orNone(failed),
	)
	priority := notification.PriorityNormal
	if len(failed) > 0 {
		priority = notification.PriorityHigh
	}
	if err := r.notifier.SendAlert(ctx, "Batch Recovery Summary", body, priority); err != nil {
		r.logger.Warn("failed to send recovery summary", zap.Error(err))
	}
}

func (r *RecoveryManager) observeRecovery(outcome string) {
	if r.metrics != nil {
		r.metrics.IncRecovery(outcome)
	}
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
