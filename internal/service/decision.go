package service

import (
	"context"
	"fmt"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
	"go.uber.org/zap"
)

// ShouldProcess decides whether a day's batch should run now. The check
// order guarantees at most one live RUNNING record per day, self-heals
// stuck runs, and never processes a day without source data.
func (o *Orchestrator) ShouldProcess(ctx context.Context, state *domain.BatchState) (bool, string, error) {
	now := o.now().UTC()

	if state.Status == domain.StatusCompleted {
		return false, "already completed", nil
	}

	if state.Status == domain.StatusRunning {
		if !state.IsStuck(now) {
			var elapsed string
			if state.StartedAt != nil {
				elapsed = now.Sub(*state.StartedAt).Truncate(time.Second).String()
			}
			return false, fmt.Sprintf("currently running (%s)", elapsed), nil
		}

		// Reclassify so the batch becomes retryable without operator action.
		runtime := now.Sub(*state.StartedAt)
		o.logger.Warn("batch stuck in RUNNING, marking failed for retry",
			zap.String("day", state.Day.Format("2006-01-02")),
			zap.Duration("runtime", runtime),
		)
		state.SetError(fmt.Errorf("batch stuck in RUNNING state for %s", runtime), "stuck", now)
		if err := o.states.Update(ctx, state); err != nil {
			return false, "", fmt.Errorf("failed to persist stuck batch: %w", err)
		}
		return true, "was stuck, retrying", nil
	}

	if !state.CanRetry(now) {
		if state.RetryAfter != nil && now.Before(*state.RetryAfter) {
			wait := state.RetryAfter.Sub(now).Truncate(time.Second)
			return false, fmt.Sprintf("retry delayed for %s", wait), nil
		}
		if state.RetryCount >= state.MaxRetries {
			return false, fmt.Sprintf("max retries (%d) exceeded", state.MaxRetries), nil
		}
		return false, fmt.Sprintf("status %s is not retryable", state.Status), nil
	}

	hasData, err := o.pairs.HasDataForDay(ctx, state.Day)
	if err != nil {
		return false, "", fmt.Errorf("failed to probe data for day: %w", err)
	}
	if !hasData {
		return false, "no data available", nil
	}

	if state.Status == domain.StatusFailed || state.Status == domain.StatusPartial {
		return true, fmt.Sprintf("retrying failed batch (attempt %d/%d)", state.RetryCount+1, state.MaxRetries), nil
	}
	return true, "ready for processing", nil
}
