package service

import (
	"context"
	"fmt"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
	"github.com/plumeng/evalbatch/internal/notification"
	"github.com/plumeng/evalbatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultErrorCooldown = 5 * time.Minute
	defaultSettleDelay   = time.Minute
)

// Scheduler fires the previous day's evaluation batch once per day at a
// configured local wall-clock time, runs a recovery sweep at startup and
// a quick check after each batch, and prunes old completed records on
// Sundays.
type Scheduler struct {
	orchestrator *Orchestrator
	recovery     *RecoveryManager
	states       repository.StateRepository
	notifier     notification.Notifier
	logger       *zap.Logger

	hour, minute  int
	location      *time.Location
	retentionDays int

	errorCooldown time.Duration
	settleDelay   time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(
	orchestrator *Orchestrator,
	recovery *RecoveryManager,
	states repository.StateRepository,
	notifier notification.Notifier,
	logger *zap.Logger,
	hour, minute int,
	location *time.Location,
	retentionDays int,
) (*Scheduler, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("scheduler: orchestrator is required")
	}
	if recovery == nil {
		return nil, fmt.Errorf("scheduler: recovery manager is required")
	}
	if states == nil {
		return nil, fmt.Errorf("scheduler: state repository is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("scheduler: notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("scheduler: invalid run time %02d:%02d", hour, minute)
	}
	if location == nil {
		location = time.Local
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &Scheduler{
		orchestrator:  orchestrator,
		recovery:      recovery,
		states:        states,
		notifier:      notifier,
		logger:        logger,
		hour:          hour,
		minute:        minute,
		location:      location,
		retentionDays: retentionDays,
		errorCooldown: defaultErrorCooldown,
		settleDelay:   defaultSettleDelay,
		now:           time.Now,
		sleep:         sleepWithContext,
	}, nil
}

// nextRun returns the next firing instant strictly after now. A tick that
// lands on the configured minute but past its zeroth second rolls over to
// the next day.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	local := now.In(s.location)
	fire := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.location)
	if !fire.After(local) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}

// Start blocks until ctx is cancelled, running the daily cycle forever.
// Each iteration is isolated: a failure alerts and backs off without
// taking the loop down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		zap.String("run_time", fmt.Sprintf("%02d:%02d", s.hour, s.minute)),
		zap.String("timezone", s.location.String()),
	)

	recovered := s.recovery.SweepMissing(ctx)
	if recovered > 0 {
		s.logger.Info("startup recovery sweep done", zap.Int("recovered", recovered))
	}

	for {
		now := s.now().In(s.location)
		next := s.nextRun(now)
		s.logger.Info("waiting for next run",
			zap.Time("next_run", next),
			zap.Duration("wait", next.Sub(now)),
		)
		if err := s.sleep(ctx, next.Sub(now)); err != nil {
			s.logger.Info("scheduler shutting down")
			return nil
		}

		if err := s.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("scheduler shutting down")
				return nil
			}
			s.logger.Error("scheduler cycle failed", zap.Error(err))
			s.alertCycleError(ctx, err)
			if err := s.sleep(ctx, s.errorCooldown); err != nil {
				return nil
			}
			continue
		}

		if err := s.sleep(ctx, s.settleDelay); err != nil {
			s.logger.Info("scheduler shutting down")
			return nil
		}
	}
}

// runCycle is one scheduled iteration: previous day's batch, a quick
// recovery check, and weekly retention. Panics are converted to errors so
// a bad cycle never kills the daemon.
func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cycle panicked: %v", rec)
		}
	}()

	now := s.now().In(s.location)
	day := domain.NormalizeDay(now.AddDate(0, 0, -1))

	if ok := s.orchestrator.RunDay(ctx, day); !ok {
		s.logger.Warn("daily batch did not complete cleanly",
			zap.String("day", day.Format("2006-01-02")),
		)
	}

	s.recovery.QuickCheck(ctx)

	if now.Weekday() == time.Sunday {
		s.pruneOldBatches(ctx, now)
	}
	return nil
}

func (s *Scheduler) pruneOldBatches(ctx context.Context, now time.Time) {
	cutoff := domain.NormalizeDay(now.AddDate(0, 0, -s.retentionDays))
	deleted, err := s.states.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention prune failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned old batch records",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}

func (s *Scheduler) alertCycleError(ctx context.Context, cycleErr error) {
	body := fmt.Sprintf(
		"The daily scheduler cycle failed and will retry after %s.\n\nError: %v",
		s.errorCooldown, cycleErr,
	)
	if err := s.notifier.SendAlert(context.WithoutCancel(ctx), "Scheduler Cycle Failed", body, notification.PriorityHigh); err != nil {
		s.logger.Warn("failed to send scheduler alert", zap.Error(err))
	}
}

// sleepWithContext waits for d or until ctx is cancelled, whichever comes
// first. Non-positive durations return immediately.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
