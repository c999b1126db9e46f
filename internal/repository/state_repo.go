package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateRepository is the durable store for per-day batch execution state.
type StateRepository interface {
	// GetOrCreate returns the state record for the normalized day, creating
	// a PENDING record when none exists. Concurrent creators converge on a
	// single record.
	GetOrCreate(ctx context.Context, day time.Time) (*domain.BatchState, error)

	// Update upserts the record by day. The previously stored status is
	// copied into PreviousStatus when it differs, and UpdatedAt is always
	// refreshed regardless of the caller-supplied value.
	Update(ctx context.Context, state *domain.BatchState) error

	// Query returns states matching any of the given statuses inside the
	// day range, ordered by day ascending. An empty status slice matches all.
	Query(ctx context.Context, statuses []domain.BatchStatus, from, to time.Time) ([]domain.BatchState, error)

	// DeleteCompletedBefore removes COMPLETED records older than cutoff and
	// reports how many were deleted.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormStateRepo struct {
	db         *gorm.DB
	maxRetries int
	now        func() time.Time
}

func NewGormStateRepo(db *gorm.DB, maxRetries int) *GormStateRepo {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	return &GormStateRepo{db: db, maxRetries: maxRetries, now: time.Now}
}

func (r *GormStateRepo) GetOrCreate(ctx context.Context, day time.Time) (*domain.BatchState, error) {
	day = domain.NormalizeDay(day)

	existing, err := r.getByDay(ctx, day)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	state := domain.NewBatchState(day, r.maxRetries, r.now())
	model := stateModelFromDomain(state)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Another creator won the insert race; converge on its record.
		if isUniqueViolationError(err) {
			return r.getByDay(ctx, day)
		}
		return nil, fmt.Errorf("failed to create batch state: %w", err)
	}

	return state, nil
}

func (r *GormStateRepo) Update(ctx context.Context, state *domain.BatchState) error {
	if state == nil {
		return fmt.Errorf("%w: batch state is required", domain.ErrValidation)
	}

	var stored BatchStateModel
	err := r.db.WithContext(ctx).First(&stored, "day = ?", domain.NormalizeDay(state.Day)).Error
	if err == nil && stored.Status != state.Status {
		state.PreviousStatus = stored.Status
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read current batch state: %w", err)
	}

	state.UpdatedAt = r.now().UTC()

	model := stateModelFromDomain(state)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "day"}},
			UpdateAll: true,
		}).
		Create(model)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert batch state: %w", result.Error)
	}

	return nil
}

func (r *GormStateRepo) Query(ctx context.Context, statuses []domain.BatchStatus, from, to time.Time) ([]domain.BatchState, error) {
	query := r.db.WithContext(ctx).Model(&BatchStateModel{}).
		Where("day >= ? AND day <= ?", domain.NormalizeDay(from), domain.NormalizeDay(to))

	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var models []BatchStateModel
	if err := query.Order("day ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query batch states: %w", err)
	}

	states := make([]domain.BatchState, 0, len(models))
	for i := range models {
		states = append(states, *stateModelToDomain(&models[i]))
	}
	return states, nil
}

func (r *GormStateRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("day < ? AND status = ?", domain.NormalizeDay(cutoff), domain.StatusCompleted).
		Delete(&BatchStateModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old batch states: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GormStateRepo) getByDay(ctx context.Context, day time.Time) (*domain.BatchState, error) {
	var model BatchStateModel
	err := r.db.WithContext(ctx).First(&model, "day = ?", day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch state: %w", err)
	}
	return stateModelToDomain(&model), nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
