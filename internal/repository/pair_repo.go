package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
	"gorm.io/gorm"
)

// PairRepository exposes the transcript-summary source to the orchestration core.
type PairRepository interface {
	// HasDataForDay reports whether any call records exist for the day.
	HasDataForDay(ctx context.Context, day time.Time) (bool, error)

	// FetchUnevaluatedPairs returns records inside [from, to) that have no
	// evaluation row yet, ordered by call start time.
	FetchUnevaluatedPairs(ctx context.Context, from, to time.Time) ([]domain.Pair, error)
}

type GormPairRepo struct {
	db *gorm.DB
}

func NewGormPairRepo(db *gorm.DB) *GormPairRepo {
	return &GormPairRepo{db: db}
}

func (r *GormPairRepo) HasDataForDay(ctx context.Context, day time.Time) (bool, error) {
	from := domain.NormalizeDay(day)
	to := from.AddDate(0, 0, 1)

	var count int64
	err := r.db.WithContext(ctx).Model(&CallRecordModel{}).
		Where("start_timestamp >= ? AND start_timestamp < ?", from, to).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to probe call records: %w", err)
	}
	return count > 0, nil
}

func (r *GormPairRepo) FetchUnevaluatedPairs(ctx context.Context, from, to time.Time) ([]domain.Pair, error) {
	var models []CallRecordModel
	err := r.db.WithContext(ctx).
		Where("start_timestamp >= ? AND start_timestamp < ?", from, to).
		Where("NOT EXISTS (SELECT 1 FROM evaluations e WHERE e.interaction_id = call_records.interaction_id)").
		Order("start_timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unevaluated pairs: %w", err)
	}

	pairs := make([]domain.Pair, 0, len(models))
	for i := range models {
		pairs = append(pairs, *pairModelToDomain(&models[i]))
	}
	return pairs, nil
}
