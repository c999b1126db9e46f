package repository

import (
	"context"
	"fmt"

	"github.com/plumeng/evalbatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const evaluationInsertBatchSize = 100

// EvaluationRepository is the idempotent sink for judged results.
type EvaluationRepository interface {
	// SaveResults upserts individual results by evaluation id and the
	// aggregate row by batch id. Re-running a day never duplicates rows.
	SaveResults(ctx context.Context, results []domain.EvaluationResult, batch domain.BatchEvaluation) error
}

type GormEvaluationRepo struct {
	db *gorm.DB
}

func NewGormEvaluationRepo(db *gorm.DB) *GormEvaluationRepo {
	return &GormEvaluationRepo{db: db}
}

func (r *GormEvaluationRepo) SaveResults(ctx context.Context, results []domain.EvaluationResult, batch domain.BatchEvaluation) error {
	if len(results) > 0 {
		models := make([]EvaluationModel, 0, len(results))
		for i := range results {
			if model := evaluationModelFromDomain(&results[i]); model != nil {
				models = append(models, *model)
			}
		}

		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "evaluation_id"}},
				DoNothing: true,
			}).
			CreateInBatches(&models, evaluationInsertBatchSize).Error
		if err != nil {
			return fmt.Errorf("failed to save evaluation results: %w", err)
		}
	}

	batchModel := batchEvaluationModelFromDomain(&batch)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}},
			UpdateAll: true,
		}).
		Create(batchModel).Error
	if err != nil {
		return fmt.Errorf("failed to save batch evaluation: %w", err)
	}

	return nil
}
