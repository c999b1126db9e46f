package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/plumeng/evalbatch/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createBatchStatesTable(),
		createCallRecordsTable(),
		createEvaluationsTable(),
	})

	return m.Migrate()
}

func createBatchStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_batch_states",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchStateModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_states_status ON batch_states (status)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_states_status_day ON batch_states (status, day)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_states_status_retry ON batch_states (status, retry_count)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchStateModel{})
		},
	}
}

func createCallRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_call_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CallRecordModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_call_records_start_timestamp ON call_records (start_timestamp)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CallRecordModel{})
		},
	}
}

func createEvaluationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_evaluations",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EvaluationModel{}, &repository.BatchEvaluationModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_evaluations_interaction_id ON evaluations (interaction_id)`,
				`CREATE INDEX IF NOT EXISTS idx_evaluations_batch_id ON evaluations (batch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_evaluation_batches_date ON evaluation_batches (evaluation_date)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.EvaluationModel{}); err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.BatchEvaluationModel{})
		},
	}
}
