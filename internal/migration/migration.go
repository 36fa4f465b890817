package migration

import (
	"context"

	"minwage/internal/errors"

	"github.com/jmoiron/sqlx"
)

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createEstimationRunsTable(ctx, db); err != nil {
		return errors.DatabaseError("failed to create estimation_runs table", err)
	}

	if err := r.createEstimationCoefficientsTable(ctx, db); err != nil {
		return errors.DatabaseError("failed to create estimation_coefficients table", err)
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.DatabaseError("failed to create indexes", err)
	}

	return nil
}

func (r *MigrationRunner) createEstimationRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS estimation_runs (
			id TEXT PRIMARY KEY,
			pipeline_id TEXT NOT NULL,
			analysis VARCHAR(255) NOT NULL,
			model VARCHAR(50) NOT NULL,
			event VARCHAR(100) NOT NULL,
			outcome VARCHAR(100) NOT NULL,
			status VARCHAR(50) NOT NULL,
			error_code VARCHAR(50),
			error_message TEXT,
			n INTEGER NOT NULL DEFAULT 0,
			variance JSONB,
			warnings JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createEstimationCoefficientsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS estimation_coefficients (
			run_id TEXT NOT NULL REFERENCES estimation_runs(id) ON DELETE CASCADE,
			term VARCHAR(100) NOT NULL,
			event_time INTEGER,
			estimate DOUBLE PRECISION NOT NULL,
			std_err DOUBLE PRECISION,
			t_stat DOUBLE PRECISION,
			p_value DOUBLE PRECISION,
			PRIMARY KEY (run_id, term)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_estimation_runs_pipeline ON estimation_runs(pipeline_id);
		CREATE INDEX IF NOT EXISTS idx_estimation_runs_event_outcome ON estimation_runs(event, outcome, model);
	`)
	return err
}
