package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"minwage/domain/core"
	"minwage/domain/estimation"
	"minwage/internal/errors"
	"minwage/ports"
)

// ResultRepositoryImpl implements ResultRepository for PostgreSQL
type ResultRepositoryImpl struct {
	db *sqlx.DB
}

// NewResultRepository creates a new PostgreSQL result repository
func NewResultRepository(db *sqlx.DB) ports.ResultRepository {
	return &ResultRepositoryImpl{db: db}
}

type runRow struct {
	ID         string         `db:"id"`
	PipelineID string         `db:"pipeline_id"`
	Analysis   string         `db:"analysis"`
	Model      string         `db:"model"`
	Event      string         `db:"event"`
	Outcome    string         `db:"outcome"`
	Status     string         `db:"status"`
	ErrorCode  sql.NullString `db:"error_code"`
	Error      sql.NullString `db:"error_message"`
	N          int            `db:"n"`
	Variance   []byte         `db:"variance"`
	Warnings   []byte         `db:"warnings"`
	CreatedAt  time.Time      `db:"created_at"`
}

type coefficientRow struct {
	RunID     string        `db:"run_id"`
	Term      string        `db:"term"`
	EventTime sql.NullInt64 `db:"event_time"`
	Estimate  float64       `db:"estimate"`
	StdErr    float64       `db:"std_err"`
	TStat     float64       `db:"t_stat"`
	PValue    float64       `db:"p_value"`
}

// SaveRun inserts or replaces one analysis record
func (r *ResultRepositoryImpl) SaveRun(ctx context.Context, run ports.RunRecord) error {
	status := run.Variance
	// JSON has no infinity; -1 marks a singular covariance
	if math.IsInf(status.Condition, 0) || math.IsNaN(status.Condition) {
		status.Condition = -1
	}
	variance, err := json.Marshal(status)
	if err != nil {
		return errors.DatabaseError("failed to encode variance status", err)
	}
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return errors.DatabaseError("failed to encode warnings", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO estimation_runs (id, pipeline_id, analysis, model, event, outcome, status, error_code, error_message, n, variance, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message, n = EXCLUDED.n, variance = EXCLUDED.variance, warnings = EXCLUDED.warnings
	`, run.ID.String(), run.PipelineID.String(), run.Analysis, string(run.Model), run.Event, run.Outcome, string(run.Status),
		nullString(run.ErrorCode), nullString(run.Error), run.N, variance, warnings, run.CreatedAt)
	if err != nil {
		return errors.DatabaseError(fmt.Sprintf("failed to save run %s", run.ID), err)
	}
	return nil
}

// SaveCoefficients replaces the coefficients of a run in one transaction
func (r *ResultRepositoryImpl) SaveCoefficients(ctx context.Context, runID core.RunID, coefs []estimation.Coefficient) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM estimation_coefficients WHERE run_id = $1`, runID.String()); err != nil {
		return errors.DatabaseError("failed to clear coefficients", err)
	}
	for _, c := range coefs {
		var eventTime sql.NullInt64
		if c.EventTime != nil {
			eventTime = sql.NullInt64{Int64: int64(*c.EventTime), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO estimation_coefficients (run_id, term, event_time, estimate, std_err, t_stat, p_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, runID.String(), c.Term, eventTime, c.Estimate, c.StdErr, c.TStat, c.PValue)
		if err != nil {
			return errors.DatabaseError(fmt.Sprintf("failed to save coefficient %s", c.Term), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit coefficients", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *ResultRepositoryImpl) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, pipeline_id, analysis, model, event, outcome, status, error_code, error_message, n, variance, warnings, created_at
		FROM estimation_runs
		WHERE id = $1
	`, id.String())
	if err != nil {
		return nil, errors.DatabaseError(fmt.Sprintf("failed to get run %s", id), err)
	}

	run := &ports.RunRecord{
		ID:         core.RunID(row.ID),
		PipelineID: core.PipelineID(row.PipelineID),
		Analysis:   row.Analysis,
		Model:      estimation.Model(row.Model),
		Event:      row.Event,
		Outcome:    row.Outcome,
		Status:     ports.RunStatus(row.Status),
		ErrorCode:  row.ErrorCode.String,
		Error:      row.Error.String,
		N:          row.N,
		CreatedAt:  row.CreatedAt,
	}
	if len(row.Variance) > 0 {
		if err := json.Unmarshal(row.Variance, &run.Variance); err != nil {
			return nil, errors.DatabaseError("failed to decode variance status", err)
		}
	}
	if len(row.Warnings) > 0 {
		if err := json.Unmarshal(row.Warnings, &run.Warnings); err != nil {
			return nil, errors.DatabaseError("failed to decode warnings", err)
		}
	}
	return run, nil
}

// ListCoefficients returns coefficients of completed runs matching filters
func (r *ResultRepositoryImpl) ListCoefficients(ctx context.Context, filters ports.CoefficientFilters) ([]ports.CoefficientRecord, error) {
	query := `
		SELECT c.run_id, c.term, c.event_time, c.estimate, c.std_err, c.t_stat, c.p_value
		FROM estimation_coefficients c
		JOIN estimation_runs r ON r.id = c.run_id
		WHERE r.status = $1`
	args := []interface{}{string(ports.RunCompleted)}

	var conds []string
	if filters.Event != "" {
		args = append(args, filters.Event)
		conds = append(conds, fmt.Sprintf("r.event = $%d", len(args)))
	}
	if filters.Outcome != "" {
		args = append(args, filters.Outcome)
		conds = append(conds, fmt.Sprintf("r.outcome = $%d", len(args)))
	}
	if filters.Model != "" {
		args = append(args, string(filters.Model))
		conds = append(conds, fmt.Sprintf("r.model = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY r.created_at, c.run_id, c.event_time NULLS FIRST, c.term"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []coefficientRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.DatabaseError("failed to list coefficients", err)
	}
	out := make([]ports.CoefficientRecord, len(rows))
	for i, row := range rows {
		rec := ports.CoefficientRecord{
			RunID: core.RunID(row.RunID),
			Coefficient: estimation.Coefficient{
				Term:     row.Term,
				Estimate: row.Estimate,
				StdErr:   row.StdErr,
				TStat:    row.TStat,
				PValue:   row.PValue,
			},
		}
		if row.EventTime.Valid {
			et := int(row.EventTime.Int64)
			rec.EventTime = &et
		}
		out[i] = rec
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
