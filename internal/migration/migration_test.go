package migration

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minwage/internal/errors"
)

func TestRunner_CreatesSchemaInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS estimation_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS estimation_coefficients").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_estimation_runs_pipeline").WillReturnResult(sqlmock.NewResult(0, 0))

	r := NewRunner()
	require.NoError(t, r.Run(context.Background(), sqlx.NewDb(db, "sqlmock")))
	assert.Equal(t, "1.0.0", r.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_StopsOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS estimation_runs").WillReturnError(stderrors.New("permission denied"))

	err = NewRunner().Run(context.Background(), sqlx.NewDb(db, "sqlmock"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))
	assert.Contains(t, err.Error(), "estimation_runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
