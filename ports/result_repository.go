package ports

import (
	"context"
	"time"

	"minwage/domain/core"
	"minwage/domain/estimation"
)

// RunStatus is the lifecycle state of a persisted estimation run
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is one analysis of a pipeline run
type RunRecord struct {
	ID core.RunID
	// PipelineID groups the analyses of one pipeline invocation
	PipelineID core.PipelineID
	Analysis   string
	Model      estimation.Model
	Event      string
	Outcome    string
	Status     RunStatus
	ErrorCode  string
	Error      string
	N          int
	Variance   estimation.VarianceStatus
	Warnings   core.Warnings
	CreatedAt  time.Time
}

// CoefficientRecord is one persisted coefficient of a run
type CoefficientRecord struct {
	RunID core.RunID
	estimation.Coefficient
}

// CoefficientFilters narrows ListCoefficients
type CoefficientFilters struct {
	Event   string
	Outcome string
	Model   estimation.Model
	Limit   int
}

// ResultRepository persists estimation outcomes per reform
type ResultRepository interface {
	SaveRun(ctx context.Context, run RunRecord) error
	SaveCoefficients(ctx context.Context, runID core.RunID, coefs []estimation.Coefficient) error
	GetRun(ctx context.Context, id core.RunID) (*RunRecord, error)
	ListCoefficients(ctx context.Context, filters CoefficientFilters) ([]CoefficientRecord, error)
}
