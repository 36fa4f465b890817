package ports

import (
	"minwage/domain/estimation"
)

// ResultRow flattens one coefficient, Wald test or RDD estimate for export
type ResultRow struct {
	Analysis string
	Model    estimation.Model
	Event    string
	Outcome  string
	Term     string
	Estimate float64
	StdErr   float64
	Stat     float64
	PValue   float64
	N        int
	Note     string
}

// Exporter writes the tabular handoff of a pipeline run
type Exporter interface {
	WriteCells(cells []estimation.Cell, outcomes []string) error
	WriteResults(rows []ResultRow) error
	Close() error
}
