package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"minwage/domain/estimation"
	"minwage/ports"
)

// CSVExporter writes cells.csv and results.csv into a directory
type CSVExporter struct {
	dir string
}

// NewCSVExporter creates the output directory if needed
func NewCSVExporter(dir string) (*CSVExporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &CSVExporter{dir: dir}, nil
}

var _ ports.Exporter = (*CSVExporter)(nil)

// WriteCells writes cells.csv
func (e *CSVExporter) WriteCells(cells []estimation.Cell, outcomes []string) error {
	return writeCSV(filepath.Join(e.dir, "cells.csv"), cellTable(cells, outcomes))
}

// WriteResults writes results.csv
func (e *CSVExporter) WriteResults(rows []ports.ResultRow) error {
	return writeCSV(filepath.Join(e.dir, "results.csv"), resultTable(rows))
}

// Close is a no-op; files are complete after each write
func (e *CSVExporter) Close() error { return nil }

func writeCSV(path string, table [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(table); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
