package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"minwage/domain/estimation"
	"minwage/ports"
)

const (
	cellsSheet   = "cells"
	resultsSheet = "results"
)

// ExcelExporter writes one workbook with a sheet per table
type ExcelExporter struct {
	path string
	f    *excelize.File
}

// NewExcelExporter creates an exporter saving to path on Close
func NewExcelExporter(path string) *ExcelExporter {
	return &ExcelExporter{path: path, f: excelize.NewFile()}
}

var _ ports.Exporter = (*ExcelExporter)(nil)

// WriteCells writes the aggregated cells sheet
func (e *ExcelExporter) WriteCells(cells []estimation.Cell, outcomes []string) error {
	return e.writeSheet(cellsSheet, cellTable(cells, outcomes))
}

// WriteResults writes the estimates sheet
func (e *ExcelExporter) WriteResults(rows []ports.ResultRow) error {
	return e.writeSheet(resultsSheet, resultTable(rows))
}

func (e *ExcelExporter) writeSheet(name string, table [][]string) error {
	if idx, _ := e.f.GetSheetIndex(name); idx >= 0 {
		if err := e.f.DeleteSheet(name); err != nil {
			return err
		}
	}
	if _, err := e.f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	sw, err := e.f.NewStreamWriter(name)
	if err != nil {
		return err
	}
	for i, row := range table {
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}
	return sw.Flush()
}

// Close saves the workbook
func (e *ExcelExporter) Close() error {
	if len(e.f.GetSheetList()) > 1 {
		if idx, _ := e.f.GetSheetIndex("Sheet1"); idx >= 0 {
			if err := e.f.DeleteSheet("Sheet1"); err != nil {
				return err
			}
		}
	}
	if err := e.f.SaveAs(e.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", e.path, err)
	}
	return e.f.Close()
}
