package waves

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"minwage/domain/survey"
)

// WriteFile writes a raw wave as CSV or XLSX depending on the extension
func WriteFile(path string, w *survey.RawWave) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return writeCSV(path, w)
	case ".xlsx":
		return writeXLSX(path, w)
	}
	return fmt.Errorf("unsupported file type %s", filepath.Ext(path))
}

func cellText(v survey.Value) string {
	switch v.Kind {
	case survey.KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case survey.KindText:
		return v.Text
	}
	return ""
}

func writeCSV(path string, w *survey.RawWave) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write(w.Columns); err != nil {
		return err
	}
	row := make([]string, len(w.Columns))
	for _, rec := range w.Rows {
		for j, c := range w.Columns {
			row[j] = cellText(rec[c])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(path string, w *survey.RawWave) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(w.Columns))
	for i, c := range w.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, rec := range w.Rows {
		row := make([]interface{}, len(w.Columns))
		for j, c := range w.Columns {
			v := rec[c]
			switch v.Kind {
			case survey.KindNumber:
				row[j] = v.Num
			case survey.KindText:
				row[j] = v.Text
			default:
				row[j] = ""
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}
