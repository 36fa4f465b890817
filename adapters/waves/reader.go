package waves

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"minwage/domain/survey"
	"minwage/internal"
	"minwage/internal/errors"
)

// WaveFile is one manifest entry: a wave and the file holding it
type WaveFile struct {
	Wave survey.WaveID `yaml:"wave"`
	Path string        `yaml:"path"`
	// Sheet selects a worksheet in .xlsx files; empty means the first sheet
	Sheet string `yaml:"sheet"`
}

// FileLoader reads waves from CSV and XLSX files listed in a manifest
type FileLoader struct {
	files   []WaveFile
	baseDir string
	log     *internal.Logger
}

// NewFileLoader creates a loader. Relative paths resolve against baseDir.
func NewFileLoader(files []WaveFile, baseDir string, log *internal.Logger) *FileLoader {
	if log == nil {
		log = internal.NewNopLogger()
	}
	return &FileLoader{files: files, baseDir: baseDir, log: log.With("waves")}
}

// Waves lists the manifest waves in order
func (l *FileLoader) Waves(ctx context.Context) ([]survey.WaveID, error) {
	out := make([]survey.WaveID, len(l.files))
	for i, f := range l.files {
		out[i] = f.Wave
	}
	return out, nil
}

// Load reads the file of one wave
func (l *FileLoader) Load(ctx context.Context, id survey.WaveID) (*survey.RawWave, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range l.files {
		if f.Wave.String() == id.String() {
			return l.read(f)
		}
	}
	return nil, errors.WaveLoadError(id.String(), fmt.Errorf("wave not in manifest"))
}

func (l *FileLoader) path(f WaveFile) string {
	if filepath.IsAbs(f.Path) || l.baseDir == "" {
		return f.Path
	}
	return filepath.Join(l.baseDir, f.Path)
}

func (l *FileLoader) read(f WaveFile) (*survey.RawWave, error) {
	path := l.path(f)
	start := time.Now()
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WaveLoadError(f.Wave.String(), err)
	}

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path, f.Sheet)
	default:
		err = fmt.Errorf("unsupported file type %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.WaveLoadError(f.Wave.String(), err)
	}
	if len(rows) < 1 {
		return nil, errors.WaveLoadError(f.Wave.String(), fmt.Errorf("%s has no header row", path))
	}

	w := processRows(f.Wave, rows)
	l.log.Debug("wave %s read from %s in %.2fms (%d columns, %d rows)",
		f.Wave, filepath.Base(path), float64(time.Since(start).Nanoseconds())/1e6, len(w.Columns), len(w.Rows))
	return w, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

// processRows converts string rows into a raw wave. Headers are trimmed and
// empty cells become missing values.
func processRows(id survey.WaveID, rows [][]string) *survey.RawWave {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	w := &survey.RawWave{ID: id, Columns: headers, Rows: make([]survey.RawRecord, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		rec := make(survey.RawRecord, len(headers))
		for j, h := range headers {
			if h == "" {
				continue
			}
			cell := ""
			if j < len(row) {
				cell = strings.TrimSpace(row[j])
			}
			if cell == "" {
				rec[h] = survey.Missing()
			} else {
				rec[h] = survey.Text(cell)
			}
		}
		w.Rows = append(w.Rows, rec)
	}
	return w
}
