package waves

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minwage/domain/survey"
	apperrors "minwage/internal/errors"
)

var wave2016 = survey.WaveID{Year: 2016, Label: "JM", Quarters: 5}

func sampleWave() *survey.RawWave {
	return &survey.RawWave{
		ID:      wave2016,
		Columns: []string{"PERSID", "AGE1", "LGWT18"},
		Rows: []survey.RawRecord{
			{"PERSID": survey.Text("A1"), "AGE1": survey.Number(24), "LGWT18": survey.Number(812.5)},
			{"PERSID": survey.Text("A2"), "AGE1": survey.Missing(), "LGWT18": survey.Number(640)},
		},
	}
}

func TestFileLoader_CSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteFile(filepath.Join(dir, "w2016.csv"), sampleWave()))

	l := NewFileLoader([]WaveFile{{Wave: wave2016, Path: "w2016.csv"}}, dir, nil)
	ids, err := l.Waves(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []survey.WaveID{wave2016}, ids)

	w, err := l.Load(context.Background(), wave2016)
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSID", "AGE1", "LGWT18"}, w.Columns)
	require.Len(t, w.Rows, 2)
	assert.Equal(t, survey.Text("24"), w.Rows[0]["AGE1"])
	assert.Equal(t, survey.Text("812.5"), w.Rows[0]["LGWT18"])
	assert.True(t, w.Rows[1]["AGE1"].IsMissing())
}

func TestFileLoader_XLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "w2016.xlsx")
	require.NoError(t, WriteFile(path, sampleWave()))

	l := NewFileLoader([]WaveFile{{Wave: wave2016, Path: path}}, "", nil)
	w, err := l.Load(context.Background(), wave2016)
	require.NoError(t, err)
	require.Len(t, w.Rows, 2)
	assert.Equal(t, survey.Text("A2"), w.Rows[1]["PERSID"])
	assert.Equal(t, survey.Text("640"), w.Rows[1]["LGWT18"])
	assert.True(t, w.Rows[1]["AGE1"].IsMissing())
}

func TestFileLoader_TrimsHeadersAndShortRows(t *testing.T) {
	dir := t.TempDir()
	content := "\ufeff PERSID , AGE1 ,SEX\nA1, 30 \nA2,,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.csv"), []byte(content), 0o644))

	l := NewFileLoader([]WaveFile{{Wave: wave2016, Path: "w.csv"}}, dir, nil)
	w, err := l.Load(context.Background(), wave2016)
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSID", "AGE1", "SEX"}, w.Columns)
	assert.Equal(t, survey.Text("30"), w.Rows[0]["AGE1"])
	assert.True(t, w.Rows[0]["SEX"].IsMissing())
	assert.True(t, w.Rows[1]["AGE1"].IsMissing())
}

func TestFileLoader_Errors(t *testing.T) {
	l := NewFileLoader([]WaveFile{{Wave: wave2016, Path: "/does/not/exist.csv"}}, "", nil)
	_, err := l.Load(context.Background(), wave2016)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeWaveLoad, apperrors.GetCode(err))

	_, err = l.Load(context.Background(), survey.WaveID{Year: 1999})
	assert.Equal(t, apperrors.CodeWaveLoad, apperrors.GetCode(err))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.sav"), []byte("x"), 0o644))
	l = NewFileLoader([]WaveFile{{Wave: wave2016, Path: "w.sav"}}, dir, nil)
	_, err = l.Load(context.Background(), wave2016)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, wave2016)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLoader(t *testing.T) {
	w := sampleWave()
	other := &survey.RawWave{ID: survey.WaveID{Year: 2021, Label: "JM"}}
	l := NewMemoryLoader(w, other)
	l.Add(w)

	ids, err := l.Waves(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []survey.WaveID{wave2016, other.ID}, ids)

	got, err := l.Load(context.Background(), wave2016)
	require.NoError(t, err)
	assert.Same(t, w, got)

	_, err = l.Load(context.Background(), survey.WaveID{Year: 2030})
	assert.Equal(t, apperrors.CodeWaveLoad, apperrors.GetCode(err))
}
