package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"minwage/domain/estimation"
	"minwage/domain/policy"
	"minwage/domain/survey"
	"minwage/internal/econometrics"
	"minwage/internal/errors"
	"minwage/internal/panel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const studyYAML = `
name: nlw
years: {from: 2015, to: 2017}
base_dir: data
waves:
  - wave: {year: 2014, label: JM, quarters: 1}
    path: lfs_2014.csv
  - wave: {year: 2016, label: JM, quarters: 1}
    path: lfs_2016.csv
  - wave: {year: 2017, label: JM, quarters: 1}
    path: lfs_2017.xlsx
    sheet: data
weight_candidates:
  2017-JM: [PWT17]
panel:
  dedup: person_period
  min_age: 16
  employment_codes: {employed: [1], unemployed: [2], inactive: [3, 4]}
time_unit: quarter
events:
  - {name: nlw2016, age_threshold: 25, implemented_on: "2016-04-01"}
aggregate:
  strata: [sex]
limits:
  max_rows: 1000
  max_terms: 10
  max_fixed_effect_levels: 100
  max_design_cells: 10000
analyses:
  - name: did_unemp
    model: did
    event: nlw2016
    outcome: unemployed
    min_age: 21
    max_age: 30
    fixed_effects: [age, period]
    variance: {kind: twoway, clusters: [age, region]}
  - model: event_study
    event: nlw2016
    outcome: inactive
    window: {lo: -4, hi: 4}
    reference: [-1, -2]
    from: "2015-01-01"
    to: "2018-01-01"
  - name: rdd_unemp
    model: rdd
    event: nlw2016
    outcome: unemployed
    from: "2016-04-01"
    rdd: {kernel: uniform, bandwidth: 3, cluster_running: true}
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "study.yaml", cfg.Study)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "xlsx", cfg.Output.Format)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("MINWAGE_WORKERS", "2")
	t.Setenv("MINWAGE_OUTPUT_FORMAT", "csv")
	t.Setenv("MINWAGE_LOG_FORMAT", "json")
	t.Setenv("MINWAGE_DATABASE_URL", "postgres://localhost/minwage")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "csv", cfg.Output.Format)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "postgres://localhost/minwage", cfg.Database.URL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("MINWAGE_WORKERS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	t.Setenv("MINWAGE_WORKERS", "1")
	t.Setenv("MINWAGE_OUTPUT_FORMAT", "pdf")
	_, err = Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestParseStudy(t *testing.T) {
	s, err := ParseStudy([]byte(studyYAML))
	require.NoError(t, err)

	files := s.WaveFiles()
	require.Len(t, files, 2, "2014 is outside the year range")
	assert.Equal(t, 2016, files[0].Wave.Year)
	assert.Equal(t, "data", files[1].Sheet)

	cfg := s.PanelConfig()
	assert.Equal(t, panel.DedupPersonPeriod, cfg.Dedup)
	assert.Equal(t, 16, cfg.MinAge)
	assert.Equal(t, []int{3, 4}, cfg.Codes.Inactive)

	vars := s.VariableMap()
	w, ok := vars.Lookup(survey.VarWeight)
	require.True(t, ok)
	assert.Equal(t, []string{"PWT17"}, vars.SynonymsFor(w, survey.WaveID{Year: 2017, Label: "JM"}, 0))
	assert.Equal(t, w.Synonyms, vars.SynonymsFor(w, survey.WaveID{Year: 2016, Label: "JM"}, 0))

	agg := s.AggregateConfig()
	assert.Equal(t, policy.UnitQuarter, agg.Unit)
	assert.Equal(t, []string{"sex"}, agg.Strata)

	opts := s.EstimatorOptions()
	assert.Equal(t, 10, opts.Limits.MaxTerms)
}

func TestResolveAnalyses(t *testing.T) {
	s, err := ParseStudy([]byte(studyYAML))
	require.NoError(t, err)

	analyses, err := s.ResolveAnalyses()
	require.NoError(t, err)
	require.Len(t, analyses, 3)

	did := analyses[0]
	assert.Equal(t, "did_unemp", did.Name)
	assert.Equal(t, estimation.ModelDiD, did.Model)
	assert.Equal(t, 25, did.Design.Event.AgeThreshold)
	assert.Equal(t, time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC), did.Design.Event.ImplementedOn)
	assert.Equal(t, []string{"region"}, did.Design.Clusters, "age is already a fixed effect")
	assert.Equal(t, estimation.VarianceTwoWay, did.Variance.Kind)

	es := analyses[1]
	assert.Equal(t, "event_study_nlw2016_inactive", es.Name)
	assert.Equal(t, estimation.VarianceHetero, es.Variance.Kind)
	assert.Equal(t, &econometrics.Window{Lo: -4, Hi: 4}, es.Design.Window)
	assert.Equal(t, []int{-1, -2}, es.Design.Reference)
	assert.Equal(t, 2015, es.Design.From.Year())

	rdd := analyses[2]
	assert.Equal(t, econometrics.KernelUniform, rdd.RDD.Kernel)
	assert.Equal(t, 1, rdd.RDD.Order)
	assert.Equal(t, 3.0, rdd.RDD.Bandwidth)
	assert.True(t, rdd.RDD.ClusterRunning)
	assert.Equal(t, 0.95, rdd.RDD.Level)
	assert.Equal(t, 2016, rdd.RDD.From.Year())
	assert.True(t, rdd.RDD.To.IsZero())
}

func TestParseStudy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		edit func(string) string
	}{
		{"unknown field", func(s string) string { return s + "colour: blue\n" }},
		{"unknown event", func(s string) string {
			return s + "  - {model: did, event: nlw2099, outcome: unemployed}\n"
		}},
		{"unknown model", func(s string) string {
			return s + "  - {model: probit, event: nlw2016, outcome: unemployed}\n"
		}},
		{"cluster without key", func(s string) string {
			return s + "  - {model: did, event: nlw2016, outcome: inactive, variance: {kind: cluster}}\n"
		}},
		{"bad kernel", func(s string) string {
			return s + "  - {model: rdd, event: nlw2016, outcome: inactive, rdd: {kernel: gaussian}}\n"
		}},
		{"inverted window", func(s string) string {
			return s + "  - {model: event_study, event: nlw2016, outcome: inactive, window: {lo: 2, hi: -2}}\n"
		}},
		{"duplicate name", func(s string) string {
			return s + "  - {name: did_unemp, model: did, event: nlw2016, outcome: inactive}\n"
		}},
		{"bad date", func(s string) string {
			return s + "  - {model: did, event: nlw2016, outcome: inactive, from: 01/01/2016}\n"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStudy([]byte(tt.edit(studyYAML)))
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestParseStudy_NoWavesInRange(t *testing.T) {
	_, err := ParseStudy([]byte(`
years: {from: 2020}
waves:
  - wave: {year: 2016}
    path: a.csv
events:
  - {name: e, age_threshold: 25, implemented_on: "2016-04-01"}
analyses:
  - {model: did, event: e, outcome: unemployed}
`))
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoadStudy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "study.yaml")
	require.NoError(t, os.WriteFile(path, []byte(studyYAML), 0o644))

	s, err := LoadStudy(path)
	require.NoError(t, err)
	assert.Equal(t, "nlw", s.Name)

	_, err = LoadStudy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
