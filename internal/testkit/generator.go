// Package testkit generates synthetic labour force survey waves with a
// known treatment effect
package testkit

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"time"

	"minwage/adapters/waves"
	"minwage/domain/policy"
	"minwage/domain/survey"
)

// Raw column names written by the generator
const (
	ColPersonID  = "PERSID"
	ColAge       = "AGE"
	ColSex       = "SEX"
	ColStatus    = "ILODEFR"
	ColEthnicity = "ETHUKEUL"
	ColRegion    = "GOVTOF"
	ColHiQual    = "HIQUL15D"
	ColRefDate   = "REFDTE"
	ColWeight    = "LGWT"
)

var labels = [4]string{"JM", "AJ", "JS", "OD"}

// Config controls the synthetic population. Every (age, quarter) cell of a
// wave holds PerCell respondents whose status counts follow the planted
// probabilities exactly up to rounding.
type Config struct {
	Seed  int64
	From  time.Time // first quarter
	Waves int
	// WaveQuarters is the number of quarters each wave covers; above one the
	// per-quarter variables carry the quarter as column suffix
	WaveQuarters int
	// Stride is the number of quarters between wave starts, WaveQuarters
	// when zero
	Stride  int
	MinAge  int
	MaxAge  int
	PerCell int

	Event policy.Event
	// Effect is added to the unemployment probability of respondents at or
	// above the age threshold interviewed on or after the event
	Effect float64

	BaseUnemployment float64 // at MinAge in the first quarter
	AgeSlope         float64 // per year of age
	PeriodSlope      float64 // per quarter
	InactiveShare    float64

	// SentinelShare of qualification codes are written as -8
	SentinelShare float64
	// Omit drops raw columns, by base name, from every wave
	Omit []string
	// WeightName overrides the weight column name
	WeightName string
}

// DefaultConfig plants a five point rise in unemployment for the 25+ group
// after April 2016 across twelve quarterly cross-sections
func DefaultConfig() Config {
	return Config{
		Seed:         42,
		From:         time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		Waves:        12,
		WaveQuarters: 1,
		MinAge:       18,
		MaxAge:       32,
		PerCell:      200,
		Event: policy.Event{
			Name:          "nlw2016",
			AgeThreshold:  25,
			ImplementedOn: time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		Effect:           0.05,
		BaseUnemployment: 0.15,
		AgeSlope:         -0.004,
		PeriodSlope:      0.002,
		InactiveShare:    0.2,
		SentinelShare:    0.02,
	}
}

// Dataset is the generated set of raw waves
type Dataset struct {
	Config Config
	Waves  []*survey.RawWave
}

// UnemploymentRate is the planted probability of unemployment among the
// economically active; quarter counts from the first quarter
func (c Config) UnemploymentRate(age, quarter int, date time.Time) float64 {
	p := c.BaseUnemployment + c.AgeSlope*float64(age-c.MinAge) + c.PeriodSlope*float64(quarter)
	if age >= c.Event.AgeThreshold && !date.Before(c.Event.ImplementedOn) {
		p += c.Effect
	}
	return p
}

func (c Config) waveQuarters() int {
	if c.WaveQuarters < 1 {
		return 1
	}
	return c.WaveQuarters
}

func (c Config) stride() int {
	if c.Stride < 1 {
		return c.waveQuarters()
	}
	return c.Stride
}

// QuarterSpan is the number of calendar quarters touched by the dataset
func (c Config) QuarterSpan() int {
	return (c.Waves-1)*c.stride() + c.waveQuarters()
}

func (c Config) validate() error {
	switch {
	case c.Waves <= 0:
		return fmt.Errorf("waves must be > 0")
	case c.PerCell <= 0:
		return fmt.Errorf("per-cell size must be > 0")
	case c.MinAge <= 0 || c.MaxAge < c.MinAge:
		return fmt.Errorf("invalid age range [%d, %d]", c.MinAge, c.MaxAge)
	case c.InactiveShare < 0 || c.InactiveShare >= 1:
		return fmt.Errorf("inactive share must be in [0, 1)")
	}
	for q := 0; q < c.QuarterSpan(); q++ {
		start := c.quarterStart(q)
		for age := c.MinAge; age <= c.MaxAge; age++ {
			for _, d := range []time.Time{start, start.AddDate(0, 3, -1)} {
				if p := c.UnemploymentRate(age, q, d); p < 0 || p > 1 {
					return fmt.Errorf("unemployment probability %.3f outside [0, 1] at age %d, quarter %d", p, age, q)
				}
			}
		}
	}
	return nil
}

func (c Config) quarterStart(q int) time.Time {
	first := time.Date(c.From.Year(), time.Month(3*((int(c.From.Month())-1)/3)+1), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 3*q, 0)
}

func (c Config) weightColumn() string {
	if c.WeightName != "" {
		return c.WeightName
	}
	return ColWeight
}

func (c Config) omitted(col string) bool {
	for _, o := range c.Omit {
		if o == col {
			return true
		}
	}
	return false
}

// suffix is the per-quarter column suffix of quarter j within a wave
func (c Config) suffix(j int) string {
	if c.waveQuarters() == 1 {
		return ""
	}
	return strconv.Itoa(j + 1)
}

var perQuarter = []string{ColAge, ColStatus, ColEthnicity, ColRegion, ColHiQual, ColRefDate}

func (c Config) columns() []string {
	var out []string
	for _, col := range []string{ColPersonID, ColSex, c.weightColumn()} {
		if !c.omitted(col) {
			out = append(out, col)
		}
	}
	for j := 0; j < c.waveQuarters(); j++ {
		for _, col := range perQuarter {
			if !c.omitted(col) {
				out = append(out, col+c.suffix(j))
			}
		}
	}
	return out
}

// Generate builds the raw waves
func Generate(cfg Config) (*Dataset, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	nq := cfg.waveQuarters()

	ds := &Dataset{Config: cfg, Waves: make([]*survey.RawWave, 0, cfg.Waves)}
	for wi := 0; wi < cfg.Waves; wi++ {
		first := wi * cfg.stride()
		start := cfg.quarterStart(first)
		id := survey.WaveID{Year: start.Year(), Label: labels[(int(start.Month())-1)/3], Quarters: nq}
		w := &survey.RawWave{ID: id, Columns: cfg.columns()}

		for age := cfg.MinAge; age <= cfg.MaxAge; age++ {
			dates := make([][]time.Time, nq)
			statuses := make([][]int, nq)
			for j := 0; j < nq; j++ {
				qs := cfg.quarterStart(first + j)
				days := int(qs.AddDate(0, 3, 0).Sub(qs).Hours() / 24)
				dates[j] = make([]time.Time, cfg.PerCell)
				for i := range dates[j] {
					dates[j][i] = qs.AddDate(0, 0, rng.Intn(days))
				}
				statuses[j] = cfg.statuses(age, first+j, dates[j], rng)
			}
			for i := 0; i < cfg.PerCell; i++ {
				rec := survey.RawRecord{
					ColPersonID:        survey.Text(fmt.Sprintf("%s-%d-%04d", id, age, i)),
					ColSex:             survey.Number(float64(1 + rng.Intn(2))),
					cfg.weightColumn(): survey.Number(math.Round(800 + rng.Float64()*400)),
				}
				for j := 0; j < nq; j++ {
					sfx := cfg.suffix(j)
					rec[ColAge+sfx] = survey.Number(float64(age))
					rec[ColStatus+sfx] = survey.Number(float64(statuses[j][i]))
					rec[ColEthnicity+sfx] = survey.Number(float64(1 + rng.Intn(9)))
					rec[ColRegion+sfx] = survey.Number(float64(1 + rng.Intn(12)))
					rec[ColHiQual+sfx] = survey.Number(float64(1 + rng.Intn(5)))
					if rng.Float64() < cfg.SentinelShare {
						rec[ColHiQual+sfx] = survey.Number(-8)
					}
					rec[ColRefDate+sfx] = survey.Text(dates[j][i].Format("02/01/2006"))
				}
				for _, o := range cfg.Omit {
					delete(rec, o)
					for j := 0; j < nq; j++ {
						delete(rec, o+cfg.suffix(j))
					}
				}
				w.Rows = append(w.Rows, rec)
			}
		}
		ds.Waves = append(ds.Waves, w)
	}
	return ds, nil
}

// statuses assigns ILO codes to one cell. Inactive and unemployed counts are
// the rounded planted shares; the post-event split is done per date so the
// effect lands only on respondents interviewed after the event.
func (c Config) statuses(age, quarter int, dates []time.Time, rng *rand.Rand) []int {
	n := len(dates)
	out := make([]int, n)
	inactive := int(math.Round(c.InactiveShare * float64(n)))
	perm := rng.Perm(n)
	for _, i := range perm[:inactive] {
		out[i] = 3
	}
	active := perm[inactive:]

	// group active respondents by treatment status of their interview date
	var pre, post []int
	for _, i := range active {
		if dates[i].Before(c.Event.ImplementedOn) {
			pre = append(pre, i)
		} else {
			post = append(post, i)
		}
	}
	for _, group := range [][]int{pre, post} {
		if len(group) == 0 {
			continue
		}
		p := c.UnemploymentRate(age, quarter, dates[group[0]])
		unemployed := int(math.Round(p * float64(len(group))))
		for k, i := range group {
			if k < unemployed {
				out[i] = 2
			} else {
				out[i] = 1
			}
		}
	}
	return out
}

// WriteFiles writes every wave under dir with the given extension (".csv"
// or ".xlsx") and returns the manifest entries, relative to dir
func WriteFiles(dir string, ds *Dataset, ext string) ([]waves.WaveFile, error) {
	files := make([]waves.WaveFile, 0, len(ds.Waves))
	for _, w := range ds.Waves {
		name := "lfs_" + strconv.Itoa(w.ID.Year) + "_" + w.ID.Label + ext
		if err := waves.WriteFile(filepath.Join(dir, name), w); err != nil {
			return nil, fmt.Errorf("failed to write wave %s: %w", w.ID, err)
		}
		files = append(files, waves.WaveFile{Wave: w.ID, Path: name})
	}
	return files, nil
}
