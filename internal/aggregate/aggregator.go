package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"minwage/domain/core"
	"minwage/domain/estimation"
	domainPanel "minwage/domain/panel"
	"minwage/domain/policy"
	"minwage/internal/treatment"

	"github.com/montanaflynn/stats"
)

// Config selects the grouping granularity
type Config struct {
	Unit     policy.TimeUnit
	Strata   []string
	Outcomes []string
}

// DefaultConfig groups by age and calendar quarter for both outcomes
func DefaultConfig() Config {
	return Config{
		Unit:     policy.UnitQuarter,
		Outcomes: []string{domainPanel.OutcomeUnemployed, domainPanel.OutcomeInactive},
	}
}

// Aggregator collapses observations into weighted cells
type Aggregator struct {
	cfg Config
}

// New creates an aggregator
func New(cfg Config) (*Aggregator, error) {
	if cfg.Unit == "" {
		cfg.Unit = policy.UnitQuarter
	}
	if cfg.Unit != policy.UnitMonth && cfg.Unit != policy.UnitQuarter {
		return nil, core.NewInvalidInputError("unknown aggregation unit %q", cfg.Unit)
	}
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = DefaultConfig().Outcomes
	}
	for _, o := range cfg.Outcomes {
		if _, ok := (domainPanel.Observation{}).Outcome(o); !ok {
			return nil, core.NewInvalidInputError("unknown outcome %q", o)
		}
	}
	return &Aggregator{cfg: cfg}, nil
}

// Key returns the grouping key of an observation; undated observations have
// no key
func (a *Aggregator) Key(o domainPanel.Observation) (estimation.CellKey, bool) {
	d, ok := o.Date()
	if !ok {
		return estimation.CellKey{}, false
	}
	return estimation.CellKey{
		Age:    o.Age,
		Strata: a.strata(o),
		Period: treatment.PeriodStart(d, a.cfg.Unit),
	}, true
}

func (a *Aggregator) strata(o domainPanel.Observation) string {
	if len(a.cfg.Strata) == 0 {
		return "all"
	}
	parts := make([]string, len(a.cfg.Strata))
	for i, name := range a.cfg.Strata {
		f := o.Covariate(name)
		if !f.Present {
			parts[i] = name + "=NA"
			continue
		}
		parts[i] = fmt.Sprintf("%s=%g", name, f.Num)
	}
	return strings.Join(parts, ",")
}

type accumulator struct {
	n      int
	num    map[string]float64
	den    map[string]float64
	counts map[string]int
}

// Aggregate groups observations by (age, strata, period) and computes
// survey-weighted rates. Cells with no usable observation for an outcome
// carry an undefined rate, never zero.
func (a *Aggregator) Aggregate(obs []domainPanel.Observation) ([]estimation.Cell, core.Warnings) {
	var warnings core.Warnings
	groups := make(map[estimation.CellKey]*accumulator)
	undated := 0

	for _, o := range obs {
		k, ok := a.Key(o)
		if !ok {
			undated++
			continue
		}
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{num: map[string]float64{}, den: map[string]float64{}, counts: map[string]int{}}
			groups[k] = acc
		}
		acc.n++
		if !o.Weight.Present {
			continue
		}
		for _, name := range a.cfg.Outcomes {
			ind, _ := o.Outcome(name)
			y, ok := ind.Float()
			if !ok {
				continue
			}
			acc.num[name] += o.Weight.Num * y
			acc.den[name] += o.Weight.Num
			acc.counts[name]++
		}
	}
	if undated > 0 {
		warnings.Add(core.WarningUnassignedPeriods, undated, "observations without reference date not aggregated")
	}

	cells := make([]estimation.Cell, 0, len(groups))
	empty := make(map[string]int)
	for k, acc := range groups {
		rates := make(map[string]estimation.Rate, len(a.cfg.Outcomes))
		for _, name := range a.cfg.Outcomes {
			r := estimation.Rate{WeightSum: acc.den[name], N: acc.counts[name]}
			if acc.den[name] > 0 {
				r.Defined = true
				r.Value = acc.num[name] / acc.den[name]
			} else {
				empty[name]++
			}
			rates[name] = r
		}
		cells = append(cells, estimation.Cell{Key: k, N: acc.n, Rates: rates})
	}
	for _, name := range a.cfg.Outcomes {
		if empty[name] > 0 {
			warnings = append(warnings, core.Warning{
				Code:      core.WarningInsufficientData,
				Message:   "cells without positive weight excluded",
				Count:     empty[name],
				Variables: []string{name},
			})
		}
	}

	SortCells(cells)
	return cells, warnings
}

// SortCells orders cells by period, age and strata
func SortCells(cells []estimation.Cell) {
	sort.Slice(cells, func(i, j int) bool {
		ki, kj := cells[i].Key, cells[j].Key
		if !ki.Period.Equal(kj.Period) {
			return ki.Period.Before(kj.Period)
		}
		if ki.Age != kj.Age {
			return ki.Age < kj.Age
		}
		return ki.Strata < kj.Strata
	})
}

// Mean is the survey-weighted mean over pairs where both value and weight
// are usable. It fails with ErrInsufficientData rather than returning zero.
func Mean(values, weights []float64) (float64, error) {
	if len(values) != len(weights) {
		return 0, core.NewInvalidInputError("%d values and %d weights", len(values), len(weights))
	}
	var num, den float64
	for i, v := range values {
		w := weights[i]
		if math.IsNaN(v) || math.IsNaN(w) || w < 0 {
			continue
		}
		num += w * v
		den += w
	}
	if den <= 0 {
		return 0, core.NewInsufficientDataError("no positive weight among %d values", len(values))
	}
	return num / den, nil
}

// Usable returns cells whose rate for outcome is defined
func Usable(cells []estimation.Cell, outcome string) ([]estimation.Cell, int) {
	out := make([]estimation.Cell, 0, len(cells))
	for _, c := range cells {
		if c.Rate(outcome).Defined {
			out = append(out, c)
		}
	}
	return out, len(cells) - len(out)
}

// Summary describes the distribution of cell sizes
type Summary struct {
	Cells     int
	MinN      float64
	MedianN   float64
	MaxN      float64
	Periods   int
	FirstDate time.Time
	LastDate  time.Time
}

// Summarize reports cell-size statistics
func Summarize(cells []estimation.Cell) (Summary, error) {
	if len(cells) == 0 {
		return Summary{}, core.NewInsufficientDataError("no cells")
	}
	sizes := make(stats.Float64Data, len(cells))
	periods := make(map[time.Time]bool)
	s := Summary{Cells: len(cells), FirstDate: cells[0].Key.Period, LastDate: cells[0].Key.Period}
	for i, c := range cells {
		sizes[i] = float64(c.N)
		periods[c.Key.Period] = true
		if c.Key.Period.Before(s.FirstDate) {
			s.FirstDate = c.Key.Period
		}
		if c.Key.Period.After(s.LastDate) {
			s.LastDate = c.Key.Period
		}
	}
	var err error
	if s.MinN, err = sizes.Min(); err != nil {
		return Summary{}, err
	}
	if s.MedianN, err = sizes.Median(); err != nil {
		return Summary{}, err
	}
	if s.MaxN, err = sizes.Max(); err != nil {
		return Summary{}, err
	}
	s.Periods = len(periods)
	return s, nil
}
