package econometrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"minwage/domain/core"
	"minwage/domain/estimation"
	domainPanel "minwage/domain/panel"
	"minwage/domain/policy"
	"minwage/domain/survey"
	"minwage/internal/treatment"
)

// Factor keys a Row always carries
const (
	KeyAge    = "age"
	KeyPeriod = "period"
	KeyStrata = "strata"
	KeyWave   = "wave"
	KeyPerson = "person"
)

// Row is one regression unit: a panel observation or an aggregated cell
type Row struct {
	Y          float64
	Weight     float64
	Age        int
	Date       time.Time
	Keys       map[string]string
	Covariates map[string]float64
}

// Window bounds binned event time; the endpoints absorb the tails
type Window struct {
	Lo int `yaml:"lo"`
	Hi int `yaml:"hi"`
}

// DesignSpec describes one DiD or event-study regression
type DesignSpec struct {
	Event        policy.Event
	Outcome      string
	Unit         policy.TimeUnit
	MinAge       int
	MaxAge       int
	From, To     time.Time
	FixedEffects []string
	Clusters     []string
	Covariates   []string

	Window    *Window
	Reference []int
}

// DefaultReference is the omitted event time when none is configured
var DefaultReference = []int{-1}

// DiDDesign builds y ~ treat_post + covariates | fixed effects, where
// treat_post is post(date) * eligible(age) for the design's event
func DiDDesign(rows []Row, spec DesignSpec) (*estimation.Design, error) {
	sample, d, err := baseDesign(rows, spec, estimation.ModelDiD)
	if err != nil {
		return nil, err
	}
	tp := make([]float64, len(sample))
	for i, r := range sample {
		if !r.Date.Before(spec.Event.ImplementedOn) && r.Age >= spec.Event.AgeThreshold {
			tp[i] = 1
		}
	}
	d.Terms = append([]estimation.Term{{Name: estimation.TreatPostTerm, Kind: estimation.TermInteraction, Values: tp}}, d.Terms...)
	return d, nil
}

// EventStudyDesign builds one eligible x 1{event time = k} column for every
// k in the window except the reference set, which is the normalisation
// baseline and never estimated
func EventStudyDesign(rows []Row, spec DesignSpec) (*estimation.Design, error) {
	sample, d, err := baseDesign(rows, spec, estimation.ModelEventStudy)
	if err != nil {
		return nil, err
	}
	unit := spec.Unit
	if unit == "" {
		unit = policy.UnitQuarter
	}
	ref := spec.Reference
	if len(ref) == 0 {
		ref = DefaultReference
	}

	times := make([]int, len(sample))
	lo, hi := 0, 0
	for i, r := range sample {
		times[i] = treatment.RelativeTime(r.Date, spec.Event.ImplementedOn, unit)
		if i == 0 || times[i] < lo {
			lo = times[i]
		}
		if i == 0 || times[i] > hi {
			hi = times[i]
		}
	}
	if spec.Window != nil {
		if spec.Window.Lo > spec.Window.Hi {
			return nil, core.NewInvalidInputError("event window [%d, %d] is empty", spec.Window.Lo, spec.Window.Hi)
		}
		lo, hi = spec.Window.Lo, spec.Window.Hi
		for i := range times {
			times[i] = treatment.BinEventTime(times[i], lo, hi)
		}
	}
	omit := make(map[int]bool, len(ref))
	for _, k := range ref {
		if k < lo || k > hi {
			return nil, core.NewInvalidInputError("reference period %d outside event window [%d, %d]", k, lo, hi)
		}
		omit[k] = true
	}

	var terms []estimation.Term
	for k := lo; k <= hi; k++ {
		if omit[k] {
			continue
		}
		col := make([]float64, len(sample))
		for i, r := range sample {
			if times[i] == k && r.Age >= spec.Event.AgeThreshold {
				col[i] = 1
			}
		}
		terms = append(terms, estimation.Term{Name: estimation.EventTimeTerm(k), Kind: estimation.TermEventTime, Values: col, EventTime: k})
	}
	if len(terms) == 0 {
		return nil, core.NewInsufficientDataError("event window [%d, %d] holds only reference periods", lo, hi)
	}
	d.Terms = append(terms, d.Terms...)
	d.Reference = append([]int(nil), ref...)
	sort.Ints(d.Reference)
	return d, nil
}

// baseDesign filters rows to the analysis sample and fills outcome,
// weights, covariates, fixed effects and clusters
func baseDesign(rows []Row, spec DesignSpec, model estimation.Model) ([]Row, *estimation.Design, error) {
	if spec.Event.Name == "" {
		return nil, nil, core.NewInvalidInputError("design needs a policy event")
	}
	required := make([]string, 0, len(spec.FixedEffects)+len(spec.Clusters))
	required = append(required, spec.FixedEffects...)
	required = append(required, spec.Clusters...)
	if err := requireKeys(rows, required, spec.Covariates); err != nil {
		return nil, nil, err
	}

	d := &estimation.Design{Model: model, Outcome: spec.Outcome}
	var sample []Row
	outside, incomplete := 0, 0
	for _, r := range rows {
		if (spec.MinAge > 0 && r.Age < spec.MinAge) || (spec.MaxAge > 0 && r.Age > spec.MaxAge) {
			outside++
			continue
		}
		if (!spec.From.IsZero() && r.Date.Before(spec.From)) || (!spec.To.IsZero() && !r.Date.Before(spec.To)) {
			outside++
			continue
		}
		if !complete(r, required, spec.Covariates) {
			incomplete++
			continue
		}
		sample = append(sample, r)
	}
	d.Excluded = incomplete
	if incomplete > 0 {
		d.Warnings.Add(core.WarningDroppedRows, incomplete, "rows missing a fixed-effect, cluster or covariate value dropped")
	}
	if len(sample) == 0 {
		return nil, nil, core.NewInsufficientDataError("no rows in sample for %s (%d outside window)", spec.Event.Name, outside)
	}

	d.Y = make([]float64, len(sample))
	d.Weights = make([]float64, len(sample))
	for i, r := range sample {
		d.Y[i] = r.Y
		d.Weights[i] = r.Weight
	}
	for _, name := range spec.Covariates {
		col := make([]float64, len(sample))
		for i, r := range sample {
			col[i] = r.Covariates[name]
		}
		d.Terms = append(d.Terms, estimation.Term{Name: name, Kind: estimation.TermCovariate, Values: col})
	}
	d.FixedEffects = factors(sample, spec.FixedEffects)
	d.Clusters = factors(sample, spec.Clusters)
	return sample, d, nil
}

func factors(rows []Row, names []string) []estimation.Factor {
	out := make([]estimation.Factor, 0, len(names))
	for _, name := range names {
		levels := make([]string, len(rows))
		for i, r := range rows {
			levels[i] = r.Keys[name]
		}
		out = append(out, estimation.Factor{Name: name, Levels: levels})
	}
	return out
}

// requireKeys fails when a key is absent from every row: the variable was
// never resolved and the regression cannot be specified
func requireKeys(rows []Row, keys, covariates []string) error {
	var missing []string
	for _, k := range keys {
		found := false
		for _, r := range rows {
			if _, ok := r.Keys[k]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, k)
		}
	}
	for _, c := range covariates {
		found := false
		for _, r := range rows {
			if _, ok := r.Covariates[c]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 && len(rows) > 0 {
		return core.NewMissingVariableError("", missing...)
	}
	return nil
}

func complete(r Row, keys, covariates []string) bool {
	for _, k := range keys {
		if v, ok := r.Keys[k]; !ok || v == "" {
			return false
		}
	}
	for _, c := range covariates {
		if _, ok := r.Covariates[c]; !ok {
			return false
		}
	}
	return true
}

// RequireVariables fails with ErrMissingVariable when a canonical variable
// was not resolved in some contributing wave
func RequireVariables(p *domainPanel.Panel, names ...string) error {
	for _, name := range names {
		if !isSurveyVariable(name) {
			continue
		}
		if waves := p.WavesMissing(name); len(waves) > 0 {
			return core.NewMissingVariableError(strings.Join(waves, ", "), name)
		}
	}
	return nil
}

func isSurveyVariable(name string) bool {
	switch name {
	case survey.VarSex, survey.VarEthnicity, survey.VarRegion, survey.VarHiQual, survey.VarWeight:
		return true
	}
	return false
}

// RowsFromObservations converts dated observations with a defined outcome
// into regression rows. Covariate columns are numeric survey fields.
func RowsFromObservations(p *domainPanel.Panel, outcome string, unit policy.TimeUnit, covariates []string) ([]Row, core.Warnings, error) {
	if err := RequireVariables(p, covariates...); err != nil {
		return nil, nil, err
	}
	if unit == "" {
		unit = policy.UnitQuarter
	}
	var warnings core.Warnings
	rows := make([]Row, 0, len(p.Observations))
	undefined, unweighted := 0, 0
	for _, o := range p.Observations {
		ind, ok := o.Outcome(outcome)
		if !ok {
			return nil, nil, core.NewInvalidInputError("unknown outcome %s", outcome)
		}
		y, defined := ind.Float()
		d, dated := o.Date()
		if !defined || !dated {
			undefined++
			continue
		}
		if !o.Weight.Present || o.Weight.Num <= 0 {
			unweighted++
			continue
		}
		r := Row{
			Y:      y,
			Weight: o.Weight.Num,
			Age:    o.Age,
			Date:   d,
			Keys: map[string]string{
				KeyAge:    strconv.Itoa(o.Age),
				KeyPeriod: periodLabel(d, unit),
				KeyWave:   o.Wave.String(),
				KeyPerson: o.Wave.String() + "|" + o.PersonID,
				KeyStrata: "all",
			},
			Covariates: make(map[string]float64, len(covariates)),
		}
		for _, name := range []string{survey.VarSex, survey.VarEthnicity, survey.VarRegion, survey.VarHiQual} {
			if f := o.Covariate(name); f.Present {
				r.Keys[name] = fieldLabel(f)
			}
		}
		for _, name := range covariates {
			if f := o.Covariate(name); f.Present {
				r.Covariates[name] = f.Num
			}
		}
		rows = append(rows, r)
	}
	if undefined > 0 {
		warnings.Add(core.WarningInsufficientData, undefined, "observations with undefined %s or no reference date excluded", outcome)
	}
	if unweighted > 0 {
		warnings.Add(core.WarningDroppedRows, unweighted, "observations without a positive survey weight excluded")
	}
	return rows, warnings, nil
}

// RowsFromCells converts aggregated cells into rows weighted by the cell's
// weight sum for the outcome. Cells with an undefined rate are excluded.
func RowsFromCells(cells []estimation.Cell, outcome string, unit policy.TimeUnit) ([]Row, core.Warnings) {
	if unit == "" {
		unit = policy.UnitQuarter
	}
	var warnings core.Warnings
	rows := make([]Row, 0, len(cells))
	skipped := 0
	for _, c := range cells {
		rate := c.Rate(outcome)
		if !rate.Defined || rate.WeightSum <= 0 {
			skipped++
			continue
		}
		r := Row{
			Y:      rate.Value,
			Weight: rate.WeightSum,
			Age:    c.Key.Age,
			Date:   c.Key.Period,
			Keys: map[string]string{
				KeyAge:    strconv.Itoa(c.Key.Age),
				KeyPeriod: periodLabel(c.Key.Period, unit),
				KeyStrata: c.Key.Strata,
			},
		}
		for _, part := range strings.Split(c.Key.Strata, ",") {
			name, value, ok := strings.Cut(part, "=")
			if ok && value != "NA" {
				r.Keys[name] = value
			}
		}
		rows = append(rows, r)
	}
	if skipped > 0 {
		warnings.Add(core.WarningInsufficientData, skipped, "cells with undefined %s rate excluded", outcome)
	}
	return rows, warnings
}

func periodLabel(d time.Time, unit policy.TimeUnit) string {
	start := treatment.PeriodStart(d, unit)
	if unit == policy.UnitQuarter {
		return fmt.Sprintf("%dQ%d", start.Year(), (int(start.Month())-1)/3+1)
	}
	return start.Format("2006-01")
}

func fieldLabel(f survey.Field) string {
	if f.Text != "" {
		return f.Text
	}
	return strconv.FormatFloat(f.Num, 'g', -1, 64)
}
