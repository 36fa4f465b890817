package panel

import (
	"fmt"
	"math"

	"minwage/domain/core"
	domainPanel "minwage/domain/panel"
	"minwage/domain/survey"
	"minwage/internal"
)

// DedupPolicy decides how respondents appearing in overlapping waves are
// treated on concatenation
type DedupPolicy string

const (
	// DedupNone keeps every observation; overlapping respondents are counted
	// once per wave they appear in
	DedupNone DedupPolicy = "none"
	// DedupPersonPeriod keeps the first observation of a person id per
	// calendar month (falling back to wave and quarter when undated)
	DedupPersonPeriod DedupPolicy = "person_period"
)

// EmploymentCodes maps employment status codes onto outcomes
type EmploymentCodes struct {
	Employed   []int `yaml:"employed"`
	Unemployed []int `yaml:"unemployed"`
	Inactive   []int `yaml:"inactive"`
}

// DefaultEmploymentCodes is the ILO coding of the survey
func DefaultEmploymentCodes() EmploymentCodes {
	return EmploymentCodes{Employed: []int{1}, Unemployed: []int{2}, Inactive: []int{3}}
}

// Config holds panel construction settings
type Config struct {
	Codes  EmploymentCodes
	Dedup  DedupPolicy
	MinAge int // inclusive, 0 disables
	MaxAge int // inclusive, 0 disables
}

// DefaultConfig returns the default panel settings
func DefaultConfig() Config {
	return Config{Codes: DefaultEmploymentCodes(), Dedup: DedupNone}
}

// Builder reshapes harmonized waves into long-format observations
type Builder struct {
	cfg Config
	log *internal.Logger
}

// NewBuilder creates a panel builder
func NewBuilder(cfg Config, log *internal.Logger) (*Builder, error) {
	switch cfg.Dedup {
	case "":
		cfg.Dedup = DedupNone
	case DedupNone, DedupPersonPeriod:
	default:
		return nil, core.NewInvalidInputError("unknown dedup policy %q", cfg.Dedup)
	}
	if cfg.MinAge > 0 && cfg.MaxAge > 0 && cfg.MinAge > cfg.MaxAge {
		return nil, core.NewInvalidInputError("age window [%d, %d] is empty", cfg.MinAge, cfg.MaxAge)
	}
	if len(cfg.Codes.Employed)+len(cfg.Codes.Unemployed)+len(cfg.Codes.Inactive) == 0 {
		cfg.Codes = DefaultEmploymentCodes()
	}
	if log == nil {
		log = internal.NewNopLogger()
	}
	return &Builder{cfg: cfg, log: log}, nil
}

// WaveObservations is the expansion of one harmonized wave
type WaveObservations struct {
	Wave         survey.WaveID
	Observations []domainPanel.Observation
	Missing      []string
	Dropped      int
}

// Expand produces one observation per (person, quarter), dropping quarters
// with missing age or employment status. RelativeQuarter is left at zero
// until Combine.
func (b *Builder) Expand(hw *survey.HarmonizedWave) WaveObservations {
	out := WaveObservations{Wave: hw.ID, Missing: hw.Missing}
	quarters := hw.ID.QuarterCount()

	for i, rec := range hw.Records {
		pid := rec.Get(survey.VarPersonID, 0)
		personID := pid.Text
		if !pid.Present {
			// Row position is unique within a wave
			personID = fmt.Sprintf("%s#%d", hw.ID, i)
		}
		for q := 1; q <= quarters; q++ {
			fq := q
			if quarters == 1 {
				fq = 0
			}
			age, ok := rec.Num(survey.VarAge, fq)
			if !ok {
				out.Dropped++
				continue
			}
			status, ok := rec.Num(survey.VarEmpStatus, fq)
			if !ok {
				out.Dropped++
				continue
			}
			a := int(math.Floor(age))
			if (b.cfg.MinAge > 0 && a < b.cfg.MinAge) || (b.cfg.MaxAge > 0 && a > b.cfg.MaxAge) {
				continue
			}
			code := int(status)
			out.Observations = append(out.Observations, domainPanel.Observation{
				PersonID:   personID,
				Wave:       hw.ID,
				Quarter:    q,
				Age:        a,
				EmpStatus:  code,
				Unemployed: b.unemployed(code),
				Inactive:   b.inactive(code),
				Sex:        rec.Get(survey.VarSex, fq),
				Ethnicity:  rec.Get(survey.VarEthnicity, fq),
				Region:     rec.Get(survey.VarRegion, fq),
				HiQual:     rec.Get(survey.VarHiQual, fq),
				Weight:     rec.Get(survey.VarWeight, 0),
				RefDate:    rec.Get(survey.VarRefDate, fq),
			})
		}
	}
	return out
}

func (b *Builder) unemployed(code int) domainPanel.Indicator {
	switch {
	case contains(b.cfg.Codes.Unemployed, code):
		return domainPanel.Indicator{Defined: true, Value: true}
	case contains(b.cfg.Codes.Employed, code):
		return domainPanel.Indicator{Defined: true, Value: false}
	}
	return domainPanel.Indicator{}
}

func (b *Builder) inactive(code int) domainPanel.Indicator {
	switch {
	case contains(b.cfg.Codes.Inactive, code):
		return domainPanel.Indicator{Defined: true, Value: true}
	case contains(b.cfg.Codes.Employed, code), contains(b.cfg.Codes.Unemployed, code):
		return domainPanel.Indicator{Defined: true, Value: false}
	}
	return domainPanel.Indicator{}
}

// Combine concatenates per-wave observations in the given order. Waves with
// no valid observations are logged and excluded. Relative quarters are
// computed per person id over the combined set.
func (b *Builder) Combine(waves []WaveObservations) *domainPanel.Panel {
	p := &domainPanel.Panel{MissingByWave: make(map[string][]string)}

	var all []domainPanel.Observation
	for _, w := range waves {
		if len(w.Observations) == 0 {
			b.log.Warn("wave %s produced no valid observations, excluded", w.Wave)
			p.Excluded = append(p.Excluded, w.Wave)
			p.Warnings = append(p.Warnings, core.Warning{
				Code:    core.WarningEmptyWave,
				Wave:    w.Wave.String(),
				Message: "no valid observations after filtering",
				Count:   w.Dropped,
			})
			continue
		}
		if w.Dropped > 0 {
			p.Warnings = append(p.Warnings, core.Warning{
				Code:    core.WarningDroppedRows,
				Wave:    w.Wave.String(),
				Message: "person-quarters with missing age or employment status",
				Count:   w.Dropped,
			})
		}
		p.Waves = append(p.Waves, w.Wave)
		p.MissingByWave[w.Wave.String()] = w.Missing
		all = append(all, w.Observations...)
	}

	if b.cfg.Dedup == DedupPersonPeriod {
		var removed int
		all, removed = dedupPersonPeriod(all)
		if removed > 0 {
			p.Warnings.Add(core.WarningDuplicatePersons, removed, "observations repeated across overlapping waves removed")
		}
	}

	minQuarter := make(map[string]int)
	for _, o := range all {
		if m, ok := minQuarter[o.PersonID]; !ok || o.Quarter < m {
			minQuarter[o.PersonID] = o.Quarter
		}
	}
	p.Observations = make([]domainPanel.Observation, len(all))
	for i, o := range all {
		o.RelativeQuarter = o.Quarter - minQuarter[o.PersonID]
		p.Observations[i] = o
	}

	b.log.Info("panel built: %d observations from %d waves (%d excluded)", len(p.Observations), len(p.Waves), len(p.Excluded))
	return p
}

// Build expands and combines waves
func (b *Builder) Build(waves []*survey.HarmonizedWave) *domainPanel.Panel {
	expanded := make([]WaveObservations, len(waves))
	for i, hw := range waves {
		expanded[i] = b.Expand(hw)
	}
	return b.Combine(expanded)
}

type periodKey struct {
	person string
	month  int
	wave   string
	quart  int
}

func dedupPersonPeriod(obs []domainPanel.Observation) ([]domainPanel.Observation, int) {
	seen := make(map[periodKey]bool, len(obs))
	out := make([]domainPanel.Observation, 0, len(obs))
	for _, o := range obs {
		k := periodKey{person: o.PersonID}
		if d, ok := o.Date(); ok {
			k.month = d.Year()*12 + int(d.Month())
		} else {
			k.wave = o.Wave.String()
			k.quart = o.Quarter
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, o)
	}
	return out, len(obs) - len(out)
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
