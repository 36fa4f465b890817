package panel

import (
	"time"

	"minwage/domain/core"
	"minwage/domain/survey"
)

// Observation is one (person, quarter) row of the long-format panel
type Observation struct {
	PersonID  string        `json:"person_id"`
	Wave      survey.WaveID `json:"wave"`
	Quarter   int           `json:"quarter"`
	Age       int           `json:"age"`
	EmpStatus int           `json:"emp_status"`

	// Outcomes are explicit optionals: Unemployed is undefined for the
	// economically inactive
	Unemployed Indicator `json:"unemployed"`
	Inactive   Indicator `json:"inactive"`

	Sex       survey.Field `json:"-"`
	Ethnicity survey.Field `json:"-"`
	Region    survey.Field `json:"-"`
	HiQual    survey.Field `json:"-"`
	Weight    survey.Field `json:"-"`
	RefDate   survey.Field `json:"-"`

	RelativeQuarter int `json:"relative_quarter"`
}

// Indicator is an optional binary outcome
type Indicator struct {
	Defined bool
	Value   bool
}

// Float returns 1 or 0 and whether the indicator is defined
func (i Indicator) Float() (float64, bool) {
	if !i.Defined {
		return 0, false
	}
	if i.Value {
		return 1, true
	}
	return 0, true
}

// Date returns the interview reference date if known
func (o Observation) Date() (time.Time, bool) {
	return o.RefDate.Time, o.RefDate.Present
}

// Covariate returns a demographic covariate by canonical name
func (o Observation) Covariate(name string) survey.Field {
	switch name {
	case survey.VarSex:
		return o.Sex
	case survey.VarEthnicity:
		return o.Ethnicity
	case survey.VarRegion:
		return o.Region
	case survey.VarHiQual:
		return o.HiQual
	case survey.VarWeight:
		return o.Weight
	case survey.VarAge:
		return survey.Field{Present: true, Num: float64(o.Age)}
	case survey.VarEmpStatus:
		return survey.Field{Present: true, Num: float64(o.EmpStatus)}
	}
	return survey.Field{}
}

// Outcome returns the binary outcome by name
func (o Observation) Outcome(name string) (Indicator, bool) {
	switch name {
	case OutcomeUnemployed:
		return o.Unemployed, true
	case OutcomeInactive:
		return o.Inactive, true
	}
	return Indicator{}, false
}

const (
	OutcomeUnemployed = "unemployed"
	OutcomeInactive   = "inactive"
)

// Panel is the concatenation of per-wave observations. Values are never
// mutated after construction.
type Panel struct {
	Observations []Observation
	Waves        []survey.WaveID
	Excluded     []survey.WaveID
	// MissingByWave lists canonical names unresolved per contributing wave
	MissingByWave map[string][]string
	Warnings      core.Warnings
}

// WavesMissing returns the contributing waves that did not resolve name
func (p *Panel) WavesMissing(name string) []string {
	var out []string
	for _, w := range p.Waves {
		for _, m := range p.MissingByWave[w.String()] {
			if m == name {
				out = append(out, w.String())
				break
			}
		}
	}
	return out
}

// Len returns the number of observations
func (p *Panel) Len() int { return len(p.Observations) }
