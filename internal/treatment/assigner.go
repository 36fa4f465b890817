package treatment

import (
	"time"

	"minwage/domain/core"
	domainPanel "minwage/domain/panel"
	"minwage/domain/policy"
)

// Assigner computes treatment flags against the policy table
type Assigner struct {
	table *policy.Table
	unit  policy.TimeUnit
}

// NewAssigner creates an assigner measuring event time in unit
func NewAssigner(table *policy.Table, unit policy.TimeUnit) (*Assigner, error) {
	if table == nil {
		return nil, core.NewInvalidInputError("policy table is required")
	}
	switch unit {
	case "":
		unit = policy.UnitQuarter
	case policy.UnitMonth, policy.UnitQuarter:
	default:
		return nil, core.NewInvalidInputError("unknown time unit %q", unit)
	}
	return &Assigner{table: table, unit: unit}, nil
}

// Unit returns the event-time unit
func (a *Assigner) Unit() policy.TimeUnit { return a.unit }

// Assign evaluates one event for an age and survey date
func (a *Assigner) Assign(e policy.Event, age int, date time.Time) policy.Assignment {
	post := !date.Before(e.ImplementedOn)
	eligible := age >= e.AgeThreshold
	return policy.Assignment{
		Event:       e.Name,
		Post:        post,
		AgeEligible: eligible,
		TreatPost:   post && eligible,
		EventTime:   RelativeTime(date, e.ImplementedOn, a.unit),
		Unit:        a.unit,
	}
}

// AssignAll evaluates every event independently; flags are not exclusive
func (a *Assigner) AssignAll(age int, date time.Time) []policy.Assignment {
	events := a.table.Events()
	out := make([]policy.Assignment, len(events))
	for i, e := range events {
		out[i] = a.Assign(e, age, date)
	}
	return out
}

// Assigned pairs an observation index with its treatment record
type Assigned struct {
	Index      int
	Assignment policy.Assignment
}

// AssignPanel evaluates one event for every dated observation. Undated
// observations cannot be placed and are counted in the warning.
func (a *Assigner) AssignPanel(p *domainPanel.Panel, eventName string) ([]Assigned, core.Warnings, error) {
	e, ok := a.table.Lookup(eventName)
	if !ok {
		return nil, nil, core.NewInvalidInputError("unknown policy event %s", eventName)
	}
	var warnings core.Warnings
	out := make([]Assigned, 0, len(p.Observations))
	undated := 0
	for i, o := range p.Observations {
		d, ok := o.Date()
		if !ok {
			undated++
			continue
		}
		out = append(out, Assigned{Index: i, Assignment: a.Assign(e, o.Age, d)})
	}
	if undated > 0 {
		warnings.Add(core.WarningUnassignedPeriods, undated, "observations without reference date excluded from %s", e.Name)
	}
	return out, warnings, nil
}

// RelativeTime is the number of whole periods from implementation to date,
// floored toward negative infinity so every date within a period maps to the
// same index
func RelativeTime(date, implemented time.Time, unit policy.TimeUnit) int {
	months := (date.Year()-implemented.Year())*12 + int(date.Month()) - int(implemented.Month())
	if date.Day() < implemented.Day() {
		months--
	}
	if unit == policy.UnitMonth {
		return months
	}
	return floorDiv(months, 3)
}

// PeriodStart truncates a date to its calendar month or quarter
func PeriodStart(d time.Time, unit policy.TimeUnit) time.Time {
	m := d.Month()
	if unit == policy.UnitQuarter {
		m = time.Month((int(m)-1)/3*3 + 1)
	}
	return time.Date(d.Year(), m, 1, 0, 0, 0, 0, time.UTC)
}

// BinEventTime clamps event time to [lo, hi]; endpoints absorb the tails
func BinEventTime(k, lo, hi int) int {
	if k < lo {
		return lo
	}
	if k > hi {
		return hi
	}
	return k
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
