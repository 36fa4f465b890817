package policy

import (
	"fmt"
	"sort"
	"time"
)

// TimeUnit is the resolution of relative event time
type TimeUnit string

const (
	UnitMonth   TimeUnit = "month"
	UnitQuarter TimeUnit = "quarter"
)

// Event is one minimum wage reform
type Event struct {
	Name          string    `json:"name" yaml:"name"`
	AgeThreshold  int       `json:"age_threshold" yaml:"age_threshold"`
	ImplementedOn time.Time `json:"implemented_on" yaml:"-"`
}

// Table is the ordered, read-only set of policy events
type Table struct {
	events []Event
}

// NewTable validates and orders events by implementation date
func NewTable(events ...Event) (*Table, error) {
	seen := make(map[string]bool, len(events))
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Name == "" {
			return nil, fmt.Errorf("policy event with empty name")
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("policy event %s declared twice", e.Name)
		}
		if e.ImplementedOn.IsZero() {
			return nil, fmt.Errorf("policy event %s has no implementation date", e.Name)
		}
		if e.AgeThreshold <= 0 {
			return nil, fmt.Errorf("policy event %s has non-positive age threshold %d", e.Name, e.AgeThreshold)
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ImplementedOn.Before(out[j].ImplementedOn) })
	return &Table{events: out}, nil
}

// Events returns a copy of the ordered events
func (t *Table) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Lookup finds an event by name
func (t *Table) Lookup(name string) (Event, bool) {
	for _, e := range t.events {
		if e.Name == name {
			return e, true
		}
	}
	return Event{}, false
}

// Next returns the event implemented after the named one
func (t *Table) Next(name string) (Event, bool) {
	for i, e := range t.events {
		if e.Name == name && i+1 < len(t.events) {
			return t.events[i+1], true
		}
	}
	return Event{}, false
}

// Assignment is the treatment record of one observation or cell for one event
type Assignment struct {
	Event       string `json:"event"`
	Post        bool   `json:"post"`
	AgeEligible bool   `json:"age_eligible"`
	TreatPost   bool   `json:"treat_post"`
	// EventTime is the floored number of periods since implementation
	EventTime int      `json:"event_time"`
	Unit      TimeUnit `json:"unit"`
}

// PostColumn is the conventional column name of the post flag
func (a Assignment) PostColumn() string { return "post_" + a.Event }

// AgeColumn returns the conventional column name of the age flag
func AgeColumn(threshold int) string { return fmt.Sprintf("age_%dp", threshold) }
