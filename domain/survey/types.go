package survey

import (
	"fmt"
	"time"
)

// WaveID identifies one survey release
type WaveID struct {
	Year int `json:"year" yaml:"year"`
	// Label distinguishes rotations within a year, e.g. "JM" or "Q1"
	Label string `json:"label" yaml:"label"`
	// Quarters is the number of per-quarter sub-columns (1 for cross-sections)
	Quarters int `json:"quarters" yaml:"quarters"`
}

func (w WaveID) String() string {
	if w.Label == "" {
		return fmt.Sprintf("%d", w.Year)
	}
	return fmt.Sprintf("%d-%s", w.Year, w.Label)
}

// QuarterCount returns the number of quarters, never less than one
func (w WaveID) QuarterCount() int {
	if w.Quarters < 1 {
		return 1
	}
	return w.Quarters
}

// ValueKind tags the content of a raw cell
type ValueKind int

const (
	KindMissing ValueKind = iota
	KindNumber
	KindText
)

// Value is a raw cell as delivered by a wave loader
type Value struct {
	Kind ValueKind
	Num  float64
	Text string
}

func Number(v float64) Value { return Value{Kind: KindNumber, Num: v} }
func Text(s string) Value    { return Value{Kind: KindText, Text: s} }
func Missing() Value         { return Value{} }

// IsMissing reports whether the cell carries no value
func (v Value) IsMissing() bool { return v.Kind == KindMissing }

// RawRecord is one respondent row: raw column name to value
type RawRecord map[string]Value

// RawWave is immutable once loaded
type RawWave struct {
	ID      WaveID
	Columns []string
	Rows    []RawRecord
}

// HasColumn reports whether the wave carries the raw column
func (w *RawWave) HasColumn(name string) bool {
	for _, c := range w.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ColumnSet returns the columns as a set
func (w *RawWave) ColumnSet() map[string]struct{} {
	set := make(map[string]struct{}, len(w.Columns))
	for _, c := range w.Columns {
		set[c] = struct{}{}
	}
	return set
}

// FieldKind is the semantic type of a canonical variable
type FieldKind string

const (
	FieldNumeric FieldKind = "numeric"
	FieldText    FieldKind = "text"
	FieldDate    FieldKind = "date"
)

// Canonical variable names
const (
	VarPersonID  = "person_id"
	VarAge       = "age"
	VarSex       = "sex"
	VarEmpStatus = "emp_status"
	VarEthnicity = "ethnicity"
	VarRegion    = "region"
	VarHiQual    = "hi_qual"
	VarRefDate   = "ref_date"
	VarWeight    = "weight"
)

// Field is an explicit optional value of a harmonized variable
type Field struct {
	Present bool
	Num     float64
	Text    string
	Time    time.Time
}

// FieldKey addresses a canonical variable, per quarter where relevant.
// Quarter 0 marks a wave-level variable.
type FieldKey struct {
	Name    string
	Quarter int
}

func (k FieldKey) String() string {
	if k.Quarter == 0 {
		return k.Name
	}
	return fmt.Sprintf("%s%d", k.Name, k.Quarter)
}

// HarmonizedRecord is a RawRecord projected onto the canonical variable set
type HarmonizedRecord struct {
	Wave   WaveID
	Fields map[FieldKey]Field
}

// Get returns the field for a canonical name and quarter
func (r HarmonizedRecord) Get(name string, quarter int) Field {
	if f, ok := r.Fields[FieldKey{Name: name, Quarter: quarter}]; ok {
		return f
	}
	return r.Fields[FieldKey{Name: name}]
}

// Num returns the numeric value of a field if present
func (r HarmonizedRecord) Num(name string, quarter int) (float64, bool) {
	f := r.Get(name, quarter)
	return f.Num, f.Present
}

// HarmonizedWave holds every harmonized record of one wave along with the
// resolution outcome
type HarmonizedWave struct {
	ID       WaveID
	Records  []HarmonizedRecord
	Resolved map[FieldKey]string // canonical field -> raw column used
	Missing  []string            // canonical names that could not be resolved
}

// IsMissing reports whether the canonical name was unresolved in this wave
func (w *HarmonizedWave) IsMissing(name string) bool {
	for _, m := range w.Missing {
		if m == name {
			return true
		}
	}
	return false
}
