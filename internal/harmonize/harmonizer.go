package harmonize

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"minwage/domain/core"
	"minwage/domain/survey"
	"minwage/internal"
)

// DefaultDateLayout is the day-month-year layout of survey reference dates
const DefaultDateLayout = "02/01/2006"

// unpaddedDateLayout accepts "1/3/2017" alongside the default layout
const unpaddedDateLayout = "2/1/2006"

// Harmonizer projects raw waves onto the canonical variable set
type Harmonizer struct {
	vars       survey.VariableMap
	dateLayout string
	log        *internal.Logger
}

// Option configures a Harmonizer
type Option func(*Harmonizer)

// WithDateLayout overrides the reference date layout
func WithDateLayout(layout string) Option {
	return func(h *Harmonizer) {
		if layout != "" {
			h.dateLayout = layout
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *internal.Logger) Option {
	return func(h *Harmonizer) {
		if log != nil {
			h.log = log
		}
	}
}

// New creates a harmonizer; the variable map is validated once here
func New(vars survey.VariableMap, opts ...Option) (*Harmonizer, error) {
	if err := vars.Validate(); err != nil {
		return nil, core.NewInvalidInputError("variable map: %v", err)
	}
	h := &Harmonizer{
		vars:       vars,
		dateLayout: DefaultDateLayout,
		log:        internal.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// resolution is the per-wave plan: which raw column feeds which field
type resolution struct {
	field survey.FieldKey
	kind  survey.FieldKind
	raw   string
}

// plan resolves every canonical field of a wave against its columns. The
// first synonym present in declared order wins.
func (h *Harmonizer) plan(w *survey.RawWave) ([]resolution, []string, core.Warnings) {
	cols := w.ColumnSet()
	var plan []resolution
	var warnings core.Warnings
	missingSet := make(map[string]bool)

	for _, v := range h.vars.Variables {
		quarters := []int{0}
		if v.PerQuarter && w.ID.QuarterCount() > 1 {
			quarters = quarters[:0]
			for q := 1; q <= w.ID.QuarterCount(); q++ {
				quarters = append(quarters, q)
			}
		}

		unresolved := 0
		var unresolvedKeys []string
		for _, q := range quarters {
			key := survey.FieldKey{Name: v.Name, Quarter: q}
			var present []string
			for _, syn := range h.vars.SynonymsFor(v, w.ID, q) {
				if _, ok := cols[syn]; ok {
					present = append(present, syn)
				}
			}
			if len(present) == 0 {
				unresolved++
				unresolvedKeys = append(unresolvedKeys, key.String())
				continue
			}
			if len(present) > 1 {
				warnings = append(warnings, core.Warning{
					Code:      core.WarningAmbiguousSynonym,
					Wave:      w.ID.String(),
					Message:   "more than one synonym present, using " + present[0],
					Variables: present,
				})
			}
			plan = append(plan, resolution{field: key, kind: v.Kind, raw: present[0]})
		}

		switch {
		case unresolved == len(quarters):
			missingSet[v.Name] = true
		case unresolved > 0:
			for _, k := range unresolvedKeys {
				missingSet[k] = true
			}
		}
	}

	missing := make([]string, 0, len(missingSet))
	for name := range missingSet {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		warnings = append(warnings, core.Warning{
			Code:      core.WarningMissingVariable,
			Wave:      w.ID.String(),
			Message:   "canonical variables not resolved",
			Variables: missing,
		})
	}
	return plan, missing, warnings
}

// Harmonize produces the harmonized wave. An unresolved canonical variable
// is reported once as a warning and the wave proceeds without it.
func (h *Harmonizer) Harmonize(w *survey.RawWave) (*survey.HarmonizedWave, core.Warnings) {
	plan, missing, warnings := h.plan(w)
	if len(missing) > 0 {
		h.log.Warn("wave %s: unresolved canonical variables %s", w.ID, strings.Join(missing, ", "))
	}

	resolved := make(map[survey.FieldKey]string, len(plan))
	for _, r := range plan {
		resolved[r.field] = r.raw
	}

	records := make([]survey.HarmonizedRecord, len(w.Rows))
	unparsed := make(map[string]int)
	for i, row := range w.Rows {
		fields := make(map[survey.FieldKey]survey.Field, len(plan))
		for _, r := range plan {
			v := row[r.raw]
			f := h.convert(v, r.kind)
			if r.kind == survey.FieldDate && !f.Present && !blank(v) {
				unparsed[r.raw]++
			}
			fields[r.field] = f
		}
		records[i] = survey.HarmonizedRecord{Wave: w.ID, Fields: fields}
	}
	if len(unparsed) > 0 {
		cols := make([]string, 0, len(unparsed))
		total := 0
		for col, n := range unparsed {
			cols = append(cols, col)
			total += n
		}
		sort.Strings(cols)
		warnings = append(warnings, core.Warning{
			Code:      core.WarningUnparsedDates,
			Wave:      w.ID.String(),
			Message:   "dates not matching layout " + h.dateLayout + " set to missing",
			Count:     total,
			Variables: cols,
		})
		h.log.Warn("wave %s: %d unparseable dates in %s", w.ID, total, strings.Join(cols, ", "))
	}

	h.log.Debug("wave %s: harmonized %d records, %d fields resolved", w.ID, len(records), len(plan))
	return &survey.HarmonizedWave{
		ID:       w.ID,
		Records:  records,
		Resolved: resolved,
		Missing:  missing,
	}, warnings
}

// convert applies type coercion after renaming. Negative numeric codes are
// survey sentinels and become missing here and nowhere else.
func (h *Harmonizer) convert(v survey.Value, kind survey.FieldKind) survey.Field {
	switch kind {
	case survey.FieldNumeric:
		x, ok := numeric(v)
		if !ok || math.IsNaN(x) || x < 0 {
			return survey.Field{}
		}
		return survey.Field{Present: true, Num: x}
	case survey.FieldText:
		switch v.Kind {
		case survey.KindText:
			s := strings.TrimSpace(v.Text)
			if s == "" {
				return survey.Field{}
			}
			return survey.Field{Present: true, Text: s}
		case survey.KindNumber:
			return survey.Field{Present: true, Text: strconv.FormatFloat(v.Num, 'f', -1, 64), Num: v.Num}
		}
		return survey.Field{}
	case survey.FieldDate:
		if v.Kind != survey.KindText {
			return survey.Field{}
		}
		t, ok := h.parseDate(strings.TrimSpace(v.Text))
		if !ok {
			return survey.Field{}
		}
		return survey.Field{Present: true, Time: t}
	}
	return survey.Field{}
}

func (h *Harmonizer) parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(h.dateLayout, s); err == nil {
		return t, true
	}
	if h.dateLayout == DefaultDateLayout {
		if t, err := time.Parse(unpaddedDateLayout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// blank reports an absent value or empty text
func blank(v survey.Value) bool {
	return v.IsMissing() || (v.Kind == survey.KindText && strings.TrimSpace(v.Text) == "")
}

func numeric(v survey.Value) (float64, bool) {
	switch v.Kind {
	case survey.KindNumber:
		return v.Num, true
	case survey.KindText:
		s := strings.TrimSpace(v.Text)
		if s == "" {
			return 0, false
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return x, true
	}
	return 0, false
}
