package core

import (
	"fmt"
	"strings"
)

// WarningCode represents structured warning types
type WarningCode string

const (
	WarningMissingVariable   WarningCode = "MISSING_VARIABLE"
	WarningAmbiguousSynonym  WarningCode = "AMBIGUOUS_SYNONYM"
	WarningEmptyWave         WarningCode = "EMPTY_WAVE"
	WarningInsufficientData  WarningCode = "INSUFFICIENT_DATA"
	WarningDroppedLevels     WarningCode = "DROPPED_LEVELS"
	WarningDroppedRows       WarningCode = "DROPPED_ROWS"
	WarningRankDeficient     WarningCode = "RANK_DEFICIENT_DESIGN"
	WarningUnreliableVar     WarningCode = "UNRELIABLE_VARIANCE"
	WarningBandwidthWidened  WarningCode = "BANDWIDTH_WIDENED"
	WarningDuplicatePersons  WarningCode = "DUPLICATE_PERSONS"
	WarningUnassignedPeriods WarningCode = "UNASSIGNED_PERIODS"
	WarningWaveFailed        WarningCode = "WAVE_FAILED"
	WarningUnparsedDates     WarningCode = "UNPARSED_DATES"
)

// Warning is a recovered, component-local condition attached to a result
type Warning struct {
	Code      WarningCode `json:"code"`
	Message   string      `json:"message"`
	Count     int         `json:"count,omitempty"`
	Variables []string    `json:"variables,omitempty"`
	Wave      string      `json:"wave,omitempty"`
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(string(w.Code))
	if w.Wave != "" {
		fmt.Fprintf(&b, " [%s]", w.Wave)
	}
	b.WriteString(": ")
	b.WriteString(w.Message)
	if len(w.Variables) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(w.Variables, ", "))
	}
	if w.Count > 0 {
		fmt.Fprintf(&b, " count=%d", w.Count)
	}
	return b.String()
}

// Warnings is an append-only list of warnings
type Warnings []Warning

// Add appends a warning
func (ws *Warnings) Add(code WarningCode, count int, format string, args ...interface{}) {
	*ws = append(*ws, Warning{Code: code, Count: count, Message: fmt.Sprintf(format, args...)})
}

// Has reports whether any warning carries the code
func (ws Warnings) Has(code WarningCode) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}

// ByCode returns warnings with the given code
func (ws Warnings) ByCode(code WarningCode) []Warning {
	var out []Warning
	for _, w := range ws {
		if w.Code == code {
			out = append(out, w)
		}
	}
	return out
}
