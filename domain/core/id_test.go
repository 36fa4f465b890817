package core

import (
	"errors"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestParseRunID tests run ID parsing
func TestParseRunID(t *testing.T) {
	generated := NewRunID()
	tests := []struct {
		input    string
		expected RunID
		hasError bool
	}{
		{generated.String(), generated, false},
		{"  0192f5a4-7c1e-7b3a-9d2e-4f6a8b0c1d2e ", RunID("0192f5a4-7c1e-7b3a-9d2e-4f6a8b0c1d2e"), false},
		{"0192F5A4-7C1E-7B3A-9D2E-4F6A8B0C1D2E", RunID("0192f5a4-7c1e-7b3a-9d2e-4f6a8b0c1d2e"), false},
		{"run-123", "", true},
		{"", "", true},
		{"   ", "", true},
	}

	for _, test := range tests {
		result, err := ParseRunID(test.input)
		if test.hasError {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected invalid input error for '%s', got %v", test.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error for input '%s': %v", test.input, err)
		}
		if result != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, result)
		}
	}
}

func TestNewPipelineIDDistinct(t *testing.T) {
	a, b := NewPipelineID(), NewPipelineID()
	if a == b || ID(a).IsEmpty() {
		t.Errorf("expected distinct non-empty pipeline ids, got %s and %s", a, b)
	}
}

func TestMissingVariableErrorWrapsSentinel(t *testing.T) {
	err := NewMissingVariableError("2016-Q1", "region", "hi_qual")
	if !errors.Is(err, ErrMissingVariable) {
		t.Fatalf("expected ErrMissingVariable, got %v", err)
	}
	if !IsRecoverable(err) {
		t.Error("missing variable should be recoverable")
	}
	if IsNumericalError(err) {
		t.Error("missing variable is not a numerical error")
	}
}

func TestWarningsHas(t *testing.T) {
	var ws Warnings
	ws.Add(WarningDroppedLevels, 3, "dropped %s levels", "age")
	if !ws.Has(WarningDroppedLevels) {
		t.Fatal("expected DROPPED_LEVELS warning")
	}
	if ws.Has(WarningMissingVariable) {
		t.Fatal("unexpected MISSING_VARIABLE warning")
	}
	if got := ws[0].String(); got != "DROPPED_LEVELS: dropped age levels count=3" {
		t.Errorf("unexpected rendering %q", got)
	}
}
