package core

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - centralized error definitions
var (
	ErrInvalidInput = errors.New("invalid input")

	// Recoverable by exclusion
	ErrMissingVariable     = errors.New("missing variable")
	ErrInsufficientData    = errors.New("insufficient data for analysis")
	ErrRankDeficientDesign = errors.New("rank deficient design")

	// Numerical stability, never suppressed
	ErrUnreliableVariance    = errors.New("unreliable variance")
	ErrSingularSubcovariance = errors.New("singular sub-covariance")

	// Fatal for one estimation call
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// Error constructors with context
func NewMissingVariableError(wave string, names ...string) error {
	if wave == "" {
		return fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(names, ", "))
	}
	return fmt.Errorf("%w: %s not resolved in wave %s", ErrMissingVariable, strings.Join(names, ", "), wave)
}

func NewInsufficientDataError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInsufficientData, fmt.Sprintf(format, args...))
}

func NewCapacityError(what string, got, limit int) error {
	return fmt.Errorf("%w: %s is %d, limit %d", ErrCapacityExceeded, what, got, limit)
}

func NewInvalidInputError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Error checking helpers
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMissingVariable) ||
		errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrRankDeficientDesign)
}

func IsNumericalError(err error) bool {
	return errors.Is(err, ErrUnreliableVariance) || errors.Is(err, ErrSingularSubcovariance)
}
