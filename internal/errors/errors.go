package errors

import (
	stderrors "errors"
	"fmt"

	"minwage/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping its classification
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    Classify(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code if it's an AppError, otherwise the
// classification of the underlying domain error
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Classify(err)
}

// Predefined error codes
const (
	CodeConfigInvalid         = "CONFIG_INVALID"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeInternalError         = "INTERNAL_ERROR"
	CodeMissingVariable       = "MISSING_VARIABLE"
	CodeInsufficientData      = "INSUFFICIENT_DATA"
	CodeRankDeficientDesign   = "RANK_DEFICIENT_DESIGN"
	CodeUnreliableVariance    = "UNRELIABLE_VARIANCE"
	CodeSingularSubcovariance = "SINGULAR_SUBCOVARIANCE"
	CodeCapacityExceeded      = "CAPACITY_EXCEEDED"
	CodeWaveLoad              = "WAVE_LOAD_ERROR"
)

// Classify maps a domain error chain onto an error code. The most specific
// condition wins: a singular sub-covariance also wraps unreliable variance.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, core.ErrSingularSubcovariance):
		return CodeSingularSubcovariance
	case stderrors.Is(err, core.ErrUnreliableVariance):
		return CodeUnreliableVariance
	case stderrors.Is(err, core.ErrCapacityExceeded):
		return CodeCapacityExceeded
	case stderrors.Is(err, core.ErrMissingVariable):
		return CodeMissingVariable
	case stderrors.Is(err, core.ErrInsufficientData):
		return CodeInsufficientData
	case stderrors.Is(err, core.ErrRankDeficientDesign):
		return CodeRankDeficientDesign
	case stderrors.Is(err, core.ErrInvalidInput):
		return CodeInvalidInput
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{Code: CodeDatabaseError, Message: message, Cause: cause}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func WaveLoadError(wave string, cause error) *AppError {
	return &AppError{
		Code:    CodeWaveLoad,
		Message: fmt.Sprintf("failed to load wave %s", wave),
		Cause:   cause,
	}
}
