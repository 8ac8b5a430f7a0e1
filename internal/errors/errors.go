// Package errors defines the typed error taxonomy for the comovement
// analysis engine. Structural errors (dimension mismatch, bad
// configuration) are fatal and abort a run; data-quality errors are
// recoverable — the affected pair, period or analysis is excluded and
// the run continues.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies an analysis error.
type ErrorType string

const (
	ErrTypeDimensionMismatch    ErrorType = "DIMENSION_MISMATCH"
	ErrTypeUndefinedCorrelation ErrorType = "UNDEFINED_CORRELATION"
	ErrTypeInsufficientData     ErrorType = "INSUFFICIENT_DATA"
	ErrTypeDegenerateLabel      ErrorType = "DEGENERATE_LABEL"
	ErrTypeMissingVector        ErrorType = "MISSING_VECTOR"
	ErrTypeConfig               ErrorType = "CONFIG"
	ErrTypeSource               ErrorType = "SOURCE"
)

// AppError is an application-specific error with a type, optional cause
// and free-form context for logging.
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to see through AppError.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value to the error and returns it.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error.
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewDimensionMismatchError signals embeddings of incompatible
// dimensionality in one selection set. Fatal: mixed models must never
// be silently combined.
func NewDimensionMismatchError(message string, cause error) *AppError {
	return NewAppError(ErrTypeDimensionMismatch, message, cause)
}

// NewUndefinedCorrelationError signals a correlation window with zero
// variance in at least one series.
func NewUndefinedCorrelationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeUndefinedCorrelation, message, cause)
}

// NewInsufficientDataError signals too few observations for a
// statistically meaningful result.
func NewInsufficientDataError(message string, cause error) *AppError {
	return NewAppError(ErrTypeInsufficientData, message, cause)
}

// NewDegenerateLabelError signals an AUC label set with only one class.
func NewDegenerateLabelError(message string, cause error) *AppError {
	return NewAppError(ErrTypeDegenerateLabel, message, cause)
}

// NewMissingVectorError signals a firm without a selected vector for a
// period.
func NewMissingVectorError(message string, cause error) *AppError {
	return NewAppError(ErrTypeMissingVector, message, cause)
}

// NewConfigError signals malformed configuration.
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewSourceError signals a boundary collaborator failure.
func NewSourceError(message string, cause error) *AppError {
	return NewAppError(ErrTypeSource, message, cause)
}

// TypeOf extracts the ErrorType from err, or "" when err carries none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsFatal reports whether err must abort the whole run. Per-pair and
// per-period failures are recoverable; only structural errors are fatal.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrTypeDimensionMismatch, ErrTypeConfig:
		return true
	default:
		return false
	}
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	return TypeOf(err) == errType
}
