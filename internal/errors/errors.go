package errors

import (
	stderrors "errors"
	"fmt"
)

// DirError is the structured error type for dirindex.
type DirError struct {
	// Code is the unique error code (e.g., "ERR_304_FETCH_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the failed work may be retried later.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *DirError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DirError) Unwrap() error {
	return e.Cause
}

// Is matches another *DirError by code, so errors.Is(err, ErrNotFound) works
// for any not-found error regardless of message.
func (e *DirError) Is(target error) bool {
	if t, ok := target.(*DirError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DirError) WithDetail(key, value string) *DirError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion.
func (e *DirError) WithSuggestion(suggestion string) *DirError {
	e.Suggestion = suggestion
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrFetchFailed    = &DirError{Code: ErrCodeFetchFailed}
	ErrNotFound       = &DirError{Code: ErrCodeParticipantNotFound}
	ErrStorageFailure = &DirError{Code: ErrCodeStorageFailure}
)

// New creates a new DirError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DirError {
	return &DirError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DirError from an existing error.
func Wrap(code string, err error) *DirError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DirError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// FetchFailure reports that the provider was unreachable or returned an error.
func FetchFailure(message string, cause error) *DirError {
	return New(ErrCodeFetchFailed, message, cause)
}

// NotFound reports that the provider confirmed the participant has no data.
func NotFound(participant string) *DirError {
	return New(ErrCodeParticipantNotFound, "no business card for "+participant, nil).
		WithDetail("participant", participant)
}

// StorageFailure reports an index read or write failure.
func StorageFailure(message string, cause error) *DirError {
	return New(ErrCodeStorageFailure, message, cause)
}

// PreflightFailure reports a startup check that must be fixed before serving.
func PreflightFailure(check, message string) *DirError {
	return New(ErrCodePreflight, check+": "+message, nil).
		WithDetail("check", check).
		WithSuggestion("Run 'dirindex doctor' for details")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DirError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DirError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first DirError in err's chain.
func as(err error) (*DirError, bool) {
	var de *DirError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if de, ok := as(err); ok {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if de, ok := as(err); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DirError.
// Returns empty string if err carries no DirError.
func GetCode(err error) string {
	if de, ok := as(err); ok {
		return de.Code
	}
	return ""
}
