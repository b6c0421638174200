// Package errors provides structured error handling for dirindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index, pending-work file)
//   - 3XX: Fetch errors (business card provider)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index and file I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryFetch indicates errors talking to the business card provider.
	CategoryFetch Category = "FETCH"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeFileCorrupt    = "ERR_206_FILE_CORRUPT"
	ErrCodeIndexOpen      = "ERR_207_INDEX_OPEN"
	ErrCodeStorageFailure = "ERR_208_STORAGE_FAILURE"
	ErrCodeIndexLocked    = "ERR_209_INDEX_LOCKED"
	ErrCodeStoreClosed    = "ERR_210_STORE_CLOSED"
	ErrCodePreflight      = "ERR_211_PREFLIGHT_FAILED"

	// Fetch errors (300-399)
	ErrCodeFetchFailed         = "ERR_304_FETCH_FAILED"
	ErrCodeParticipantNotFound = "ERR_305_PARTICIPANT_NOT_FOUND"

	// Validation errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidParticipant = "ERR_407_INVALID_PARTICIPANT"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "208" from "ERR_208_STORAGE_FAILURE")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryFetch
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexOpen, ErrCodeIndexLocked, ErrCodePreflight:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode reports whether the indexer may retry after an error with this code.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeFetchFailed, ErrCodeStorageFailure:
		return true
	default:
		return false
	}
}
