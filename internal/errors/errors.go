package errors

import (
	"errors"
	"fmt"
)

// KBError is the structured error type for freshkb.
// It provides context for error handling, logging, and user presentation.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_605_REFRESH_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new KBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError from an existing error.
// Returns nil if err is nil.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IngestionError indicates the chunk producer failed for a source.
func IngestionError(message string, cause error) *KBError {
	return New(ErrCodeIngestionFailed, message, cause)
}

// EmbeddingError indicates a batch embedding call failed.
func EmbeddingError(message string, cause error) *KBError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// StalenessCheckError indicates a freshness check could not complete.
func StalenessCheckError(message string, cause error) *KBError {
	return New(ErrCodeStalenessCheck, message, cause)
}

// RefreshError indicates a rebuild step failed; the old version is retained.
func RefreshError(message string, cause error) *KBError {
	return New(ErrCodeRefreshFailed, message, cause)
}

// RollbackError indicates the rollback target is not retained in history.
func RollbackError(message string) *KBError {
	return New(ErrCodeRollbackInvalid, message, nil)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ke *KBError
	if errors.As(err, &ke) {
		return ke.Retryable
	}
	return false
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code string) bool {
	var ke *KBError
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

// GetCode extracts the error code from a KBError.
// Returns empty string if not a KBError.
func GetCode(err error) string {
	var ke *KBError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}
