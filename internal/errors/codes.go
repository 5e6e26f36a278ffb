// Package errors provides structured error handling for freshkb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, index artifacts)
//   - 3XX: Network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Retrieval/refresh pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and index artifact I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryPipeline indicates ingestion/index/refresh pipeline errors.
	CategoryPipeline Category = "PIPELINE"
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

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeStoreClosed  = "ERR_203_STORE_CLOSED"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeSourceNotFound    = "ERR_403_SOURCE_NOT_FOUND"
	ErrCodeSourceExists      = "ERR_404_SOURCE_EXISTS"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"

	// Pipeline errors (600-699)
	ErrCodeIngestionFailed  = "ERR_601_INGESTION_FAILED"
	ErrCodeEmbeddingFailed  = "ERR_602_EMBEDDING_FAILED"
	ErrCodeIndexUnavailable = "ERR_603_INDEX_UNAVAILABLE"
	ErrCodeStalenessCheck   = "ERR_604_STALENESS_CHECK"
	ErrCodeRefreshFailed    = "ERR_605_REFRESH_FAILED"
	ErrCodeRollbackInvalid  = "ERR_606_ROLLBACK_INVALID"
	ErrCodeRefreshInFlight  = "ERR_607_REFRESH_IN_FLIGHT"
	ErrCodeRefreshCooldown  = "ERR_608_REFRESH_COOLDOWN"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryPipeline
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeStalenessCheck, ErrCodeRefreshCooldown:
		return true
	default:
		return false
	}
}
