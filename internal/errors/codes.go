// Package errors provides structured error handling for the document pipeline.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Input errors (manifest, files on disk)
//   - 3XX: Extraction errors
//   - 4XX: Index and query errors
//   - 5XX: Cluster errors
//   - 6XX: Network and download errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryInput indicates malformed manifests, rows or missing files.
	CategoryInput Category = "INPUT"
	// CategoryExtraction indicates per-document extraction failures.
	CategoryExtraction Category = "EXTRACTION"
	// CategoryIndex indicates query syntax and index availability errors.
	CategoryIndex Category = "INDEX"
	// CategoryCluster indicates clustering engine errors.
	CategoryCluster Category = "CLUSTER"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeWorkspaceLocked = "ERR_103_WORKSPACE_LOCKED"

	// Input errors (200-299)
	ErrCodeManifestColumn = "ERR_201_MANIFEST_MISSING_COLUMN"
	ErrCodeManifestRow    = "ERR_202_MANIFEST_BAD_ROW"
	ErrCodeFileNotFound   = "ERR_203_FILE_NOT_FOUND"
	ErrCodeInvalidInput   = "ERR_204_INVALID_INPUT"
	ErrCodeDocNotFound    = "ERR_205_DOCUMENT_NOT_FOUND"

	// Extraction errors (300-399)
	ErrCodeUnsupportedFormat = "ERR_301_UNSUPPORTED_FORMAT"
	ErrCodeFileCorrupt       = "ERR_302_FILE_CORRUPT"
	ErrCodeOCRUnavailable    = "ERR_303_OCR_UNAVAILABLE"
	ErrCodeOCRFailed         = "ERR_304_OCR_FAILED"
	ErrCodeEmptyContent      = "ERR_305_EMPTY_CONTENT"

	// Index errors (400-499)
	ErrCodeQuerySyntax      = "ERR_401_QUERY_SYNTAX"
	ErrCodeIndexUnavailable = "ERR_402_INDEX_UNAVAILABLE"
	ErrCodeIndexFailed      = "ERR_403_INDEX_FAILED"
	ErrCodeCorruptIndex     = "ERR_404_CORRUPT_INDEX"

	// Cluster errors (500-599)
	ErrCodeModelUnavailable  = "ERR_501_MODEL_UNAVAILABLE"
	ErrCodeUnknownMethod     = "ERR_502_UNKNOWN_METHOD"
	ErrCodeClusterFailed     = "ERR_503_CLUSTER_FAILED"
	ErrCodeDimensionMismatch = "ERR_504_DIMENSION_MISMATCH"

	// Network errors (600-699)
	ErrCodeNetworkTimeout     = "ERR_601_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_602_NETWORK_UNAVAILABLE"
	ErrCodeHTTPStatus         = "ERR_603_HTTP_STATUS"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
	ErrCodeStorage  = "ERR_902_STORAGE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_301_..." -> '3'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryInput
	case '3':
		return CategoryExtraction
	case '4':
		return CategoryIndex
	case '5':
		return CategoryCluster
	case '6':
		return CategoryNetwork
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeWorkspaceLocked:
		return SeverityFatal
	case ErrCodeManifestRow:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// A model that is unavailable is retryable with a different clustering method.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeModelUnavailable:
		return true
	default:
		return false
	}
}
