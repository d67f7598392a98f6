package errors

import (
	"errors"
	"fmt"
)

// DocError is the structured error type used across the pipeline.
// It carries enough context for logging, batch summaries and CLI presentation.
type DocError struct {
	// Code is the unique error code (e.g., "ERR_401_QUERY_SYNTAX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code range.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried, possibly with
	// a different strategy (e.g., another clustering method).
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DocError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so sentinel values work with errors.Is.
func (e *DocError) Is(target error) bool {
	if t, ok := target.(*DocError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DocError) WithDetail(key, value string) *DocError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocError) WithSuggestion(suggestion string) *DocError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DocError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocError {
	return &DocError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocError from an existing error.
// The error's message becomes the DocError message.
func Wrap(code string, err error) *DocError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrQuerySyntax      = &DocError{Code: ErrCodeQuerySyntax}
	ErrIndexUnavailable = &DocError{Code: ErrCodeIndexUnavailable}
	ErrModelUnavailable = &DocError{Code: ErrCodeModelUnavailable}
	ErrOCRUnavailable   = &DocError{Code: ErrCodeOCRUnavailable}
	ErrDocNotFound      = &DocError{Code: ErrCodeDocNotFound}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DocError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InputError creates an input error for manifests and source files.
func InputError(message string, cause error) *DocError {
	return New(ErrCodeInvalidInput, message, cause)
}

// QuerySyntaxError reports a malformed search query at the given position.
func QuerySyntaxError(query string, pos int, message string) *DocError {
	return New(ErrCodeQuerySyntax, message, nil).
		WithDetail("query", query).
		WithDetail("position", fmt.Sprint(pos)).
		WithSuggestion("Check quotes, parentheses and AND/OR/NOT placement")
}

// IndexUnavailableError reports a search against an index that was never built.
func IndexUnavailableError() *DocError {
	return New(ErrCodeIndexUnavailable, "search index has not been built", nil).
		WithSuggestion("Run 'docanalysis index' to build the search index")
}

// ModelUnavailableError reports an embedding model that cannot be reached.
func ModelUnavailableError(model string, cause error) *DocError {
	return New(ErrCodeModelUnavailable, fmt.Sprintf("embedding model %q is unavailable", model), cause).
		WithDetail("model", model).
		WithSuggestion("Retry with --method kmeans or --method lda")
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *DocError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DocError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var de *DocError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var de *DocError
	if errors.As(err, &de) {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DocError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var de *DocError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DocError anywhere in the chain.
func GetCategory(err error) Category {
	var de *DocError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// Reason returns a single-line reason string suitable for batch summaries.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var de *DocError
	if errors.As(err, &de) {
		if de.Cause != nil && de.Cause.Error() != de.Message {
			return fmt.Sprintf("%s: %s: %v", de.Code, de.Message, de.Cause)
		}
		return fmt.Sprintf("%s: %s", de.Code, de.Message)
	}
	return err.Error()
}

func asDocError(err error) (*DocError, bool) {
	var de *DocError
	ok := errors.As(err, &de)
	return de, ok
}
