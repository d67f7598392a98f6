package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with DocError
	docErr := New(ErrCodeFileCorrupt, "corrupt pdf: a.pdf", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, docErr)
	assert.Equal(t, originalErr, errors.Unwrap(docErr))
	assert.True(t, errors.Is(docErr, originalErr))
}

func TestDocError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config error", ErrCodeConfigNotFound, "config file not found", "[ERR_101_CONFIG_NOT_FOUND] config file not found"},
		{"query error", ErrCodeQuerySyntax, "unbalanced quote", "[ERR_401_QUERY_SYNTAX] unbalanced quote"},
		{"network error", ErrCodeNetworkTimeout, "request timed out", "[ERR_601_NETWORK_TIMEOUT] request timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestDocError_Category_DerivedFromCodeRange(t *testing.T) {
	tests := []struct {
		code     string
		expected Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeManifestColumn, CategoryInput},
		{ErrCodeOCRUnavailable, CategoryExtraction},
		{ErrCodeIndexUnavailable, CategoryIndex},
		{ErrCodeModelUnavailable, CategoryCluster},
		{ErrCodeHTTPStatus, CategoryNetwork},
		{ErrCodeInternal, CategoryInternal},
		{"bad", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, categoryFromCode(tt.code))
		})
	}
}

func TestDocError_Is_MatchesSentinelThroughWrapping(t *testing.T) {
	// Given: a query syntax error wrapped by fmt.Errorf
	err := fmt.Errorf("search: %w", QuerySyntaxError(`"open`, 0, "unbalanced quote"))

	// Then: it matches the sentinel by code and nothing else
	assert.True(t, errors.Is(err, ErrQuerySyntax))
	assert.False(t, errors.Is(err, ErrIndexUnavailable))
	assert.Equal(t, ErrCodeQuerySyntax, GetCode(err))
	assert.Equal(t, CategoryIndex, GetCategory(err))
}

func TestModelUnavailableError_IsRetryable(t *testing.T) {
	// Given: an unavailable embedding model
	err := ModelUnavailableError("nomic-embed-text", errors.New("connection refused"))

	// Then: callers may retry with another method
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CategoryCluster, err.Category)
	assert.Equal(t, "nomic-embed-text", err.Details["model"])
	assert.NotEmpty(t, err.Suggestion)
}

func TestIsFatal_WorkspaceLocked(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeWorkspaceLocked, "locked", nil)))
	assert.False(t, IsFatal(New(ErrCodeFileCorrupt, "corrupt", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestReason_IncludesCodeAndCause(t *testing.T) {
	err := New(ErrCodeFileCorrupt, "cannot open pdf", errors.New("xref table missing"))

	assert.Equal(t, "ERR_302_FILE_CORRUPT: cannot open pdf: xref table missing", Reason(err))
	assert.Equal(t, "plain", Reason(errors.New("plain")))
	assert.Empty(t, Reason(nil))
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	data, err := FormatJSON(errors.New("boom"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeInternal, decoded["code"])
	assert.Equal(t, "boom", decoded["message"])
}

func TestFormatForCLI_IncludesHint(t *testing.T) {
	out := FormatForCLI(IndexUnavailableError())

	assert.Contains(t, out, "search index has not been built")
	assert.Contains(t, out, "Hint: Run 'docanalysis index'")
	assert.Contains(t, out, ErrCodeIndexUnavailable)
}

func TestFormatForLog_FlattensDetails(t *testing.T) {
	attrs := FormatForLog(New(ErrCodeHTTPStatus, "status 404", nil).WithDetail("url", "http://x"))

	assert.Contains(t, attrs, "detail_url")
	assert.Contains(t, attrs, "http://x")
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	// When: retrying
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	// Then: it eventually succeeds
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
		ShouldRetry:  IsRetryable,
	}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(ErrCodeHTTPStatus, "404", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeHTTPStatus, GetCode(err))
}

func TestRetryWithResult_ExhaustsRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		return 0, errors.New("always")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that opens after 2 failures
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("ocr", WithMaxFailures(2), WithResetTimeout(time.Minute))
	cb.now = func() time.Time { return now }
	failing := func() error { return errors.New("engine down") }

	// When: two calls fail
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	// Then: the next call is rejected without running
	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
	assert.Equal(t, StateOpen, cb.State())

	// When: the reset timeout passes and a probe succeeds
	now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))

	// Then: the circuit closes again
	assert.Equal(t, StateClosed, cb.State())
}
