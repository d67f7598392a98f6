package errors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, details and the underlying cause are included.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	de, ok := asDocError(err)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(de.Message)
	sb.WriteString("\n")

	if de.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(de.Suggestion)
		sb.WriteString("\n")
	}

	if debug {
		for _, k := range sortedKeys(de.Details) {
			fmt.Fprintf(&sb, "  %s: %s\n", k, de.Details[k])
		}
		if de.Cause != nil {
			fmt.Fprintf(&sb, "  cause: %v\n", de.Cause)
		}
	}

	fmt.Fprintf(&sb, "\n[%s]", de.Code)
	return sb.String()
}

// FormatForCLI formats an error for CLI output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	de, ok := asDocError(err)
	if !ok {
		de = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", de.Message)
	if de.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", de.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", de.Code)
	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error for --json output.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	de, ok := asDocError(err)
	if !ok {
		de = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       de.Code,
		Message:    de.Message,
		Category:   string(de.Category),
		Severity:   string(de.Severity),
		Details:    de.Details,
		Suggestion: de.Suggestion,
		Retryable:  de.Retryable,
	}
	if de.Cause != nil {
		je.Cause = de.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog flattens an error into slog-friendly attributes.
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}

	de, ok := asDocError(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", de.Code,
		"message", de.Message,
		"category", string(de.Category),
		"severity", string(de.Severity),
		"retryable", de.Retryable,
	}
	if de.Cause != nil {
		attrs = append(attrs, "cause", de.Cause.Error())
	}
	for _, k := range sortedKeys(de.Details) {
		attrs = append(attrs, "detail_"+k, de.Details[k])
	}
	return attrs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
