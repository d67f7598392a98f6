package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mythorath/DocAnalysisTool/internal/config"
	"github.com/mythorath/DocAnalysisTool/internal/embed"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status as its name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// EmbedderFactory creates the embedder probed by CheckEmbedder.
type EmbedderFactory func(ctx context.Context, opts embed.Options) (embed.Embedder, error)

// Checker performs preflight validation checks.
type Checker struct {
	cfg      *config.Config
	verbose  bool
	output   io.Writer
	lookPath func(string) (string, error)
	embedder EmbedderFactory
}

// Option configures a Checker.
type Option func(*Checker)

// WithConfig sets the configuration whose OCR and embedding settings are
// checked. Defaults apply otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(c *Checker) {
		if cfg != nil {
			c.cfg = cfg
		}
	}
}

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithLookPath replaces exec.LookPath when locating OCR tools.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Checker) {
		c.lookPath = fn
	}
}

// WithEmbedderFactory replaces embed.NewEmbedder.
func WithEmbedderFactory(fn EmbedderFactory) Option {
	return func(c *Checker) {
		c.embedder = fn
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		cfg:      config.NewConfig(),
		output:   os.Stdout,
		lookPath: exec.LookPath,
		embedder: embed.NewEmbedder,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks against workspace, creating it if
// needed, and returns the results.
func (c *Checker) RunAll(ctx context.Context, workspace string) []CheckResult {
	var results []CheckResult

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		results = append(results, CheckResult{
			Name:     "workspace",
			Status:   StatusFail,
			Message:  fmt.Sprintf("cannot create %s: %v", workspace, err),
			Required: true,
		})
		return results
	}

	results = append(results, c.CheckDiskSpace(workspace))
	results = append(results, c.CheckMemory())
	results = append(results, c.CheckWritePermissions(workspace))
	results = append(results, c.CheckFileDescriptors())

	// Optional tooling: extraction and clustering degrade without them.
	results = append(results, c.CheckOCRTools())
	results = append(results, c.CheckEmbedder(ctx))

	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "DocAnalysis System Check")
	_, _ = fmt.Fprintln(c.output, "========================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	status := c.SummaryStatus(results)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(status))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckWritePermissions checks if we can write to the workspace.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	testFile := filepath.Join(path, ".docanalysis-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
