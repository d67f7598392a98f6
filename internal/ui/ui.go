// Package ui renders pipeline progress either as plain lines (CI, pipes)
// or as a bubbletea panel on interactive terminals.
package ui

import (
	"context"
	"io"
	"os"
	"sort"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a pipeline stage.
type Stage int

const (
	StageDownload Stage = iota
	StageExtract
	StageOCR
	StageIndex
	StageEmbed
	StageCluster
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageDownload:
		return "Downloading"
	case StageExtract:
		return "Extracting"
	case StageOCR:
		return "Recognizing"
	case StageIndex:
		return "Indexing"
	case StageEmbed:
		return "Embedding"
	case StageCluster:
		return "Clustering"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageDownload:
		return "FETCH"
	case StageExtract:
		return "EXTRACT"
	case StageOCR:
		return "OCR"
	case StageIndex:
		return "INDEX"
	case StageEmbed:
		return "EMBED"
	case StageCluster:
		return "CLUSTER"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update. CurrentFile is usually a document id.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ProgressFunc receives progress events. Stages call it from worker
// goroutines, so implementations must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

// Emit calls f when it is non-nil.
func (f ProgressFunc) Emit(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// ErrorEvent represents a per-document failure or warning.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings tracks duration for each pipeline stage.
type StageTimings struct {
	Download time.Duration
	Extract  time.Duration
	Index    time.Duration
	Cluster  time.Duration
}

// CompletionStats summarises a finished run.
type CompletionStats struct {
	Documents int
	Succeeded int
	Failed    int
	// Methods counts extraction outcomes by method name.
	Methods  map[string]int
	Indexed  int
	Clusters int
	Method   string
	Duration time.Duration
	Errors   int
	Warnings int
	Stages   StageTimings
}

// methodNames returns the method keys in stable order.
func (s CompletionStats) methodNames() []string {
	names := make([]string, 0, len(s.Methods))
	for k := range s.Methods {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Renderer defines the interface for progress display.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Workspace is shown in the TUI header.
	Workspace string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithWorkspace sets the workspace path displayed in the header.
func WithWorkspace(dir string) ConfigOption {
	return func(c *Config) {
		c.Workspace = dir
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
