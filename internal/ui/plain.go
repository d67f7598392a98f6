package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	stage  Stage
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	// Format: [STAGE] current/total - message or file
	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents (%d succeeded, %d failed) in %s",
		stats.Documents, stats.Succeeded, stats.Failed, stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if len(stats.Methods) > 0 {
		_, _ = fmt.Fprint(r.out, "Methods:")
		for _, name := range stats.methodNames() {
			_, _ = fmt.Fprintf(r.out, " %s=%d", name, stats.Methods[name])
		}
		_, _ = fmt.Fprintln(r.out)
	}
	if stats.Indexed > 0 {
		_, _ = fmt.Fprintf(r.out, "Indexed: %d documents\n", stats.Indexed)
	}
	if stats.Method != "" {
		_, _ = fmt.Fprintf(r.out, "Clusters: %d (%s)\n", stats.Clusters, stats.Method)
	}

	st := stats.Stages
	if st.Extract > 0 || st.Index > 0 || st.Cluster > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		if st.Download > 0 {
			_, _ = fmt.Fprintf(r.out, "  Download: %s\n", st.Download.Round(100*time.Millisecond))
		}
		_, _ = fmt.Fprintf(r.out, "  Extract:  %s\n", st.Extract.Round(100*time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Index:    %s\n", st.Index.Round(100*time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Cluster:  %s\n", st.Cluster.Round(100*time.Millisecond))
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
