package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: reporting extraction progress
	r.UpdateProgress(ProgressEvent{
		Stage:       StageExtract,
		Current:     5,
		Total:       13,
		CurrentFile: "CMS-2025-0028-0001",
	})

	// Then: stage tag, counts and document are shown
	output := buf.String()
	assert.Contains(t, output, "[EXTRACT]")
	assert.Contains(t, output, "5/13")
	assert.Contains(t, output, "CMS-2025-0028-0001")
}

func TestPlainRenderer_UpdateProgress_NoANSICodes(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: rendering every stage
	for s := StageDownload; s <= StageComplete; s++ {
		r.UpdateProgress(ProgressEvent{Stage: s, Current: 1, Total: 2, Message: "working"})
	}

	// Then: no escape codes are written
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_UpdateProgress_ZeroTotal(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: the total is unknown
	r.UpdateProgress(ProgressEvent{Stage: StageIndex, Message: "building index"})

	// Then: the message is shown without a count
	output := buf.String()
	assert.Contains(t, output, "[INDEX] building index")
	assert.NotContains(t, output, "0/0")
}

func TestPlainRenderer_AddError(t *testing.T) {
	tests := []struct {
		name   string
		event  ErrorEvent
		expect []string
	}{
		{
			name:   "error with document",
			event:  ErrorEvent{File: "doc-7", Err: errors.New("file is corrupt")},
			expect: []string{"ERROR:", "doc-7", "file is corrupt"},
		},
		{
			name:   "warning",
			event:  ErrorEvent{File: "doc-8", Err: errors.New("k clamped"), IsWarn: true},
			expect: []string{"WARN:", "doc-8", "k clamped"},
		},
		{
			name:   "no document",
			event:  ErrorEvent{Err: errors.New("connection refused")},
			expect: []string{"ERROR: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			r := NewPlainRenderer(NewConfig(buf))
			r.AddError(tt.event)
			for _, want := range tt.expect {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestPlainRenderer_Complete(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing a run with a method breakdown
	r.Complete(CompletionStats{
		Documents: 13,
		Succeeded: 13,
		Methods:   map[string]int{"OCR": 2, "DIRECT_TEXT": 11},
		Indexed:   13,
		Clusters:  3,
		Method:    "kmeans",
		Duration:  5 * time.Second,
		Stages:    StageTimings{Extract: 3 * time.Second, Index: time.Second, Cluster: time.Second},
	})

	// Then: counts, methods and stage timings are printed
	output := buf.String()
	assert.Contains(t, output, "Complete: 13 documents (13 succeeded, 0 failed) in 5s")
	assert.Contains(t, output, "Methods: DIRECT_TEXT=11 OCR=2")
	assert.Contains(t, output, "Clusters: 3 (kmeans)")
	assert.Contains(t, output, "Stage Breakdown:")
	assert.NotContains(t, output, "errors")
}

func TestPlainRenderer_Complete_WithErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(CompletionStats{Documents: 4, Succeeded: 3, Failed: 1, Errors: 1, Warnings: 2})

	assert.Contains(t, buf.String(), "(1 errors, 2 warnings)")
}
