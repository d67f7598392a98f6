package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		stage   Stage
		current Stage
		want    StageStatus
	}{
		{StageDownload, StageIndex, StageDone},
		{StageOCR, StageIndex, StageDone},
		{StageIndex, StageIndex, StageRunning},
		{StageEmbed, StageIndex, StagePending},
		{StageCluster, StageExtract, StagePending},
		{StageCluster, StageComplete, StageDone},
	}
	for _, tt := range tests {
		t.Run(tt.stage.String()+"/"+tt.current.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.stage, tt.current))
		})
	}
}

func TestStyles_ForStatusPicksStageStyle(t *testing.T) {
	styles := DefaultStyles()

	assert.Equal(t, styles.Success.Render("Extract"), styles.ForStatus(StageDone).Render("Extract"))
	assert.Equal(t, styles.Active.Render("Index"), styles.ForStatus(StageRunning).Render("Index"))
	assert.Equal(t, styles.Dim.Render("Cluster"), styles.ForStatus(StagePending).Render("Cluster"))
}

func TestGetStyles_NoColorRendersPlainText(t *testing.T) {
	// Given: output that is not a terminal
	styles := GetStyles(true)

	// Then: every status renders the label unchanged
	for _, st := range []StageStatus{StagePending, StageRunning, StageDone} {
		assert.Equal(t, "● Embed", styles.ForStatus(st).Render("● Embed"))
	}
	assert.Equal(t, "[warn]", styles.Warning.Render("[warn]"))
}

func TestGetStyles_ColorKeepsText(t *testing.T) {
	styles := GetStyles(false)

	assert.Contains(t, styles.Header.Render("Pipeline Complete"), "Pipeline Complete")
	assert.Contains(t, styles.Error.Render("✗ 2 failed"), "✗ 2 failed")
}
