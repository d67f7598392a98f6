package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordSearchOutcomes(t *testing.T) {
	m := NewMetrics()

	m.RecordSearch(3, time.Millisecond, nil)
	m.RecordSearch(0, time.Millisecond, nil)
	m.RecordSearch(0, 0, errors.New("syntax"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("hits")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("zero")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("error")))
}

func TestMetrics_RecordCluster(t *testing.T) {
	m := NewMetrics()

	m.RecordCluster("kmeans", 4, time.Second, nil)
	m.RecordCluster("embedding", 0, 0, errors.New("model unavailable"))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.ClusterCount.WithLabelValues("kmeans")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterRunsTotal.WithLabelValues("embedding", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClusterRunsTotal.WithLabelValues("embedding", "ok")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()

	a.RecordDownload("ok")

	assert.Equal(t, 0.0, testutil.ToFloat64(b.DownloadsTotal.WithLabelValues("ok")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	// Given: metrics from a pipeline run
	m := NewMetrics()
	m.RecordDownload("ok")
	m.RecordExtraction("ocr", 2*time.Second, 5)
	m.RecordIndexBuild(13, 300*time.Millisecond)
	m.RecordStage("extract", 3*time.Second)
	path := filepath.Join(t.TempDir(), "docanalysis.prom")

	// When: writing the textfile
	require.NoError(t, m.WriteTextfile(path))

	// Then: it holds the recorded series in text format
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `docanalysis_downloads_total{outcome="ok"} 1`)
	assert.Contains(t, text, "docanalysis_ocr_pages_total 5")
	assert.Contains(t, text, "docanalysis_indexed_documents 13")
	assert.Contains(t, text, `docanalysis_stage_duration_seconds{stage="extract"} 3`)
}
