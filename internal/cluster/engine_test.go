package cluster

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mythorath/DocAnalysisTool/internal/config"
	"github.com/mythorath/DocAnalysisTool/internal/embed"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
)

func TestParseK(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", AutoK, false},
		{"auto", AutoK, false},
		{" AUTO ", AutoK, false},
		{"3", 3, false},
		{"0", 0, true},
		{"-2", 0, true},
		{"three", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseK(tt.in)
			if tt.wantErr {
				assert.Equal(t, docerrors.ErrCodeInvalidInput, docerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsFromConfig_FillsDefaults(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Cluster.MaxK = 0

	opts := OptionsFromConfig(cfg.Cluster, cfg.Embeddings)

	assert.Equal(t, 10, opts.MaxK)
	assert.Equal(t, cfg.Embeddings.Model, opts.Model)
	assert.NotNil(t, opts.StopWords)
}

func TestEngine_UnknownMethod(t *testing.T) {
	e := NewEngine(DefaultOptions(), nil, nil, nil)

	_, err := e.Cluster(context.Background(), topicCorpus(), "hierarchical", AutoK)

	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeUnknownMethod, docerrors.GetCode(err))
}

func TestEngine_NegativeK(t *testing.T) {
	e := NewEngine(DefaultOptions(), nil, nil, nil)

	_, err := e.Cluster(context.Background(), topicCorpus(), MethodKMeans, -1)

	assert.Equal(t, docerrors.ErrCodeInvalidInput, docerrors.GetCode(err))
}

func TestEngine_EveryDocumentAssignedOnce(t *testing.T) {
	for _, method := range Methods() {
		t.Run(method, func(t *testing.T) {
			e := NewEngine(DefaultOptions(), nil, staticEmbedder, nil)

			res, err := e.Cluster(context.Background(), topicCorpus(), method, AutoK)

			require.NoError(t, err)
			require.Len(t, res.Assignments, 9)
			seen := make(map[string]bool)
			total := 0
			for _, a := range res.Assignments {
				assert.False(t, seen[a.DocID], "duplicate assignment for %s", a.DocID)
				seen[a.DocID] = true
				_, ok := res.Descriptor(a.ClusterID)
				assert.True(t, ok, "cluster %d has no descriptor", a.ClusterID)
			}
			for _, d := range res.Descriptors {
				total += d.Size
			}
			assert.Equal(t, 9, total)
			assert.NotEmpty(t, res.RunID)
			assert.Equal(t, method, res.Method)
		})
	}
}

func TestEngine_SkipsFailedExtractions(t *testing.T) {
	e := NewEngine(DefaultOptions(), nil, nil, nil)
	entries := append(topicCorpus(), failedEntry("broken-1"))

	res, err := e.Cluster(context.Background(), entries, MethodKMeans, 3)

	require.NoError(t, err)
	assert.Equal(t, []string{"broken-1"}, res.Skipped)
	_, assigned := res.ClusterOf("broken-1")
	assert.False(t, assigned)
	assert.Len(t, res.Assignments, 9)
}

func TestEngine_EmptyCorpus_KeepsPreviousResult(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := NewEngine(DefaultOptions(), s, nil, nil)

	// Given: a stored k-means result
	first, err := e.Cluster(ctx, topicCorpus(), MethodKMeans, 3)
	require.NoError(t, err)

	// When: clustering a batch where every extraction failed
	res, err := e.Cluster(ctx, []*store.CorpusEntry{failedEntry("a"), failedEntry("b")}, MethodKMeans, AutoK)

	// Then: an empty result with a warning, and the stored result is unchanged
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	assert.NotEmpty(t, res.Warnings)
	latest, err := e.Latest(ctx, MethodKMeans)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.RunID, latest.RunID)
}

func TestEngine_SingleDocument(t *testing.T) {
	e := NewEngine(DefaultOptions(), nil, nil, nil)

	res, err := e.Cluster(context.Background(), []*store.CorpusEntry{entry("only", topicTexts["medicare"][0])}, MethodLDA, 4)

	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, 0, res.Assignments[0].ClusterID)
	assert.Equal(t, 1, res.EffectiveK)
	assert.NotEmpty(t, res.Warnings)
}

func TestEngine_SmallCorpora(t *testing.T) {
	for n := 2; n <= 3; n++ {
		for _, method := range []string{MethodKMeans, MethodLDA} {
			t.Run(method, func(t *testing.T) {
				e := NewEngine(DefaultOptions(), nil, nil, nil)
				entries := topicCorpus()[:n]

				res, err := e.Cluster(context.Background(), entries, method, 10)

				require.NoError(t, err)
				assert.Len(t, res.Assignments, n)
				assert.LessOrEqual(t, res.EffectiveK, n)
				assert.NotEmpty(t, res.Warnings, "k=10 for %d documents must warn", n)
			})
		}
	}
}

func TestEngine_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(DefaultOptions(), nil, nil, nil)

	a, err := e.Cluster(ctx, topicCorpus(), MethodKMeans, AutoK)
	require.NoError(t, err)
	b, err := e.Cluster(ctx, topicCorpus(), MethodKMeans, AutoK)
	require.NoError(t, err)

	assert.Equal(t, clusterOf(a), clusterOf(b))
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestEngine_EmbeddingUnavailable_DoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Given: a stored embedding result
	ok := NewEngine(DefaultOptions(), s, staticEmbedder, nil)
	first, err := ok.Cluster(ctx, topicCorpus(), MethodEmbedding, AutoK)
	require.NoError(t, err)

	// When: the model becomes unavailable
	broken := NewEngine(DefaultOptions(), s, unavailableEmbedder, nil)
	_, err = broken.Cluster(ctx, topicCorpus(), MethodEmbedding, AutoK)

	// Then: the run fails with ERR_501 and the stored result survives
	require.Error(t, err)
	assert.True(t, errors.Is(err, docerrors.ErrModelUnavailable))
	latest, err := broken.Latest(ctx, MethodEmbedding)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.RunID, latest.RunID)
}

func TestEngine_EmbeddingUnavailable_FallsBackToKMeans(t *testing.T) {
	opts := DefaultOptions()
	opts.FallbackOnFailure = true
	e := NewEngine(opts, nil, unavailableEmbedder, nil)

	res, err := e.Cluster(context.Background(), topicCorpus(), MethodEmbedding, AutoK)

	require.NoError(t, err)
	assert.Equal(t, MethodKMeans, res.Method)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "fell back to kmeans")
	for _, a := range res.Assignments {
		assert.Equal(t, MethodKMeans, a.Method)
	}
}

func TestEngine_AutoProviderStandInIsReported(t *testing.T) {
	// Given: auto-detection pointed at an Ollama host that refuses connections
	srv := httptest.NewServer(nil)
	host := srv.URL
	srv.Close()
	autoEmbedder := func(ctx context.Context) (embed.Embedder, error) {
		return embed.NewEmbedder(ctx, embed.Options{
			Provider:   embed.ProviderAuto,
			OllamaHost: host,
			Timeout:    time.Second,
			CacheSize:  -1,
		})
	}
	opts := DefaultOptions()
	opts.Model = "nomic-embed-text"
	e := NewEngine(opts, nil, autoEmbedder, nil)

	// When: clustering by embedding
	res, err := e.Cluster(context.Background(), topicCorpus(), MethodEmbedding, AutoK)

	// Then: the run succeeds but says the model was replaced
	require.NoError(t, err)
	assert.Equal(t, MethodEmbedding, res.Method)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), `embedding model "nomic-embed-text" unavailable`)
}

func TestEngine_ExplicitStaticProviderHasNoStandInWarning(t *testing.T) {
	opts := DefaultOptions()
	opts.Provider = "static"
	e := NewEngine(opts, nil, staticEmbedder, nil)

	res, err := e.Cluster(context.Background(), topicCorpus(), MethodEmbedding, AutoK)

	require.NoError(t, err)
	assert.NotContains(t, strings.Join(res.Warnings, "\n"), "unavailable")
}

func TestEngine_Latest_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := NewEngine(DefaultOptions(), s, nil, nil)

	none, err := e.Latest(ctx, MethodLDA)
	require.NoError(t, err)
	assert.Nil(t, none)

	res, err := e.Cluster(ctx, topicCorpus(), MethodLDA, 3)
	require.NoError(t, err)

	latest, err := e.Latest(ctx, MethodLDA)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res.RunID, latest.RunID)
	assert.Equal(t, clusterOf(res), clusterOf(latest))
	assert.Equal(t, res.Descriptors, latest.Descriptors)

	run, err := s.GetClusterRun(ctx, MethodLDA)
	require.NoError(t, err)
	assert.Equal(t, clusterOf(res), run.Assignments)
}

func TestEngine_DescriptorsOrdered(t *testing.T) {
	e := NewEngine(DefaultOptions(), nil, nil, nil)

	res, err := e.Cluster(context.Background(), topicCorpus(), MethodKMeans, 3)

	require.NoError(t, err)
	for i, d := range res.Descriptors {
		assert.Equal(t, i, d.ClusterID)
		assert.NotEmpty(t, d.Keywords)
		assert.LessOrEqual(t, len(d.Keywords), 10)
		assert.LessOrEqual(t, len(d.RepresentativeDocs), 3)
		assert.Positive(t, d.AvgCharCount)
	}
}
