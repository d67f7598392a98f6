package cluster

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mythorath/DocAnalysisTool/internal/embed"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
)

func newTestCorpus(t *testing.T) *Corpus {
	t.Helper()
	c, skipped := NewCorpus(topicCorpus(), nil)
	require.Empty(t, skipped)
	require.Equal(t, 9, c.Len())
	return c
}

// sameTopicSameCluster checks that documents share a label exactly when
// their ids share a topic prefix.
func sameTopicSameCluster(t *testing.T, c *Corpus, labels []int) {
	t.Helper()
	topic := func(i int) string { return strings.SplitN(c.ID(i), "-", 2)[0] }
	for i := 0; i < c.Len(); i++ {
		for j := i + 1; j < c.Len(); j++ {
			if topic(i) == topic(j) {
				assert.Equal(t, labels[i], labels[j], "%s and %s should share a cluster", c.ID(i), c.ID(j))
			} else {
				assert.NotEqual(t, labels[i], labels[j], "%s and %s should be apart", c.ID(i), c.ID(j))
			}
		}
	}
}

func TestKMeans_SeparatesTopics(t *testing.T) {
	// Given: three documents on each of three unrelated themes
	c := newTestCorpus(t)

	// When: clustering with k=3
	p, err := NewKMeans(DefaultOptions()).Assign(context.Background(), c, 3)

	// Then: each theme forms its own cluster
	require.NoError(t, err)
	sameTopicSameCluster(t, c, p.Labels)
	require.NotNil(t, p.Metrics.Silhouette)
	assert.Greater(t, *p.Metrics.Silhouette, 0.0)
	assert.Len(t, p.Quality, 3)
	assert.Equal(t, 10, p.Params.NInit)
}

func TestKMeans_AutoKStaysInRange(t *testing.T) {
	c := newTestCorpus(t)

	p, err := NewKMeans(DefaultOptions()).Assign(context.Background(), c, AutoK)

	require.NoError(t, err)
	_, k := relabel(p.Labels)
	assert.GreaterOrEqual(t, k, 2)
	assert.LessOrEqual(t, k, 8)
}

func TestKMeans_ClampsKToCorpus(t *testing.T) {
	c := newTestCorpus(t)

	p, err := NewKMeans(DefaultOptions()).Assign(context.Background(), c, 50)

	require.NoError(t, err)
	_, k := relabel(p.Labels)
	assert.LessOrEqual(t, k, 8)
	assert.Contains(t, strings.Join(p.Warnings, "\n"), "k=50 reduced to 8")
}

func TestKMeans_IdenticalDocuments(t *testing.T) {
	// Given: documents with identical text
	text := "identical wording about medicare billing rules"
	c, _ := NewCorpus([]*store.CorpusEntry{entry("a", text), entry("b", text), entry("c", text), entry("d", text)}, nil)

	// When: asking for two clusters
	p, err := NewKMeans(DefaultOptions()).Assign(context.Background(), c, 2)

	// Then: every document is still labelled
	require.NoError(t, err)
	assert.Len(t, p.Labels, 4)
	for _, l := range p.Labels {
		assert.GreaterOrEqual(t, l, 0)
	}
}

func TestLDA_AssignsDominantTopic(t *testing.T) {
	c := newTestCorpus(t)

	p, err := NewLDA(DefaultOptions()).Assign(context.Background(), c, 3)

	require.NoError(t, err)
	require.Len(t, p.Labels, 9)
	require.NotNil(t, p.Metrics.Perplexity)
	assert.Greater(t, *p.Metrics.Perplexity, 1.0)
	assert.InDelta(t, 50.0/3, p.Params.Alpha, 1e-9)
	assert.Equal(t, ldaBeta, p.Params.Beta)
	for id := range groups(p.Labels) {
		q, ok := p.Quality[id]
		assert.True(t, ok)
		assert.LessOrEqual(t, q, 0.0+math.Log(2))
	}
}

func TestLDA_Deterministic(t *testing.T) {
	c := newTestCorpus(t)
	lda := NewLDA(DefaultOptions())

	a, err := lda.Assign(context.Background(), c, 3)
	require.NoError(t, err)
	b, err := lda.Assign(context.Background(), c, 3)
	require.NoError(t, err)

	assert.Equal(t, a.Labels, b.Labels)
}

func TestLDA_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLDA(DefaultOptions()).Assign(ctx, newTestCorpus(t), 3)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestLDAAutoK(t *testing.T) {
	tests := []struct {
		n, maxK, want int
	}{
		{2, 10, 2},
		{9, 10, 3},
		{50, 10, 6},
		{1000, 10, 10},
		{1, 10, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ldaAutoK(tt.n, tt.maxK), "n=%d", tt.n)
	}
}

func TestEmbedding_StaticEmbedder(t *testing.T) {
	c := newTestCorpus(t)

	p, err := NewEmbedding(DefaultOptions(), staticEmbedder).Assign(context.Background(), c, 4)

	require.NoError(t, err)
	require.Len(t, p.Labels, 9)
	assert.Equal(t, "static", p.Params.Model)
	assert.LessOrEqual(t, p.Params.ReduceDims, 5)
	assert.Positive(t, p.Params.Epsilon)
	assert.Contains(t, strings.Join(p.Warnings, "\n"), "k=4 ignored")
	noise := 0
	for _, l := range p.Labels {
		assert.GreaterOrEqual(t, l, Unclustered)
		if l == Unclustered {
			noise++
		}
	}
	assert.Equal(t, noise, p.Metrics.Unclustered)
}

func TestEmbedding_SeparatedVectors(t *testing.T) {
	// Given: two tight groups and one far outlier
	vecs := [][]float32{
		{0, 0, 0}, {0.1, 0, 0}, {0, 0.1, 0},
		{10, 10, 0}, {10.1, 10, 0}, {10, 10.1, 0},
		{-40, 30, 0},
	}
	c, _ := NewCorpus(topicCorpus()[:7], nil)
	fake := func(context.Context) (embed.Embedder, error) {
		return &fakeEmbedder{vecs: vecs, dims: 3}, nil
	}
	opts := DefaultOptions()
	opts.MinClusterSize = 3
	opts.Epsilon = 1

	// When: density clustering
	p, err := NewEmbedding(opts, fake).Assign(context.Background(), c, AutoK)

	// Then: two clusters and the outlier unclustered
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, Unclustered}, p.Labels)
	assert.Equal(t, 1, p.Metrics.Unclustered)
	assert.Equal(t, "fake", p.Params.Model)
}

func TestEmbedding_DimensionMismatch(t *testing.T) {
	c := newTestCorpus(t)
	vecs := make([][]float32, 9)
	for i := range vecs {
		vecs[i] = []float32{1, 2, 3}
	}
	vecs[4] = []float32{1, 2}
	fake := func(context.Context) (embed.Embedder, error) {
		return &fakeEmbedder{vecs: vecs, dims: 3}, nil
	}

	_, err := NewEmbedding(DefaultOptions(), fake).Assign(context.Background(), c, AutoK)

	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeDimensionMismatch, docerrors.GetCode(err))
}

func TestEmbedding_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		fn   EmbedderFunc
	}{
		{"provider error", unavailableEmbedder},
		{"no provider", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEmbedding(DefaultOptions(), tt.fn).Assign(context.Background(), newTestCorpus(t), AutoK)

			assert.ErrorIs(t, err, docerrors.ErrModelUnavailable)
		})
	}
}

func TestDBSCAN_AllNoise(t *testing.T) {
	points := [][]float64{{0}, {10}, {20}}

	labels := dbscan(neighborhoods(points), 1, 2)

	assert.Equal(t, []int{Unclustered, Unclustered, Unclustered}, labels)
}

func TestDBSCAN_BorderPointJoinsCluster(t *testing.T) {
	// Given: a core chain and a point reachable only as a border
	points := [][]float64{{0}, {1}, {2}, {3.5}}

	labels := dbscan(neighborhoods(points), 1.5, 3)

	assert.Equal(t, []int{0, 0, 0, 0}, labels)
}

func TestNeighborhoods_GraphMatchesExactForSeparatedGroups(t *testing.T) {
	// Given: enough points to use the HNSW graph, in two distant blobs
	rng := rand.New(rand.NewSource(7))
	var points [][]float64
	for i := 0; i < 200; i++ {
		base := 0.0
		if i%2 == 1 {
			base = 1000
		}
		points = append(points, []float64{base + rng.Float64(), base + rng.Float64()})
	}

	// When: clustering over graph neighbourhoods
	nb := neighborhoods(points)
	labels := dbscan(nb, 5, 3)

	// Then: two clusters split by blob, neighbours sorted nearest first
	for i, list := range nb {
		require.NotEmpty(t, list)
		for j := 1; j < len(list); j++ {
			assert.LessOrEqual(t, list[j-1].dist, list[j].dist)
		}
		assert.Equal(t, labels[i%2], labels[i])
	}
	assert.NotEqual(t, labels[0], labels[1])
}

func TestEstimateEpsilon(t *testing.T) {
	points := [][]float64{{0}, {1}, {2}, {3}}

	eps := estimateEpsilon(neighborhoods(points), 2)

	assert.InDelta(t, 1.0, eps, 1e-9)
}

func TestEstimateEpsilon_DuplicatesFallBackToSmallestGap(t *testing.T) {
	points := [][]float64{{0}, {0}, {0}, {0}, {2}}

	eps := estimateEpsilon(neighborhoods(points), 2)

	assert.InDelta(t, 2.0, eps, 1e-9)
}

func TestPCA_ReducesAndKeepsVariance(t *testing.T) {
	// Given: points spread along one axis of a 4-d space
	points := [][]float64{{0, 0, 0, 0}, {1, 0, 0, 0}, {2, 0, 0, 0}, {3, 0, 0, 0}}

	out := pca(points, 3, rand.New(rand.NewSource(1)))

	// Then: a single component survives and preserves pairwise distances
	require.Len(t, out, 4)
	assert.Len(t, out[0], 1)
	assert.InDelta(t, 3.0, math.Abs(out[3][0]-out[0][0]), 1e-6)
}

func TestPCA_IdenticalPoints(t *testing.T) {
	out := pca([][]float64{{1, 1}, {1, 1}}, 2, rand.New(rand.NewSource(1)))

	assert.Equal(t, [][]float64{{0}, {0}}, out)
}
