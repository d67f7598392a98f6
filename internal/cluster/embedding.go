package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/coder/hnsw"

	"github.com/mythorath/DocAnalysisTool/internal/embed"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

const (
	pcaIterations = 100
	// Corpora up to this size get exact neighbourhoods; larger ones are
	// searched through an HNSW graph.
	exactNeighborLimit = 128
	graphNeighbors     = 64
)

// EmbedderFunc supplies the embedder for a run. It is called once per
// embedding run so that an unreachable model surfaces as a run error.
type EmbedderFunc func(ctx context.Context) (embed.Embedder, error)

// Embedding clusters documents by density in a reduced embedding space:
// semantic vectors, PCA down to a few dimensions, then DBSCAN. Documents in
// no dense region are labelled Unclustered.
type Embedding struct {
	opts     Options
	embedder EmbedderFunc
}

// NewEmbedding returns the embedding method.
func NewEmbedding(opts Options, embedder EmbedderFunc) *Embedding {
	return &Embedding{opts: opts.withDefaults(), embedder: embedder}
}

// Name implements Method.
func (*Embedding) Name() string { return MethodEmbedding }

// Assign implements Method. k is ignored: density clustering finds its own
// cluster count.
func (m *Embedding) Assign(ctx context.Context, c *Corpus, k int) (*Partition, error) {
	var warnings []string
	if k != AutoK {
		warnings = append(warnings, fmt.Sprintf("k=%d ignored: the embedding method chooses its own cluster count", k))
	}

	vecs, info, err := m.embed(ctx, c)
	if err != nil {
		return nil, err
	}
	if info.Provider == string(embed.ProviderStatic) && !strings.EqualFold(m.opts.Provider, string(embed.ProviderStatic)) {
		warnings = append(warnings, fmt.Sprintf(
			"embedding model %q unavailable: clustered with hash-based static embeddings", m.opts.Model))
	}

	points := make([][]float64, len(vecs))
	for i, v := range vecs {
		points[i] = make([]float64, len(v))
		for j, x := range v {
			points[i][j] = float64(x)
		}
	}
	dims := min(m.opts.ReduceDims, len(points[0]), max(len(points)-1, 1))
	reduced := pca(points, dims, rand.New(rand.NewSource(m.opts.Seed)))

	minPts := max(m.opts.MinClusterSize, 2)
	nb := neighborhoods(reduced)
	eps := m.opts.Epsilon
	if eps <= 0 {
		eps = estimateEpsilon(nb, minPts)
	}
	labels := dbscan(nb, eps, minPts)

	unclustered := 0
	for _, l := range labels {
		if l == Unclustered {
			unclustered++
		}
	}
	if unclustered == len(labels) {
		warnings = append(warnings, "no dense regions found; every document is unclustered")
	}

	p := &Partition{
		Labels:  labels,
		Ranking: rankByDistance(reduced, labels),
		Params: Params{
			Seed:           m.opts.Seed,
			Model:          info.Model,
			ReduceDims:     len(reduced[0]),
			MinClusterSize: minPts,
			Epsilon:        eps,
		},
		Metrics:  Metrics{Unclustered: unclustered},
		Warnings: warnings,
	}
	if perPoint, sil, ok := silhouette(reduced, labels); ok {
		p.Metrics.Silhouette = ptr(sil)
		p.Quality = clusterQuality(labels, perPoint)
	}
	return p, nil
}

// embed obtains one vector per corpus document and checks they agree in
// dimension.
func (m *Embedding) embed(ctx context.Context, c *Corpus) ([][]float32, embed.Info, error) {
	if m.embedder == nil {
		return nil, embed.Info{}, docerrors.ModelUnavailableError(m.opts.Model, errors.New("no embedder configured"))
	}
	e, err := m.embedder(ctx)
	if err != nil {
		return nil, embed.Info{}, modelUnavailable(ctx, m.opts.Model, err)
	}

	texts := make([]string, c.Len())
	for i := range texts {
		texts[i] = c.Text(i)
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, embed.Info{}, modelUnavailable(ctx, m.opts.Model, err)
	}
	if len(vecs) != len(texts) {
		return nil, embed.Info{}, docerrors.New(docerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder returned %d vectors for %d documents", len(vecs), len(texts)), nil)
	}
	want := e.Dimensions()
	if want <= 0 && len(vecs) > 0 {
		want = len(vecs[0])
	}
	for i, v := range vecs {
		if len(v) != want || want == 0 {
			return nil, embed.Info{}, docerrors.New(docerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("document %s embedded to %d dimensions, want %d", c.ID(i), len(v), want), nil).
				WithDetail("doc_id", c.ID(i))
		}
	}
	return vecs, embed.GetInfo(e), nil
}

// modelUnavailable keeps cancellation and coded errors as they are and
// reports anything else as an unavailable model.
func modelUnavailable(ctx context.Context, model string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if docerrors.GetCode(err) != "" {
		return err
	}
	return docerrors.ModelUnavailableError(model, err)
}

// pca projects points onto their top dims principal components, found by
// power iteration with deflation. Components with no remaining variance are
// dropped; at least one output dimension is always returned.
func pca(points [][]float64, dims int, rng *rand.Rand) [][]float64 {
	n, d := len(points), len(points[0])
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	center := mean(points, all)
	x := make([][]float64, n)
	for i, p := range points {
		x[i] = make([]float64, d)
		for j := range p {
			x[i][j] = p[j] - center[j]
		}
	}

	var components [][]float64
	tol := 1e-12
	for c := 0; c < dims; c++ {
		v := make([]float64, d)
		for j := range v {
			v[j] = rng.Float64() - 0.5
		}
		var lambda float64
		for iter := 0; iter < pcaIterations; iter++ {
			w := covTimes(x, v)
			for _, prev := range components {
				proj := dot(w, prev)
				for j := range w {
					w[j] -= proj * prev[j]
				}
			}
			lambda = norm(w)
			if lambda < tol {
				break
			}
			for j := range w {
				w[j] /= lambda
			}
			v = w
		}
		if lambda < tol {
			break
		}
		if c == 0 {
			// Later components are measured against the leading one.
			tol = math.Max(tol, lambda*1e-9)
		}
		components = append(components, v)
	}

	out := make([][]float64, n)
	for i := range x {
		if len(components) == 0 {
			out[i] = []float64{0}
			continue
		}
		out[i] = make([]float64, len(components))
		for c, comp := range components {
			out[i][c] = dot(x[i], comp)
		}
	}
	return out
}

// covTimes returns XᵀX·v without materialising the covariance matrix.
func covTimes(x [][]float64, v []float64) []float64 {
	w := make([]float64, len(v))
	for _, row := range x {
		s := dot(row, v)
		for j := range row {
			w[j] += s * row[j]
		}
	}
	return w
}

// neighbor is another point and its Euclidean distance.
type neighbor struct {
	idx  int
	dist float64
}

// neighborhoods lists, for every point, the other points nearest first.
// Small inputs are compared exhaustively; larger ones take the nearest
// graphNeighbors candidates from an HNSW graph.
func neighborhoods(points [][]float64) [][]neighbor {
	n := len(points)
	out := make([][]neighbor, n)
	if n <= exactNeighborLimit {
		for i := range points {
			for j := range points {
				if i != j {
					out[i] = append(out[i], neighbor{idx: j, dist: dist(points[i], points[j])})
				}
			}
			sortNeighbors(out[i])
		}
		return out
	}

	graph := hnsw.NewGraph[int]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = 16
	graph.EfSearch = max(graphNeighbors*2, 20)
	graph.Ml = 0.25
	vecs := make([][]float32, n)
	for i, p := range points {
		vecs[i] = make([]float32, len(p))
		for j, x := range p {
			vecs[i][j] = float32(x)
		}
		graph.Add(hnsw.MakeNode(i, vecs[i]))
	}
	k := min(n, graphNeighbors+1)
	for i := range points {
		for _, node := range graph.Search(vecs[i], k) {
			if node.Key == i {
				continue
			}
			out[i] = append(out[i], neighbor{idx: node.Key, dist: dist(points[i], points[node.Key])})
		}
		sortNeighbors(out[i])
	}
	return out
}

func sortNeighbors(nb []neighbor) {
	sort.Slice(nb, func(a, b int) bool {
		if nb[a].dist != nb[b].dist {
			return nb[a].dist < nb[b].dist
		}
		return nb[a].idx < nb[b].idx
	})
}

// estimateEpsilon is the median distance from each point to its
// (minPts-1)-th nearest other point. A zero median falls back to the
// smallest positive distance seen.
func estimateEpsilon(nb [][]neighbor, minPts int) float64 {
	var kdist []float64
	smallest := math.Inf(1)
	for _, list := range nb {
		if len(list) == 0 {
			continue
		}
		kdist = append(kdist, list[min(minPts-2, len(list)-1)].dist)
		for _, x := range list {
			if x.dist > 0 {
				smallest = math.Min(smallest, x.dist)
				break
			}
		}
	}
	if len(kdist) == 0 {
		return 1e-9
	}
	sort.Float64s(kdist)
	eps := kdist[len(kdist)/2]
	if len(kdist)%2 == 0 {
		eps = (kdist[len(kdist)/2-1] + kdist[len(kdist)/2]) / 2
	}
	if eps > 0 {
		return eps
	}
	if !math.IsInf(smallest, 1) {
		return smallest
	}
	return 1e-9
}

// dbscan labels points in index order. A point is core when at least
// minPts points, itself included, lie within eps.
func dbscan(nb [][]neighbor, eps float64, minPts int) []int {
	const unvisited = -2
	n := len(nb)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}
	region := func(i int) []int {
		out := []int{i}
		for _, x := range nb[i] {
			if x.dist > eps {
				break
			}
			out = append(out, x.idx)
		}
		return out
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		seeds := region(i)
		if len(seeds) < minPts {
			labels[i] = Unclustered
			continue
		}
		labels[i] = cluster
		for q := 0; q < len(seeds); q++ {
			j := seeds[q]
			if labels[j] == Unclustered {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if more := region(j); len(more) >= minPts {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}
	return labels
}

var _ Method = (*Embedding)(nil)
