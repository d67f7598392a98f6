package cluster

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

const (
	kmeansMaxIter = 300
	kmeansNInit   = 10
)

// KMeans clusters TF-IDF vectors (unigrams and bigrams) with k-means++
// seeding. With AutoK it tries every k in [MinK, min(MaxK, n-1)] and keeps
// the partition with the best silhouette.
type KMeans struct {
	opts Options
}

// NewKMeans returns the k-means method.
func NewKMeans(opts Options) *KMeans {
	return &KMeans{opts: opts.withDefaults()}
}

// Name implements Method.
func (*KMeans) Name() string { return MethodKMeans }

// Assign implements Method.
func (m *KMeans) Assign(ctx context.Context, c *Corpus, k int) (*Partition, error) {
	n := c.Len()
	vec := vectorizer(n, 2, m.opts.MaxFeatures, m.opts.StopWords)
	model, vec, warnings, err := fitModel(c, vec)
	if err != nil {
		p := singleCluster(n, "no terms left to compare documents by; placed every document in one cluster")
		p.Warnings = append(warnings, p.Warnings...)
		return p, nil
	}
	points := model.Transform(c.Tokens)

	p := &Partition{
		Params: Params{
			Seed:        m.opts.Seed,
			MaxFeatures: m.opts.MaxFeatures,
			MinDF:       vec.MinDF,
			MaxDF:       vec.MaxDF,
			NInit:       kmeansNInit,
		},
		Warnings: warnings,
	}

	candidates, w := m.candidateKs(n, k)
	p.Warnings = append(p.Warnings, w...)

	// Every candidate gets its own generator so results do not depend on
	// how many candidates ran before it.
	bestScore := math.Inf(-1)
	var bestLabels []int
	var bestPerPoint map[int]float64
	var bestSil *float64
	for _, kk := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewSource(m.opts.Seed))
		labels := kmeansBest(points, kk, kmeansNInit, rng)
		perPoint, sil, ok := silhouette(points, labels)

		score := -2.0 // worse than any silhouette
		if ok {
			score = sil
		}
		if bestLabels == nil || score > bestScore {
			bestScore = score
			bestLabels = labels
			bestPerPoint = perPoint
			bestSil = nil
			if ok {
				bestSil = ptr(sil)
			}
		}
	}

	labels, effective := relabel(bestLabels)
	if effective < candidates[0] && len(candidates) == 1 {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("only %d distinct clusters could be formed (k=%d requested)", effective, candidates[0]))
	}
	if bestPerPoint != nil {
		// Labels were renumbered; recompute against the final ids.
		bestPerPoint, _, _ = silhouette(points, labels)
	}

	p.Labels = labels
	p.Ranking = rankByDistance(points, labels)
	p.Quality = clusterQuality(labels, bestPerPoint)
	p.Metrics.Silhouette = bestSil
	return p, nil
}

// candidateKs returns the k values to try for a corpus of n documents.
func (m *KMeans) candidateKs(n, k int) ([]int, []string) {
	if k != AutoK {
		limit := max(n-1, 1)
		if k > limit {
			return []int{limit}, []string{fmt.Sprintf("k=%d reduced to %d for %d documents", k, limit, n)}
		}
		return []int{k}, nil
	}

	hi := min(m.opts.MaxK, n-1)
	lo := min(max(m.opts.MinK, 2), hi)
	if hi < 2 {
		return []int{1}, []string{fmt.Sprintf("%d documents are too few to choose k automatically; using 1 cluster", n)}
	}
	ks := make([]int, 0, hi-lo+1)
	for kk := lo; kk <= hi; kk++ {
		ks = append(ks, kk)
	}
	return ks, nil
}

// kmeansBest runs k-means nInit times and keeps the lowest inertia.
func kmeansBest(points [][]float64, k, nInit int, rng *rand.Rand) []int {
	var best []int
	bestInertia := math.Inf(1)
	for run := 0; run < nInit; run++ {
		labels, inertia := kmeansOnce(points, k, rng)
		if inertia < bestInertia {
			best, bestInertia = labels, inertia
		}
	}
	return best
}

// kmeansOnce is Lloyd's algorithm from a k-means++ seeding. A cluster that
// empties out is re-seeded with the point farthest from its centroid.
func kmeansOnce(points [][]float64, k int, rng *rand.Rand) ([]int, float64) {
	n := len(points)
	centroids := seedPlusPlus(points, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(p, centroid); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		members := make([][]int, k)
		for i, l := range labels {
			members[l] = append(members[l], i)
		}
		for c := range centroids {
			if len(members[c]) > 0 {
				centroids[c] = mean(points, members[c])
				continue
			}
			far, farD := 0, -1.0
			for i, p := range points {
				if d := sqDist(p, centroids[labels[i]]); d > farD {
					far, farD = i, d
				}
			}
			centroids[c] = append([]float64(nil), points[far]...)
		}
	}

	var inertia float64
	for i, p := range points {
		inertia += sqDist(p, centroids[labels[i]])
	}
	return labels, inertia
}

// seedPlusPlus picks k initial centroids, each new one with probability
// proportional to its squared distance from the nearest chosen centroid.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), points[rng.Intn(n)]...))

	d2 := make([]float64, n)
	for len(centroids) < k {
		var sum float64
		for i, p := range points {
			best := math.Inf(1)
			for _, c := range centroids {
				best = math.Min(best, sqDist(p, c))
			}
			d2[i] = best
			sum += best
		}
		next := rng.Intn(n)
		if sum > 0 {
			target := rng.Float64() * sum
			for i, d := range d2 {
				target -= d
				if target <= 0 && d > 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), points[next]...))
	}
	return centroids
}

// singleCluster puts every document in cluster 0.
func singleCluster(n int, warning string) *Partition {
	p := &Partition{Labels: make([]int, n)}
	if warning != "" {
		p.Warnings = []string{warning}
	}
	return p
}

var _ Method = (*KMeans)(nil)

