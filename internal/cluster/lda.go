package cluster

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	ldaBeta          = 0.01
	coherenceTopWord = 10
)

// LDA fits a latent Dirichlet allocation topic model by collapsed Gibbs
// sampling and assigns each document to its dominant topic.
type LDA struct {
	opts Options
}

// NewLDA returns the topic-model method.
func NewLDA(opts Options) *LDA {
	return &LDA{opts: opts.withDefaults()}
}

// Name implements Method.
func (*LDA) Name() string { return MethodLDA }

// ldaAutoK is the topic count used when none is requested:
// floor(sqrt(n/2))+1, at least 2 and at most maxK, never more than n.
func ldaAutoK(n, maxK int) int {
	k := int(math.Sqrt(float64(n)/2)) + 1
	k = max(2, min(maxK, k))
	return max(1, min(k, n))
}

// Assign implements Method.
func (m *LDA) Assign(ctx context.Context, c *Corpus, k int) (*Partition, error) {
	n := c.Len()
	vec := vectorizer(n, 1, m.opts.MaxFeatures, m.opts.StopWords)
	model, vec, warnings, err := fitModel(c, vec)
	if err != nil {
		p := singleCluster(n, "no terms left to model topics from; placed every document in one cluster")
		p.Warnings = append(warnings, p.Warnings...)
		return p, nil
	}

	if k == AutoK {
		k = ldaAutoK(n, m.opts.MaxK)
	} else if k > n {
		warnings = append(warnings, fmt.Sprintf("k=%d reduced to %d for %d documents", k, n, n))
		k = n
	}

	// Each document becomes a bag of vocabulary indices.
	docs := make([][]int, n)
	for d, tokens := range c.Tokens {
		for w, count := range model.Counts(tokens) {
			for j := 0; j < int(count); j++ {
				docs[d] = append(docs[d], w)
			}
		}
	}

	alpha := 50.0 / float64(k)
	s := newGibbs(docs, model.Dim(), k, alpha, ldaBeta, rand.New(rand.NewSource(m.opts.Seed)))
	for iter := 0; iter < m.opts.LDAIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.sweep()
	}
	theta, phi := s.theta(), s.phi()

	raw := make([]int, n)
	dominance := make([]float64, n)
	for d := range theta {
		best := 0
		for t := 1; t < k; t++ {
			if theta[d][t] > theta[d][best] {
				best = t
			}
		}
		raw[d] = best
		dominance[d] = theta[d][best]
	}
	labels, effective := relabel(raw)
	if effective < k {
		warnings = append(warnings, fmt.Sprintf("%d of %d topics are not dominant in any document", k-effective, k))
	}

	topicOf := make(map[int]int, effective)
	for d, l := range labels {
		topicOf[l] = raw[d]
	}
	quality := make(map[int]float64, effective)
	for id, topic := range topicOf {
		quality[id] = umassCoherence(docs, phi[topic], coherenceTopWord)
	}

	ranking := make(map[int][]int, effective)
	for id, members := range groups(labels) {
		ranked := append([]int(nil), members...)
		sort.SliceStable(ranked, func(x, y int) bool { return dominance[ranked[x]] > dominance[ranked[y]] })
		ranking[id] = ranked
	}

	p := &Partition{
		Labels:  labels,
		Ranking: ranking,
		Quality: quality,
		Params: Params{
			Seed:        m.opts.Seed,
			MaxFeatures: m.opts.MaxFeatures,
			MinDF:       vec.MinDF,
			MaxDF:       vec.MaxDF,
			Iterations:  m.opts.LDAIterations,
			Alpha:       alpha,
			Beta:        ldaBeta,
		},
		Warnings: warnings,
	}
	if pp, ok := perplexity(docs, theta, phi); ok {
		p.Metrics.Perplexity = ptr(pp)
	}
	return p, nil
}

// gibbs holds the count tables of a collapsed Gibbs sampler.
type gibbs struct {
	docs        [][]int
	z           [][]int
	ndk         [][]int
	nkw         [][]int
	nk          []int
	k, v        int
	alpha, beta float64
	rng         *rand.Rand
	weights     []float64
}

func newGibbs(docs [][]int, v, k int, alpha, beta float64, rng *rand.Rand) *gibbs {
	s := &gibbs{
		docs:    docs,
		z:       make([][]int, len(docs)),
		ndk:     make([][]int, len(docs)),
		nkw:     make([][]int, k),
		nk:      make([]int, k),
		k:       k,
		v:       v,
		alpha:   alpha,
		beta:    beta,
		rng:     rng,
		weights: make([]float64, k),
	}
	for t := range s.nkw {
		s.nkw[t] = make([]int, v)
	}
	for d, words := range docs {
		s.ndk[d] = make([]int, k)
		s.z[d] = make([]int, len(words))
		for i, w := range words {
			t := rng.Intn(k)
			s.z[d][i] = t
			s.ndk[d][t]++
			s.nkw[t][w]++
			s.nk[t]++
		}
	}
	return s
}

// sweep resamples the topic of every token once.
func (s *gibbs) sweep() {
	vBeta := float64(s.v) * s.beta
	for d, words := range s.docs {
		for i, w := range words {
			t := s.z[d][i]
			s.ndk[d][t]--
			s.nkw[t][w]--
			s.nk[t]--

			var total float64
			for tt := 0; tt < s.k; tt++ {
				p := (float64(s.ndk[d][tt]) + s.alpha) *
					(float64(s.nkw[tt][w]) + s.beta) / (float64(s.nk[tt]) + vBeta)
				total += p
				s.weights[tt] = total
			}
			u := s.rng.Float64() * total
			t = sort.SearchFloat64s(s.weights, u)
			if t >= s.k {
				t = s.k - 1
			}

			s.z[d][i] = t
			s.ndk[d][t]++
			s.nkw[t][w]++
			s.nk[t]++
		}
	}
}

func (s *gibbs) theta() [][]float64 {
	out := make([][]float64, len(s.docs))
	kAlpha := float64(s.k) * s.alpha
	for d := range s.docs {
		out[d] = make([]float64, s.k)
		nd := float64(len(s.docs[d]))
		for t := 0; t < s.k; t++ {
			out[d][t] = (float64(s.ndk[d][t]) + s.alpha) / (nd + kAlpha)
		}
	}
	return out
}

func (s *gibbs) phi() [][]float64 {
	out := make([][]float64, s.k)
	vBeta := float64(s.v) * s.beta
	for t := 0; t < s.k; t++ {
		out[t] = make([]float64, s.v)
		for w := 0; w < s.v; w++ {
			out[t][w] = (float64(s.nkw[t][w]) + s.beta) / (float64(s.nk[t]) + vBeta)
		}
	}
	return out
}

// perplexity is exp(-log-likelihood per token) of the corpus under the
// fitted model. ok is false for a corpus without tokens.
func perplexity(docs [][]int, theta, phi [][]float64) (float64, bool) {
	var ll float64
	var tokens int
	for d, words := range docs {
		for _, w := range words {
			var p float64
			for t := range phi {
				p += theta[d][t] * phi[t][w]
			}
			ll += math.Log(p)
		}
		tokens += len(words)
	}
	if tokens == 0 {
		return 0, false
	}
	return math.Exp(-ll / float64(tokens)), true
}

// umassCoherence scores a topic's top words by how often they co-occur in
// documents: the mean over ranked pairs of log((D(wi,wj)+1) / D(wj)), where
// wj ranks above wi.
func umassCoherence(docs [][]int, topicPhi []float64, top int) float64 {
	words := make([]int, len(topicPhi))
	for w := range words {
		words[w] = w
	}
	sort.SliceStable(words, func(i, j int) bool { return topicPhi[words[i]] > topicPhi[words[j]] })
	if len(words) > top {
		words = words[:top]
	}
	if len(words) < 2 {
		return 0
	}

	present := make([]map[int]struct{}, len(docs))
	for d, ws := range docs {
		present[d] = make(map[int]struct{}, len(ws))
		for _, w := range ws {
			present[d][w] = struct{}{}
		}
	}
	df := func(ws ...int) int {
		count := 0
		for _, set := range present {
			all := true
			for _, w := range ws {
				if _, ok := set[w]; !ok {
					all = false
					break
				}
			}
			if all {
				count++
			}
		}
		return count
	}

	var sum float64
	pairs := 0
	for i := 1; i < len(words); i++ {
		for j := 0; j < i; j++ {
			dj := df(words[j])
			if dj == 0 {
				continue
			}
			sum += math.Log(float64(df(words[i], words[j])+1) / float64(dj))
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

var _ Method = (*LDA)(nil)
