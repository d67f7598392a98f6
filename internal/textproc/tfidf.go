package textproc

import (
	"errors"
	"math"
	"sort"
	"strings"
)

// ErrEmptyVocabulary is returned by Fit when document-frequency pruning
// removes every term.
var ErrEmptyVocabulary = errors.New("no terms remain after pruning")

// Vectorizer turns token lists into weighted term vectors.
type Vectorizer struct {
	// MaxNGram is the longest n-gram produced (1 = unigrams only).
	MaxNGram int
	// MinDF drops terms found in fewer documents.
	MinDF int
	// MaxDF drops terms found in more than this proportion of documents.
	// Zero disables the cut.
	MaxDF float64
	// MaxFeatures keeps the most frequent terms. Zero keeps all.
	MaxFeatures int
	// StopWords are removed before n-grams are formed.
	StopWords map[string]struct{}
}

// Terms returns the n-grams of tokens after stop-word removal. Bigrams are
// joined with a single space.
func (v Vectorizer) Terms(tokens []string) []string {
	words := tokens
	if v.StopWords != nil {
		words = FilterStopWords(tokens, v.StopWords)
	}
	maxN := max(v.MaxNGram, 1)

	terms := make([]string, 0, len(words)*maxN)
	terms = append(terms, words...)
	for n := 2; n <= maxN; n++ {
		for i := 0; i+n <= len(words); i++ {
			terms = append(terms, strings.Join(words[i:i+n], " "))
		}
	}
	return terms
}

// Model is a fitted vocabulary with inverse document frequencies.
type Model struct {
	vec Vectorizer

	// Terms maps column index to term, sorted alphabetically.
	Terms []string
	// DF holds the document frequency of each column.
	DF  []int
	IDF []float64

	NumDocs int
	index   map[string]int
}

// Fit builds a vocabulary from the tokenized documents.
func (v Vectorizer) Fit(docs [][]string) (*Model, error) {
	n := len(docs)
	df := make(map[string]int)
	total := make(map[string]int)
	for _, tokens := range docs {
		seen := make(map[string]struct{})
		for _, term := range v.Terms(tokens) {
			total[term]++
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	minDF := max(v.MinDF, 1)
	maxDocs := float64(n)
	if v.MaxDF > 0 && v.MaxDF < 1 {
		maxDocs = v.MaxDF * float64(n)
	}

	kept := make([]string, 0, len(df))
	for term, count := range df {
		if count < minDF || float64(count) > maxDocs {
			continue
		}
		kept = append(kept, term)
	}
	if len(kept) == 0 {
		return nil, ErrEmptyVocabulary
	}

	if v.MaxFeatures > 0 && len(kept) > v.MaxFeatures {
		sort.Slice(kept, func(i, j int) bool {
			if total[kept[i]] != total[kept[j]] {
				return total[kept[i]] > total[kept[j]]
			}
			return kept[i] < kept[j]
		})
		kept = kept[:v.MaxFeatures]
	}
	sort.Strings(kept)

	m := &Model{
		vec:     v,
		Terms:   kept,
		DF:      make([]int, len(kept)),
		IDF:     make([]float64, len(kept)),
		NumDocs: n,
		index:   make(map[string]int, len(kept)),
	}
	for i, term := range kept {
		m.index[term] = i
		m.DF[i] = df[term]
		// Smoothed idf: terms in every document keep weight 1.
		m.IDF[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}
	return m, nil
}

// Dim returns the vocabulary size.
func (m *Model) Dim() int { return len(m.Terms) }

// Counts returns the raw term counts of tokens over the vocabulary.
func (m *Model) Counts(tokens []string) []float64 {
	vec := make([]float64, len(m.Terms))
	for _, term := range m.vec.Terms(tokens) {
		if idx, ok := m.index[term]; ok {
			vec[idx]++
		}
	}
	return vec
}

// TFIDF returns the L2-normalised tf·idf vector of tokens.
func (m *Model) TFIDF(tokens []string) []float64 {
	vec := m.Counts(tokens)
	for i := range vec {
		vec[i] *= m.IDF[i]
	}
	Normalize(vec)
	return vec
}

// Transform applies TFIDF to every document.
func (m *Model) Transform(docs [][]string) [][]float64 {
	out := make([][]float64, len(docs))
	for i, tokens := range docs {
		out[i] = m.TFIDF(tokens)
	}
	return out
}

// Normalize scales vec to unit length in place. Zero vectors are left alone.
func Normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
