package textproc

import (
	"math"
	"sort"
	"unicode/utf8"
)

// minFrequencyWordLen is the shortest word counted by frequency keywords.
const minFrequencyWordLen = 4

// Keyword is a ranked term.
type Keyword struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// KeywordTerms returns just the terms of kws.
func KeywordTerms(kws []Keyword) []string {
	out := make([]string, len(kws))
	for i, kw := range kws {
		out[i] = kw.Term
	}
	return out
}

// Corpus keeps the tokens and term statistics of a document set so that
// keywords for any subset can be ranked against the whole.
type Corpus struct {
	vec    Vectorizer
	tokens [][]string
	terms  [][]string
	df     map[string]int
}

// NewCorpus indexes docs, which are token lists produced by Tokenize.
func NewCorpus(docs [][]string, vec Vectorizer) *Corpus {
	c := &Corpus{
		vec:    vec,
		tokens: docs,
		terms:  make([][]string, len(docs)),
		df:     make(map[string]int),
	}
	for i, tokens := range docs {
		c.terms[i] = vec.Terms(tokens)
		seen := make(map[string]struct{}, len(c.terms[i]))
		for _, term := range c.terms[i] {
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				c.df[term]++
			}
		}
	}
	return c
}

// Len returns the number of documents.
func (c *Corpus) Len() int { return len(c.tokens) }

// Tokens returns the token list of document i.
func (c *Corpus) Tokens(i int) []string { return c.tokens[i] }

// Salience ranks the terms of the member documents by
// (count in members / len(members)) * log(N / df). Terms found in every
// document score zero and sort after everything else by raw count.
func (c *Corpus) Salience(members []int, n int) []Keyword {
	if len(members) == 0 || n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, i := range members {
		for _, term := range c.terms[i] {
			counts[term]++
		}
	}
	size := float64(len(members))
	total := float64(len(c.tokens))

	kws := make([]Keyword, 0, len(counts))
	for term, count := range counts {
		idf := math.Log(total / float64(c.df[term]))
		kws = append(kws, Keyword{Term: term, Score: float64(count) / size * idf})
	}
	sort.Slice(kws, func(i, j int) bool {
		a, b := kws[i], kws[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if counts[a.Term] != counts[b.Term] {
			return counts[a.Term] > counts[b.Term]
		}
		return a.Term < b.Term
	})
	if len(kws) > n {
		kws = kws[:n]
	}
	return kws
}

// Frequency ranks the non-stop words longer than three letters of the
// member documents by raw count.
func (c *Corpus) Frequency(members []int, n int) []Keyword {
	if len(members) == 0 || n <= 0 {
		return nil
	}
	stop := c.vec.StopWords
	if stop == nil {
		stop = DefaultStopWords()
	}
	counts := make(map[string]int)
	for _, i := range members {
		for _, word := range c.tokens[i] {
			if utf8.RuneCountInString(word) < minFrequencyWordLen {
				continue
			}
			if _, isStop := stop[word]; isStop {
				continue
			}
			counts[word]++
		}
	}
	return topCounts(counts, n)
}

func topCounts(counts map[string]int, n int) []Keyword {
	kws := make([]Keyword, 0, len(counts))
	for term, count := range counts {
		kws = append(kws, Keyword{Term: term, Score: float64(count)})
	}
	sort.Slice(kws, func(i, j int) bool {
		if kws[i].Score != kws[j].Score {
			return kws[i].Score > kws[j].Score
		}
		return kws[i].Term < kws[j].Term
	})
	if len(kws) > n {
		kws = kws[:n]
	}
	return kws
}
