package cluster

import (
	"sort"

	"github.com/mythorath/DocAnalysisTool/internal/textproc"
)

const (
	representativeDocs = 3
	topFacets          = 5
)

// assignments builds one Assignment per corpus document with its own TF-IDF
// and frequency keywords.
func assignments(c *Corpus, labels []int, method string, stopWords map[string]struct{}, n int) []Assignment {
	tfidf := tfidfKeywords(c, stopWords, n)
	out := make([]Assignment, c.Len())
	for i := range out {
		out[i] = Assignment{
			DocID:             c.ID(i),
			ClusterID:         labels[i],
			Method:            method,
			TFIDFKeywords:     tfidf[i],
			FrequencyKeywords: textproc.KeywordTerms(c.Keywords().Frequency([]int{i}, n)),
		}
	}
	return out
}

// tfidfKeywords returns the n highest-weighted terms of each document under
// a unigram model of the whole corpus.
func tfidfKeywords(c *Corpus, stopWords map[string]struct{}, n int) [][]string {
	out := make([][]string, c.Len())
	model, err := textproc.Vectorizer{MaxNGram: 1, StopWords: stopWords}.Fit(c.Tokens)
	if err != nil {
		return out
	}
	for i, tokens := range c.Tokens {
		weights := model.TFIDF(tokens)
		kws := make([]textproc.Keyword, 0, len(weights))
		for j, w := range weights {
			if w > 0 {
				kws = append(kws, textproc.Keyword{Term: model.Terms[j], Score: w})
			}
		}
		out[i] = textproc.KeywordTerms(topKeywords(kws, n))
	}
	return out
}

// topKeywords sorts by score, ties alphabetically, and keeps n.
func topKeywords(kws []textproc.Keyword, n int) []textproc.Keyword {
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

// descriptors summarises every cluster of p, ordered by id with the
// unclustered bucket last.
func descriptors(c *Corpus, p *Partition, method string, n int) []Descriptor {
	g := groups(p.Labels)
	ids := make([]int, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a == Unclustered || b == Unclustered {
			return b == Unclustered && a != Unclustered
		}
		return a < b
	})

	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		members := g[id]
		d := Descriptor{
			ClusterID:         id,
			Method:            method,
			Keywords:          textproc.KeywordTerms(c.Keywords().Salience(members, n)),
			FrequencyKeywords: textproc.KeywordTerms(c.Keywords().Frequency(members, n)),
			Size:              len(members),
		}
		if q, ok := p.Quality[id]; ok {
			d.Quality = ptr(q)
		}

		ranked := members
		if r, ok := p.Ranking[id]; ok && len(r) == len(members) {
			ranked = r
		}
		for _, i := range ranked[:min(representativeDocs, len(ranked))] {
			d.RepresentativeDocs = append(d.RepresentativeDocs, c.ID(i))
		}

		orgs := make(map[string]int)
		cats := make(map[string]int)
		var chars int
		for _, i := range members {
			doc := c.Docs[i].Document
			if doc.Organization != "" {
				orgs[doc.Organization]++
			}
			if doc.Category != "" {
				cats[doc.Category]++
			}
			chars += c.Docs[i].Extraction.CharCount
		}
		d.TopOrganizations = topFacet(orgs, topFacets)
		d.TopCategories = topFacet(cats, topFacets)
		d.AvgCharCount = float64(chars) / float64(len(members))
		out = append(out, d)
	}
	return out
}

// topFacet keeps the n most frequent values, ties alphabetically.
func topFacet(counts map[string]int, n int) map[string]int {
	if len(counts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	out := make(map[string]int, min(n, len(keys)))
	for _, k := range keys[:min(n, len(keys))] {
		out[k] = counts[k]
	}
	return out
}
