package cluster

import (
	"errors"
	"sort"

	"github.com/mythorath/DocAnalysisTool/internal/store"
	"github.com/mythorath/DocAnalysisTool/internal/textproc"
)

// Corpus is the clusterable part of an extraction batch, in document id
// order, with each document's text tokenized once for every method.
type Corpus struct {
	Docs   []*store.CorpusEntry
	Tokens [][]string

	keywords *textproc.Corpus
}

// NewCorpus keeps the entries with usable text and returns the ids of
// those it had to skip (FAILED or missing extraction).
func NewCorpus(entries []*store.CorpusEntry, stopWords map[string]struct{}) (*Corpus, []string) {
	c := &Corpus{}
	var skipped []string
	for _, e := range entries {
		if e == nil || e.Document == nil {
			continue
		}
		if e.Extraction == nil || e.Extraction.Failed() {
			skipped = append(skipped, e.Document.ID)
			continue
		}
		c.Docs = append(c.Docs, e)
	}
	sort.Slice(c.Docs, func(i, j int) bool { return c.Docs[i].Document.ID < c.Docs[j].Document.ID })
	sort.Strings(skipped)

	c.Tokens = make([][]string, len(c.Docs))
	for i, e := range c.Docs {
		c.Tokens[i] = textproc.Tokenize(e.Extraction.Content)
	}
	if stopWords == nil {
		stopWords = textproc.DefaultStopWords()
	}
	c.keywords = textproc.NewCorpus(c.Tokens, textproc.Vectorizer{MaxNGram: 1, StopWords: stopWords})
	return c, skipped
}

// Len returns the number of documents.
func (c *Corpus) Len() int { return len(c.Docs) }

// ID returns the document id of document i.
func (c *Corpus) ID(i int) string { return c.Docs[i].Document.ID }

// Text returns the extracted text of document i.
func (c *Corpus) Text(i int) string { return c.Docs[i].Extraction.Content }

// Keywords exposes the keyword statistics of the whole corpus.
func (c *Corpus) Keywords() *textproc.Corpus { return c.keywords }

// vectorizer returns the TF-IDF settings for a corpus of n documents:
// document-frequency pruning only once there are enough documents for it
// to mean something.
func vectorizer(n, maxNGram, maxFeatures int, stopWords map[string]struct{}) textproc.Vectorizer {
	v := textproc.Vectorizer{
		MaxNGram:    maxNGram,
		MinDF:       1,
		MaxFeatures: maxFeatures,
		StopWords:   stopWords,
	}
	if n >= 4 {
		v.MinDF = 2
	}
	if n >= 5 {
		v.MaxDF = 0.8
	}
	return v
}

// fitModel fits v to the corpus, relaxing the document-frequency limits
// when they leave no vocabulary at all.
func fitModel(c *Corpus, v textproc.Vectorizer) (*textproc.Model, textproc.Vectorizer, []string, error) {
	var warnings []string
	m, err := v.Fit(c.Tokens)
	if errors.Is(err, textproc.ErrEmptyVocabulary) && (v.MinDF > 1 || v.MaxDF > 0) {
		warnings = append(warnings, "document-frequency limits removed every term; refitting without them")
		v.MinDF, v.MaxDF = 1, 0
		m, err = v.Fit(c.Tokens)
	}
	return m, v, warnings, err
}
