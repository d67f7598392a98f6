package textproc

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"page break", "First page\n\n--- PAGE BREAK ---\n\nSecond", "first page second"},
		{"ocr marker", "[OCR page 2] Scanned text", "scanned text"},
		{"url", "See https://www.regulations.gov/doc?id=1 for details", "see for details"},
		{"email", "Contact jane.doe@example.org today", "contact today"},
		{"windows path", `Saved at C:\Users\docs\file.pdf now`, "saved at now"},
		{"unix path", "Stored in /var/lib/docs/a.txt now", "stored in now"},
		{"short and long words", "a " + strings.Repeat("x", 26) + " ok", "ok"},
		{"symbols", "Rates © 2024 ® up", "rates 2024 up"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestTokenize_KeepsAlphabeticWords(t *testing.T) {
	got := Tokenize("Payment RATE 2024: a Hospitalization co-pay")

	assert.Equal(t, []string{"payment", "rate", "hospitalization", "co", "pay"}, got)
}

func TestSummary(t *testing.T) {
	short := "Short text."
	assert.Equal(t, "short text.", Summary(short))

	long := strings.Repeat("word ", 200)
	got := Summary(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, SummaryLen+3, len(got))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 4, WordCount("  one two\nthree\tfour "))
	assert.Equal(t, 0, WordCount(""))
}

func TestStopWords(t *testing.T) {
	assert.True(t, IsStopWord("The"))
	assert.True(t, IsStopWord("medicare"))
	assert.False(t, IsStopWord("dialysis"))

	got := FilterStopWords([]string{"the", "payment", "for", "rural"}, DefaultStopWords())
	assert.Equal(t, []string{"payment", "rural"}, got)
}

func TestVectorizer_TermsIncludesBigramsAfterStopWords(t *testing.T) {
	v := Vectorizer{MaxNGram: 2, StopWords: DefaultStopWords()}

	got := v.Terms([]string{"the", "payment", "rate", "for", "rural"})

	assert.Equal(t, []string{"payment", "rate", "rural", "payment rate", "rate rural"}, got)
}

func TestVectorizer_FitPrunesByDocumentFrequency(t *testing.T) {
	// Given: five documents where "rate" appears everywhere and "rare" once
	docs := [][]string{
		{"rate", "dialysis", "rare"},
		{"rate", "dialysis"},
		{"rate", "imaging"},
		{"rate", "imaging"},
		{"rate", "imaging"},
	}
	v := Vectorizer{MaxNGram: 1, MinDF: 2, MaxDF: 0.8}

	// When: fitting
	m, err := v.Fit(docs)

	// Then: only terms in 2..4 documents survive, alphabetically
	require.NoError(t, err)
	assert.Equal(t, []string{"dialysis", "imaging"}, m.Terms)
	assert.Equal(t, []int{2, 3}, m.DF)
	assert.Equal(t, 5, m.NumDocs)
}

func TestVectorizer_FitMaxFeaturesKeepsMostFrequent(t *testing.T) {
	docs := [][]string{{"alpha", "alpha", "alpha", "beta", "beta", "gamma"}}
	v := Vectorizer{MaxNGram: 1, MaxFeatures: 2}

	m, err := v.Fit(docs)

	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, m.Terms)
}

func TestVectorizer_FitEmptyVocabulary(t *testing.T) {
	_, err := Vectorizer{MinDF: 2}.Fit([][]string{{"one"}, {"two"}})

	assert.ErrorIs(t, err, ErrEmptyVocabulary)
}

func TestModel_TFIDFIsUnitLength(t *testing.T) {
	docs := [][]string{{"dialysis", "payment"}, {"imaging", "payment"}}
	m, err := Vectorizer{MaxNGram: 2}.Fit(docs)
	require.NoError(t, err)

	vecs := m.Transform(docs)

	for _, vec := range vecs {
		var sum float64
		for _, v := range vec {
			sum += v * v
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
	}
	assert.Equal(t, m.Dim(), len(vecs[0]))

	// Unknown terms give the zero vector rather than NaN.
	zero := m.TFIDF([]string{"unrelated"})
	for _, v := range zero {
		assert.Zero(t, v)
	}
}

func TestCorpus_SalienceRanksDistinctiveTerms(t *testing.T) {
	// Given: two dialysis letters and two imaging letters sharing "payment"
	docs := [][]string{
		Tokenize("dialysis payment dialysis facilities"),
		Tokenize("dialysis payment bundle"),
		Tokenize("imaging payment scanners"),
		Tokenize("imaging payment radiology"),
	}
	c := NewCorpus(docs, Vectorizer{MaxNGram: 2, StopWords: DefaultStopWords()})

	// When: ranking the dialysis group
	kws := c.Salience([]int{0, 1}, 3)

	// Then: dialysis leads and the shared term scores zero
	require.Len(t, kws, 3)
	assert.Equal(t, "dialysis", kws[0].Term)
	assert.NotContains(t, KeywordTerms(kws), "payment")
	assert.Equal(t, 4, c.Len())
}

func TestCorpus_FrequencySkipsShortAndStopWords(t *testing.T) {
	docs := [][]string{Tokenize("The rural rural clinic has the new fee for rural care")}
	c := NewCorpus(docs, Vectorizer{MaxNGram: 1, StopWords: DefaultStopWords()})

	kws := c.Frequency([]int{0}, 10)

	assert.Equal(t, []string{"rural", "care", "clinic"}, KeywordTerms(kws))
	assert.Equal(t, 3.0, kws[0].Score)
	assert.Nil(t, c.Frequency(nil, 5))
}
