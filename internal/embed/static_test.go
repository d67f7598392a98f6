package embed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_ReturnsUnitVector(t *testing.T) {
	// Given: static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed a sentence
	embedding, err := embedder.Embed(context.Background(), "Medicare payment rates for rural hospitals")

	// Then: a unit-length 256-dimension vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.0001)
}

func TestStaticEmbedder_Embed_IsDeterministicAcrossInstances(t *testing.T) {
	text := "Comments on the proposed dialysis facility payment rule"

	emb1, err := NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)
	emb2, err := NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, emb1, emb2)
}

func TestStaticEmbedder_Embed_BlankInputReturnsZeroVector(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \t\n  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedding, err := NewStaticEmbedder().Embed(context.Background(), tt.text)

			require.NoError(t, err)
			assert.Len(t, embedding, StaticDimensions)
			for _, v := range embedding {
				assert.Equal(t, float32(0), v)
			}
		})
	}
}

func TestStaticEmbedder_SimilarDocumentsAreCloser(t *testing.T) {
	// Given: two documents on the same topic and one on another topic
	embedder := NewStaticEmbedder()
	ctx := context.Background()
	a, _ := embedder.Embed(ctx, "dialysis facility payment bundle for kidney patients")
	b, _ := embedder.Embed(ctx, "kidney dialysis payment bundle adjustments")
	c, _ := embedder.Embed(ctx, "telehealth broadband access in rural clinics")

	// Then: the same-topic pair is more similar
	assert.Greater(t, cosineSimilarity(a, b), cosineSimilarity(a, c))
}

func TestStaticEmbedder_StopWordsDoNotChangeTokenBuckets(t *testing.T) {
	// Given: texts that differ only by stop words
	embedder := NewStaticEmbedder()

	// When: the token part of the vector is generated
	withStops := embedder.generateVector("the dialysis and the payment")
	without := embedder.generateVector("dialysis payment")

	// Then: the vectors differ only through character trigrams, so they
	// stay highly similar
	assert.Greater(t, cosineSimilarity(normalizeVector(withStops), normalizeVector(without)), 0.6)
}

func TestStaticEmbedder_EmbedBatch(t *testing.T) {
	embedder := NewStaticEmbedder()
	ctx := context.Background()

	out, err := embedder.EmbedBatch(ctx, []string{"first document", "", "third document"})

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, make([]float32, StaticDimensions), out[1])
	single, _ := embedder.Embed(ctx, "third document")
	assert.Equal(t, single, out[2])

	empty, err := embedder.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticEmbedder_EmbedBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticEmbedder().EmbedBatch(ctx, []string{"text"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticEmbedder_LongTextIsTruncated(t *testing.T) {
	embedder := NewStaticEmbedder()
	ctx := context.Background()
	head := strings.Repeat("hospital payment ", MaxInputChars/len("hospital payment ")+1)

	a, err := embedder.Embed(ctx, head+"unrelated tail words")
	require.NoError(t, err)
	b, err := embedder.Embed(ctx, head+"completely different ending")
	require.NoError(t, err)

	assert.Equal(t, a, b, "text past MaxInputChars should not affect the vector")
}

func TestStaticEmbedder_Metadata(t *testing.T) {
	embedder := NewStaticEmbedder()

	assert.Equal(t, StaticDimensions, embedder.Dimensions())
	assert.Equal(t, "static", embedder.ModelName())
	assert.True(t, embedder.Available(context.Background()))
}

func TestStaticEmbedder_Close(t *testing.T) {
	// Given: a closed embedder
	embedder := NewStaticEmbedder()
	require.NoError(t, embedder.Close())
	require.NoError(t, embedder.Close(), "Close is idempotent")

	// Then: it reports unavailable and refuses work
	assert.False(t, embedder.Available(context.Background()))
	_, err := embedder.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"abc", "bcd"}, extractNgrams([]rune("abcd"), 3))
	assert.Empty(t, extractNgrams([]rune("ab"), 3))
	assert.Equal(t, []string{"éco", "con"}, extractNgrams(normalizeForNgrams("É-con"), 3))
}
