// Package embed turns document text into dense vectors for the embedding
// cluster method. Providers are an Ollama HTTP client and a deterministic
// hash embedder that needs nothing installed; either can be wrapped in an
// LRU cache keyed by text and model.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 16

	// DefaultTimeout bounds one embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultColdTimeout is used for the health check and the first request,
	// when Ollama may still be loading the model.
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is the idle time after which Ollama unloads a model.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2

	// MaxInputChars truncates document text before it is sent for embedding.
	// Whole documents routinely exceed model context windows.
	MaxInputChars = 8000
)

// StaticDimensions is the embedding dimension of the static embedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// ProgressFunc receives (completed, total) after each embedded batch.
type ProgressFunc func(completed, total int)

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// truncate cuts text to at most MaxInputChars runes.
func truncate(text string) string {
	if len(text) <= MaxInputChars {
		return text
	}
	r := []rune(text)
	if len(r) <= MaxInputChars {
		return text
	}
	return string(r[:MaxInputChars])
}
