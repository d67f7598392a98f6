package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed. Each embedding is
// [len(text), 1, 0] so tests can tell inputs apart.
type fakeOllama struct {
	models     []string
	embedCalls atomic.Int64
	failEmbeds atomic.Int64 // embed requests still to fail with 500
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		resp := OllamaModelListResponse{}
		for _, m := range f.models {
			resp.Models = append(resp.Models, OllamaModelInfo{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		if f.failEmbeds.Load() > 0 {
			f.failEmbeds.Add(-1)
			http.Error(w, "model loading", http.StatusInternalServerError)
			return
		}
		var req struct {
			Model string          `json:"model"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			if err := json.Unmarshal(req.Input, &single); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			inputs = []string{single}
		}

		resp := OllamaEmbedResponse{Model: req.Model}
		for _, in := range inputs {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(in)), 1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newFakeOllama(t *testing.T, models ...string) (*fakeOllama, *httptest.Server) {
	f := &fakeOllama{models: models}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func TestNewOllamaEmbedder_ResolvesModelAndDimensions(t *testing.T) {
	// Given: a server with the tagged default model installed
	_, srv := newFakeOllama(t, "nomic-embed-text:latest")

	// When: the embedder is created
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL + "/"})

	// Then: the installed tag is used and dimensions are detected
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestNewOllamaEmbedder_FallsBackToInstalledModel(t *testing.T) {
	_, srv := newFakeOllama(t, "all-minilm:latest")

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, "all-minilm:latest", e.ModelName())
}

func TestNewOllamaEmbedder_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		host func(t *testing.T) string
	}{
		{"model not installed", func(t *testing.T) string {
			_, srv := newFakeOllama(t, "llama3:8b")
			return srv.URL
		}},
		{"server down", func(t *testing.T) string {
			srv := httptest.NewServer(http.NotFoundHandler())
			srv.Close()
			return srv.URL
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
				Host:           tt.host(t),
				FallbackModels: []string{},
			})

			require.Error(t, err)
			assert.Equal(t, docerrors.ErrCodeModelUnavailable, docerrors.GetCode(err))
			assert.ErrorIs(t, err, docerrors.ErrModelUnavailable)
		})
	}
}

func TestOllamaEmbedder_EmbedBatch_SplitsIntoBatches(t *testing.T) {
	// Given: batch size 2 and five texts, one blank
	f, srv := newFakeOllama(t, "nomic-embed-text")
	var progress []int
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:      srv.URL,
		BatchSize: 2,
		Progress:  func(done, total int) { progress = append(progress, done) },
	})
	require.NoError(t, err)
	f.embedCalls.Store(0)

	// When: the texts are embedded
	out, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "  ", "cccc", "ddddd"})

	// Then: four non-blank texts need two requests and results keep order
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, int64(2), f.embedCalls.Load())
	assert.Equal(t, []int{2, 4}, progress)
	assert.Equal(t, make([]float32, 3), out[2])
	assert.Greater(t, out[4][0], out[3][0], "longer text has larger first component")
	assert.InDelta(t, 1.0, vectorMagnitude(out[0]), 0.0001)
}

func TestOllamaEmbedder_RetriesTransientFailures(t *testing.T) {
	// Given: the first embed request fails
	f, srv := newFakeOllama(t, "nomic-embed-text")
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, MaxRetries: 2})
	require.NoError(t, err)
	f.embedCalls.Store(0)
	f.failEmbeds.Store(1)

	// When: a text is embedded
	vec, err := e.Embed(context.Background(), "medicare")

	// Then: the retry succeeds
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int64(2), f.embedCalls.Load())
}

func TestOllamaEmbedder_ExhaustedRetriesAreModelUnavailable(t *testing.T) {
	f, srv := newFakeOllama(t, "nomic-embed-text")
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		MaxRetries:      1,
		Dimensions:      3,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	f.failEmbeds.Store(10)

	_, err = e.Embed(context.Background(), "medicare")

	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeModelUnavailable, docerrors.GetCode(err))
	assert.Equal(t, int64(2), f.embedCalls.Load())
}

func TestOllamaEmbedder_CancelledContext(t *testing.T) {
	_, srv := newFakeOllama(t, "nomic-embed-text")
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.EmbedBatch(ctx, []string{"text"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaEmbedder_ClosedRefusesWork(t *testing.T) {
	_, srv := newFakeOllama(t, "nomic-embed-text")
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)

	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_ColdTimeoutBeforeFirstCall(t *testing.T) {
	e := &OllamaEmbedder{config: OllamaConfig{Timeout: 10 * time.Second}}
	assert.Equal(t, DefaultColdTimeout, e.getTimeout())

	e.updateLastCall()
	assert.Equal(t, 10*time.Second, e.getTimeout())
}
