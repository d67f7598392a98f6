package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu       sync.RWMutex
	closed   bool
	lastCall time.Time
}

// Verify interface implementation at compile time
var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama, resolves the model (falling back
// through FallbackModels) and detects its dimensions. An unreachable server
// or a missing model is reported as ERR_501_MODEL_UNAVAILABLE.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	// Short idle timeout: a pipeline run is short-lived and Ctrl+C should
	// not leave connections behind.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-wide Timeout: per-request contexts carry the deadline.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		modelName, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, docerrors.ModelUnavailableError(cfg.Model, err).
				WithDetail("host", cfg.Host)
		}
		e.modelName = modelName

		if cfg.Dimensions == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, docerrors.ModelUnavailableError(modelName, err).
					WithDetail("host", cfg.Host)
			}
			e.dims = dims
		}
	}

	return e, nil
}

// listModels gets available models from Ollama
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel matches the configured model, then each fallback,
// against installed models by full name or by name without tag.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string) // normalized -> actual
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, c := range candidates {
		name := strings.ToLower(c)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", fmt.Errorf("no embedding model available (tried %s and %v)", e.config.Model, e.config.FallbackModels)
}

// detectDimensions embeds a probe string and measures the vector.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in batches of BatchSize. Blank texts map to zero
// vectors without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	progress := e.config.Progress
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, truncate(text)})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(batch) {
			return nil, docerrors.New(docerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("Ollama returned %d embeddings for %d inputs", len(embeddings), len(batch)), nil)
		}
		for i, emb := range embeddings {
			if e.dims != 0 && len(emb) != e.dims {
				return nil, docerrors.New(docerrors.ErrCodeDimensionMismatch,
					fmt.Sprintf("expected %d dimensions, got %d", e.dims, len(emb)), nil).
					WithDetail("model", e.modelName)
			}
			results[batch[i].idx] = emb
		}

		if progress != nil {
			progress(end, len(nonEmpty))
		}
	}

	return results, nil
}

// getTimeout gives the first request after an idle period the cold timeout
// since Ollama may have to reload the model.
func (e *OllamaEmbedder) getTimeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return max(DefaultColdTimeout, e.config.Timeout)
	}
	return e.config.Timeout
}

func (e *OllamaEmbedder) updateLastCall() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

// doEmbedWithRetry retries transient failures with exponential backoff.
// Exhausted retries surface as ERR_501_MODEL_UNAVAILABLE.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := docerrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
	attempt := 0
	embeddings, err := docerrors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		attempt++
		timeout := e.getTimeout()
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := e.doEmbed(timeoutCtx, texts)
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.Duration("timeout", timeout),
				slog.String("error", err.Error()))
		}
		return out, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, docerrors.ModelUnavailableError(e.modelName, err).
			WithDetail("attempts", fmt.Sprint(attempt))
	}
	e.updateLastCall()
	return embeddings, nil
}

// doEmbed performs one /api/embed request. The request runs in a goroutine
// so cancellation returns promptly even while the server is still busy.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		embeddings [][]float32
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			resultCh <- result{nil, err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resultCh <- result{nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		var apiResult OllamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, fmt.Errorf("failed to decode response: %w", err)}
			return
		}

		embeddings := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			embedding := make([]float32, len(emb))
			for j, v := range emb {
				embedding[j] = float32(v)
			}
			embeddings[i] = normalizeVector(embedding)
		}
		resultCh <- result{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.embeddings, r.err
	}
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available checks if Ollama is running and the model is installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}

	modelLower := strings.ToLower(e.modelName)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == modelLower || strings.Split(name, ":")[0] == strings.Split(modelLower, ":")[0] {
			return true
		}
	}
	return false
}

// SetProgressFunc sets the progress callback for batch embedding.
func (e *OllamaEmbedder) SetProgressFunc(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.Progress = fn
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
