package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mythorath/DocAnalysisTool/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderAuto tries Ollama and falls back to the static embedder.
	ProviderAuto ProviderType = ""

	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// ValidProviders lists the accepted provider names.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// ParseProvider converts a config value to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ProviderAuto, nil
	case "ollama":
		return ProviderOllama, nil
	case "static":
		return ProviderStatic, nil
	}
	return "", fmt.Errorf("unknown embedding provider %q (valid: %s)", s, strings.Join(ValidProviders(), ", "))
}

// Options selects and configures a provider.
type Options struct {
	Provider   ProviderType
	Model      string
	OllamaHost string
	BatchSize  int
	Timeout    time.Duration

	// CacheSize bounds the LRU cache; negative disables caching.
	CacheSize int
	Progress  ProgressFunc
	Logger    *slog.Logger
}

// OptionsFromConfig maps the embeddings section of the pipeline config.
func OptionsFromConfig(cfg config.EmbeddingsConfig) (Options, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Provider:   provider,
		Model:      cfg.Model,
		OllamaHost: cfg.OllamaHost,
		BatchSize:  cfg.BatchSize,
		Timeout:    config.Duration(cfg.Timeout, DefaultTimeout),
		CacheSize:  cfg.CacheSize,
	}, nil
}

// NewEmbedder creates an embedder for opts.Provider.
//
// An explicit "ollama" provider fails with ERR_501_MODEL_UNAVAILABLE when
// the server or model is missing; callers decide whether to fall back.
// Auto-detection falls back to the static embedder with a warning.
//
// DOCANALYSIS_EMBED_CACHE=false disables caching regardless of CacheSize.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var embedder Embedder
	switch opts.Provider {
	case ProviderOllama:
		e, err := newOllama(ctx, opts)
		if err != nil {
			return nil, err
		}
		embedder = e

	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderAuto:
		e, err := newOllama(ctx, opts)
		if err != nil {
			logger.Warn("embedder_fallback_static",
				slog.String("reason", err.Error()))
			embedder = NewStaticEmbedder()
		} else {
			embedder = e
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}

	if opts.CacheSize >= 0 && !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}

	logger.Debug("embedder_ready",
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))
	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("DOCANALYSIS_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

func newOllama(ctx context.Context, opts Options) (*OllamaEmbedder, error) {
	cfg := DefaultOllamaConfig()
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.OllamaHost != "" {
		cfg.Host = opts.OllamaHost
	}
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	cfg.Progress = opts.Progress
	return NewOllamaEmbedder(ctx, cfg)
}

// Info describes the active embedder for `docanalysis doctor`.
type Info struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Cached     bool   `json:"cached"`
}

// GetInfo reports which provider is behind e.
func GetInfo(e Embedder) Info {
	info := Info{Model: e.ModelName(), Dimensions: e.Dimensions()}
	inner := e
	if c, ok := e.(*CachedEmbedder); ok {
		info.Cached = true
		inner = c.Inner()
	}
	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = string(ProviderOllama)
	case *StaticEmbedder:
		info.Provider = string(ProviderStatic)
	default:
		info.Provider = "custom"
	}
	return info
}
