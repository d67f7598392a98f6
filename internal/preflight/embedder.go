package preflight

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/embed"
)

// CheckEmbedder creates the configured embedding provider and reports which
// model is behind it. Failures only affect the embedding cluster method.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	opts, err := embed.OptionsFromConfig(c.cfg.Embeddings)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	opts.CacheSize = -1
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	e, err := c.embedder(ctx, opts)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unavailable", modelLabel(opts))
		result.Details = docerrors.Reason(err)
		if c.cfg.Cluster.FallbackOnFailure {
			result.Details += "; embedding clustering will fall back to kmeans"
		}
		return result
	}
	defer func() { _ = e.Close() }()

	info := embed.GetInfo(e)
	if info.Provider == string(embed.ProviderStatic) && opts.Provider != embed.ProviderStatic {
		result.Status = StatusWarn
		result.Message = "Ollama not reachable, using static embeddings"
		result.Details = "Static embeddings group documents by shared vocabulary only"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%s, %d dims)", info.Model, info.Provider, info.Dimensions)
	return result
}

func modelLabel(opts embed.Options) string {
	if opts.Model == "" {
		return "embedding model"
	}
	return fmt.Sprintf("embedding model %q", opts.Model)
}
