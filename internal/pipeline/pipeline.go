// Package pipeline runs the document batch through its stages in order
// (download or ingest, extract, index, cluster) against one workspace.
// Everything a batch accumulates lives on a Pipeline or a Run value, so
// several workspaces can be processed in one process without sharing state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mythorath/DocAnalysisTool/internal/cluster"
	"github.com/mythorath/DocAnalysisTool/internal/config"
	"github.com/mythorath/DocAnalysisTool/internal/download"
	"github.com/mythorath/DocAnalysisTool/internal/embed"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/extract"
	"github.com/mythorath/DocAnalysisTool/internal/search"
	"github.com/mythorath/DocAnalysisTool/internal/store"
	"github.com/mythorath/DocAnalysisTool/internal/telemetry"
	"github.com/mythorath/DocAnalysisTool/internal/ui"
	"github.com/mythorath/DocAnalysisTool/pkg/version"
)

// Option customises Open.
type Option func(*settings)

type settings struct {
	logger      *slog.Logger
	progress    ui.ProgressFunc
	downloader  download.Downloader
	embedder    cluster.EmbedderFunc
	extractOpts []extract.Option
	shared      bool
}

// WithLogger sets the logger used by every stage.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithProgress receives progress events from all stages.
func WithProgress(fn ui.ProgressFunc) Option {
	return func(s *settings) { s.progress = fn }
}

// WithDownloader replaces the HTTP downloader.
func WithDownloader(d download.Downloader) Option {
	return func(s *settings) { s.downloader = d }
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(fn cluster.EmbedderFunc) Option {
	return func(s *settings) { s.embedder = fn }
}

// WithExtractOptions appends extractor options after the configured ones,
// so they take precedence.
func WithExtractOptions(opts ...extract.Option) Option {
	return func(s *settings) { s.extractOpts = append(s.extractOpts, opts...) }
}

// WithSharedAccess opens the workspace without taking the exclusive
// lock. Used by read-only commands such as search and stats.
func WithSharedAccess() Option {
	return func(s *settings) { s.shared = true }
}

// Pipeline owns the stores and stage components of one workspace.
type Pipeline struct {
	cfg *config.Config
	ws  Workspace

	lock      *store.WorkspaceLock
	meta      *store.SQLiteStore
	texts     *store.TextStore
	index     *search.Index
	extractor *extract.Extractor
	download  download.Downloader
	engine    *cluster.Engine

	queries    *telemetry.QueryStats
	queryStore *telemetry.SQLiteQueryStore
	metrics    *telemetry.Metrics

	progress ui.ProgressFunc
	logger   *slog.Logger
}

// Open prepares the workspace named by cfg and loads any index a previous
// run left behind. Unless WithSharedAccess is given, a second Open of the
// same workspace fails with ERR_105_WORKSPACE_LOCKED until Close.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Pipeline, err error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	ws := NewWorkspace(cfg)
	if err := os.MkdirAll(ws.Root, 0o755); err != nil {
		return nil, docerrors.New(docerrors.ErrCodeStorage, fmt.Sprintf("cannot create workspace %s", ws.Root), err)
	}

	pl := &Pipeline{
		cfg:      cfg,
		ws:       ws,
		metrics:  telemetry.NewMetrics(),
		progress: s.progress,
		logger:   s.logger,
	}
	defer func() {
		if err != nil {
			_ = pl.Close()
		}
	}()

	if !s.shared {
		pl.lock = store.NewWorkspaceLock(ws.Root)
		if err := pl.lock.TryLock(); err != nil {
			pl.lock = nil
			return nil, err
		}
	}

	if pl.meta, err = store.NewSQLiteStore(ws.DBPath()); err != nil {
		return nil, docerrors.New(docerrors.ErrCodeStorage, "cannot open metadata store", err)
	}
	if pl.texts, err = store.NewTextStore(ws.TextDir()); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(ws.IndexDir(), 0o755); err != nil {
		return nil, docerrors.New(docerrors.ErrCodeStorage, "cannot create index directory", err)
	}
	pl.index, err = search.New(search.Options{
		Backend:       cfg.Search.Backend,
		Dir:           ws.IndexDir(),
		SnippetTokens: cfg.Search.SnippetTokens,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := pl.index.Load(); err != nil {
		// A corrupt index is rebuilt by the next index stage.
		s.logger.Warn("search_index_unreadable", docerrors.FormatForLog(err)...)
	}

	if pl.extractor, err = pl.newExtractor(s.extractOpts); err != nil {
		return nil, err
	}

	pl.download = s.downloader
	if pl.download == nil {
		ua := cfg.Download.UserAgent
		if ua == "" {
			ua = version.UserAgent()
		}
		pl.download, err = download.NewHTTPDownloader(download.Options{
			Dir:               ws.DownloadDir(),
			MaxRetries:        cfg.Download.MaxRetries,
			Timeout:           config.Duration(cfg.Download.Timeout, download.DefaultTimeout),
			RequestsPerSecond: cfg.Download.RequestsPerSecond,
			UserAgent:         ua,
			Logger:            s.logger,
			Progress:          s.progress,
		})
		if err != nil {
			return nil, err
		}
	}

	embedder := s.embedder
	if embedder == nil {
		embedder = pl.configuredEmbedder
	}
	pl.engine = cluster.NewEngine(cluster.OptionsFromConfig(cfg.Cluster, cfg.Embeddings), pl.meta, embedder, s.logger)

	if pl.queryStore, err = telemetry.NewSQLiteQueryStore(ctx, pl.meta.DB()); err != nil {
		return nil, err
	}
	pl.queries = telemetry.NewQueryStats(pl.queryStore)

	return pl, nil
}

func (p *Pipeline) newExtractor(extra []extract.Option) (*extract.Extractor, error) {
	ex := p.cfg.Extraction
	timeout := config.Duration(ex.OCRTimeout, 2*time.Minute)
	ocr, err := extract.NewOCREngine(ex.OCREngine, ex.TesseractBin, ex.OCRLanguage, ex.TikaURL, timeout)
	if err != nil {
		return nil, err
	}
	options := []extract.Option{
		extract.WithRasterizer(extract.NewPdftoppmRasterizer(ex.PdftoppmBin)),
		extract.WithOCREngine(ocr),
		extract.WithLogger(p.logger),
		extract.WithObserver(func(et *store.ExtractedText) {
			p.metrics.RecordExtraction(string(et.Method), et.Elapsed, et.OCRPages)
		}),
	}
	options = append(options, extra...)
	return extract.New(p.meta, p.texts, extract.Options{
		Workers:         ex.Workers,
		MinPageChars:    ex.MinPageChars,
		DirectTextRatio: ex.DirectTextRatio,
		DPI:             ex.OCRDPI,
		OCRTimeout:      timeout,
	}, options...), nil
}

// configuredEmbedder creates the embedding provider from the embeddings
// config, reporting batch progress as the embed stage.
func (p *Pipeline) configuredEmbedder(ctx context.Context) (embed.Embedder, error) {
	opts, err := embed.OptionsFromConfig(p.cfg.Embeddings)
	if err != nil {
		return nil, docerrors.ConfigError(err.Error(), err)
	}
	opts.Logger = p.logger
	opts.Progress = func(completed, total int) {
		p.progress.Emit(ui.ProgressEvent{Stage: ui.StageEmbed, Current: completed, Total: total})
	}
	return embed.NewEmbedder(ctx, opts)
}

// Workspace returns the workspace layout.
func (p *Pipeline) Workspace() Workspace { return p.ws }

// Metrics returns the metrics collected by this pipeline.
func (p *Pipeline) Metrics() *telemetry.Metrics { return p.metrics }

// Store returns the metadata store.
func (p *Pipeline) Store() store.MetadataStore { return p.meta }

// Close flushes query statistics and releases the index, the store and the
// workspace lock. Safe to call on a partially opened pipeline.
func (p *Pipeline) Close() error {
	var errs []error
	if p.queries != nil {
		errs = append(errs, p.queries.Close(context.Background()))
	}
	if p.index != nil {
		errs = append(errs, p.index.Close())
	}
	if p.meta != nil {
		errs = append(errs, p.meta.Close())
	}
	if p.lock != nil {
		errs = append(errs, p.lock.Unlock())
	}
	return errors.Join(errs...)
}
