package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mythorath/DocAnalysisTool/internal/cluster"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/extract"
	"github.com/mythorath/DocAnalysisTool/internal/manifest"
	"github.com/mythorath/DocAnalysisTool/internal/search"
	"github.com/mythorath/DocAnalysisTool/internal/ui"
)

// RunOptions configures a full pipeline run.
type RunOptions struct {
	// Manifest is the CSV manifest. Without Offline its attachments are
	// downloaded first.
	Manifest string

	// InputDir holds documents that are already local. Used instead of a
	// download when Offline is set or no manifest is given; defaults to
	// the download directory.
	InputDir string

	// Offline skips the download stage. A manifest then only supplies
	// metadata for the files in InputDir.
	Offline bool

	// Force re-extracts documents that already have a stored extraction.
	Force bool

	// Method is the clustering method; empty uses cluster.method.
	Method string

	// K is the requested cluster count, or cluster.AutoK.
	K int

	// SkipCluster stops after indexing.
	SkipCluster bool
}

// Run is the record of one pipeline run.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Ingest   *IngestSummary   `json:"ingest,omitempty"`
	Download *DownloadSummary `json:"download,omitempty"`
	Extract  *extract.Summary `json:"extract,omitempty"`
	Index    *search.Stats    `json:"index,omitempty"`
	Cluster  *ClusterOutcome  `json:"-"`

	Timings  ui.StageTimings `json:"-"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Completion summarises the run for the progress renderer.
func (r *Run) Completion() ui.CompletionStats {
	cs := ui.CompletionStats{
		Duration: r.Duration(),
		Warnings: len(r.Warnings),
		Stages:   r.Timings,
		Methods:  make(map[string]int),
	}
	if r.Extract != nil {
		cs.Documents = r.Extract.Total
		cs.Succeeded = r.Extract.Succeeded
		cs.Failed = r.Extract.Failed
		cs.Errors = r.Extract.Failed
		for m, n := range r.Extract.Methods {
			cs.Methods[string(m)] = n
		}
	}
	if r.Index != nil {
		cs.Indexed = r.Index.Documents
	}
	if r.Cluster != nil && r.Cluster.Result != nil {
		cs.Clusters = r.Cluster.Result.EffectiveK
		cs.Method = r.Cluster.Result.Method
	}
	return cs
}

func (r *Run) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run executes the stages in order: download or ingest, extract, index and
// cluster. Each stage starts only after the previous one has finished for
// every document. Download and extraction failures of single documents
// are recorded and skipped; an index build failure becomes a warning so
// clustering still runs. The returned Run is valid even when err is not
// nil and holds whatever completed.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Run, error) {
	run := &Run{ID: uuid.NewString(), StartedAt: time.Now()}
	defer func() { run.EndedAt = time.Now() }()

	logger := p.logger.With(slog.String("run_id", run.ID))
	logger.Info("pipeline_run_start",
		slog.String("workspace", p.ws.Root),
		slog.String("manifest", opts.Manifest),
		slog.String("input", opts.InputDir),
		slog.Bool("offline", opts.Offline))

	if err := p.acquire(ctx, run, opts); err != nil {
		return run, err
	}

	start := time.Now()
	sum, err := p.Extract(ctx, opts.Force)
	run.Extract = sum
	run.Timings.Extract = p.stageDone(logger, "extract", start)
	if err != nil {
		return run, err
	}
	if sum.Failed > 0 {
		run.warn("%d of %d documents failed extraction (see %s)", sum.Failed, sum.Total, p.ws.FailuresLog())
	}

	start = time.Now()
	stats, err := p.Index(ctx)
	run.Timings.Index = p.stageDone(logger, "index", start)
	switch {
	case ctx.Err() != nil:
		return run, ctx.Err()
	case err != nil:
		logger.Warn("index_stage_failed", docerrors.FormatForLog(err)...)
		run.warn("search index not built: %s", docerrors.Reason(err))
	default:
		run.Index = stats
	}

	if opts.SkipCluster {
		p.progress.Emit(ui.ProgressEvent{Stage: ui.StageComplete})
		return run, nil
	}

	method := opts.Method
	if method == "" {
		method = p.cfg.Cluster.Method
	}
	start = time.Now()
	outcome, err := p.Cluster(ctx, method, opts.K)
	run.Timings.Cluster = p.stageDone(logger, "cluster", start)
	if err != nil {
		return run, err
	}
	run.Cluster = outcome
	run.Warnings = append(run.Warnings, outcome.Result.Warnings...)

	p.progress.Emit(ui.ProgressEvent{Stage: ui.StageComplete})
	logger.Info("pipeline_run_complete",
		slog.Int("documents", sum.Total),
		slog.Int("failed", sum.Failed),
		slog.Int("clusters", outcome.Result.EffectiveK),
		slog.Int("warnings", len(run.Warnings)),
		slog.Duration("elapsed", time.Since(run.StartedAt)))
	return run, nil
}

// acquire runs the first stage: downloading the manifest's attachments or
// registering local files.
func (p *Pipeline) acquire(ctx context.Context, run *Run, opts RunOptions) error {
	start := time.Now()
	defer func() { run.Timings.Download = p.stageDone(p.logger, "download", start) }()

	if opts.Manifest != "" && !opts.Offline {
		sum, err := p.Download(ctx, opts.Manifest)
		run.Download = sum
		if err != nil {
			return err
		}
		if sum.Failed > 0 {
			run.warn("%d of %d downloads failed (see %s)", sum.Failed, sum.Requested, sum.FailedLog)
		}
		if len(sum.RowErrors) > 0 {
			run.warn("%d manifest rows skipped", len(sum.RowErrors))
		}
		return nil
	}

	var m *manifest.Manifest
	if opts.Manifest != "" {
		var err error
		if m, err = manifest.ParseFile(opts.Manifest); err != nil {
			return err
		}
	}
	dir := opts.InputDir
	if dir == "" {
		dir = p.ws.DownloadDir()
	}
	sum, err := p.Ingest(ctx, dir, m)
	run.Ingest = sum
	return err
}

func (p *Pipeline) stageDone(logger *slog.Logger, stage string, start time.Time) time.Duration {
	elapsed := time.Since(start)
	p.metrics.RecordStage(stage, elapsed)
	logger.Info("stage_complete", slog.String("stage", stage), slog.Duration("elapsed", elapsed))
	return elapsed
}

// DefaultK parses cluster.k from the configuration.
func (p *Pipeline) DefaultK() (int, error) {
	return cluster.ParseK(p.cfg.Cluster.K)
}
