package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/cluster"
	"github.com/mythorath/DocAnalysisTool/internal/config"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/pipeline"
	"github.com/mythorath/DocAnalysisTool/internal/preflight"
)

// runOptions holds CLI flags for run.
type runOptions struct {
	manifest  string
	input     string
	offline   bool
	force     bool
	method    string
	k         string
	noCluster bool
	skipCheck bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline: download, extract, index, cluster",
		Long: `Run every stage in order. A stage starts only after the previous
one has finished for all documents.

With --manifest the attachments are downloaded first; with --offline (or
without a manifest) the files in --input are used instead, and a manifest
only supplies metadata.

The first run in a workspace checks the system (disk, memory, OCR tools,
embedding model). Use 'docanalysis doctor' for the full report.`,
		Example: `  docanalysis run --manifest comments.csv
  docanalysis run --input ./pdfs --method lda
  docanalysis run --manifest comments.csv --input ./pdfs --offline --k 6`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := g.setup()
			if err != nil {
				return err
			}
			if opts.manifest == "" && opts.input == "" {
				return docerrors.InputError("nothing to process", nil).
					WithSuggestion("Pass --manifest <file.csv> or --input <dir>")
			}
			if opts.k == "" {
				opts.k = cfg.Cluster.K
			}
			k, err := cluster.ParseK(opts.k)
			if err != nil {
				return err
			}

			if !opts.skipCheck {
				if err := runPreflight(ctx, cfg, g.logger); err != nil {
					return err
				}
			}

			r := g.renderer(ctx, cmd)
			p, err := g.open(ctx, pipeline.WithProgress(r.UpdateProgress))
			if err != nil {
				_ = r.Stop()
				return err
			}
			defer g.close(p)

			run, err := p.Run(ctx, pipeline.RunOptions{
				Manifest:    opts.manifest,
				InputDir:    opts.input,
				Offline:     opts.offline,
				Force:       opts.force,
				Method:      opts.method,
				K:           k,
				SkipCluster: opts.noCluster,
			})
			if run.Extract != nil {
				reportFailures(r, run.Extract.Failures)
			}
			if err == nil {
				r.Complete(run.Completion())
			}
			_ = r.Stop()
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			for _, w := range run.Warnings {
				out.Warning(w)
			}
			if run.Cluster != nil && run.Cluster.Paths.CSV != "" {
				out.KeyValue("CSV report", run.Cluster.Paths.CSV)
				out.KeyValue("JSON report", run.Cluster.Paths.JSON)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "CSV manifest of documents to download")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Directory of local documents")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Do not download; use the files in --input")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Re-extract documents that already have text")
	cmd.Flags().StringVar(&opts.method, "method", "", "Clustering method: kmeans, lda, embedding (default: cluster.method)")
	cmd.Flags().StringVarP(&opts.k, "k", "k", "", "Number of clusters or 'auto' (default: cluster.k)")
	cmd.Flags().BoolVar(&opts.noCluster, "no-cluster", false, "Stop after indexing")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip the first-run system check")
	return cmd
}

// runPreflight runs the system check once per workspace. Only critical
// failures stop the run.
func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !preflight.NeedsCheck(cfg.Workspace) {
		return nil
	}
	checker := preflight.New(preflight.WithConfig(cfg), preflight.WithOutput(io.Discard))
	results := checker.RunAll(ctx, cfg.Workspace)
	for _, r := range results {
		if r.Status != preflight.StatusPass {
			logger.Warn("preflight_check",
				slog.String("check", r.Name),
				slog.String("status", r.Status.String()),
				slog.String("message", r.Message))
		}
	}
	if checker.HasCriticalFailures(results) {
		return docerrors.New(docerrors.ErrCodeInternal, "system check failed", nil).
			WithSuggestion("Run 'docanalysis doctor' for details")
	}
	if err := preflight.MarkPassed(cfg.Workspace); err != nil {
		logger.Debug("preflight_mark_failed", slog.String("error", err.Error()))
	}
	return nil
}
