// Package cmd provides the CLI commands for docanalysis.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/config"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/logging"
	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/pipeline"
	"github.com/mythorath/DocAnalysisTool/internal/profiling"
	"github.com/mythorath/DocAnalysisTool/internal/ui"
	"github.com/mythorath/DocAnalysisTool/pkg/version"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// globalOptions holds the persistent flags and the state derived from
// them for one invocation.
type globalOptions struct {
	configPath  string
	workspace   string
	debug       bool
	noTUI       bool
	metricsFile string
	profile     profiling.Options

	cfg            *config.Config
	logger         *slog.Logger
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the docanalysis CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&globalOptions{})
}

func newRootCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docanalysis",
		Short: "Extract, search and cluster batches of public comment documents",
		Long: `docanalysis processes a batch of documents listed in a CSV manifest
(or sitting in a directory):

  download   fetch the attachments named in the manifest
  extract    pull text from PDF and DOCX files, OCR for scanned pages
  index      build a full-text search index
  cluster    group documents by topic and export a report

'docanalysis run' chains all stages. Everything is stored in the
workspace directory (--workspace, default ./workspace).`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !g.profile.Enabled() {
				return nil
			}
			var err error
			g.profiler, err = profiling.Start(g.profile)
			return err
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			g.teardown()
		},
	}
	cmd.SetVersionTemplate("docanalysis version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: .docanalysis.yaml in the current directory)")
	cmd.PersistentFlags().StringVarP(&g.workspace, "workspace", "w", "", "Workspace directory (overrides the config)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Debug logging, also written to stderr")
	cmd.PersistentFlags().BoolVar(&g.noTUI, "no-tui", false, "Plain progress output even on a terminal")
	cmd.PersistentFlags().StringVar(&g.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when the command ends")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write a heap profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write an execution trace to file")

	cmd.AddCommand(newIngestCmd(g))
	cmd.AddCommand(newDownloadCmd(g))
	cmd.AddCommand(newExtractCmd(g))
	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newClusterCmd(g))
	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newStatsCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	g := &globalOptions{}
	cmd := newRootCmd(g)
	err := cmd.Execute()
	// PersistentPostRun is skipped when a command fails.
	g.teardown()
	if err == nil {
		return ExitOK
	}
	reportError(output.New(cmd.ErrOrStderr()), err)
	switch docerrors.GetCategory(err) {
	case docerrors.CategoryConfig, docerrors.CategoryInput:
		return ExitUsage
	}
	return ExitFailure
}

// reportError prints err with its suggestion, if any.
func reportError(out *output.Writer, err error) {
	out.Error(docerrors.Reason(err))
	var de *docerrors.DocError
	if errors.As(err, &de) && de.Suggestion != "" {
		out.Status("", de.Suggestion)
	}
}

// setup loads the configuration and starts file logging. It is idempotent.
func (g *globalOptions) setup() (*config.Config, error) {
	if g.cfg != nil {
		return g.cfg, nil
	}

	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			cfg, err = config.Load(wd)
		}
	}
	if err != nil {
		return nil, docerrors.ConfigError(err.Error(), err).
			WithSuggestion("Run 'docanalysis config show' to inspect the effective configuration")
	}
	if g.workspace != "" {
		cfg.Workspace = g.workspace
	}

	logCfg := logging.DefaultConfig(cfg.Workspace)
	logCfg.Level = cfg.Logging.Level
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	if g.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// No writable log file: debug runs still log to stderr.
		logger, cleanup = logging.Discard(), func() {}
		if g.debug {
			logCfg.FilePath = ""
			if logger, cleanup, err = logging.Setup(logCfg); err != nil {
				return nil, err
			}
		}
	}
	slog.SetDefault(logger)

	g.cfg = cfg
	g.logger = logger
	g.loggingCleanup = cleanup
	logger.Debug("config_loaded",
		slog.String("workspace", cfg.Workspace),
		slog.String("config", g.configPath),
		slog.String("version", version.Version))
	return cfg, nil
}

// teardown stops profiling and closes the log file. It is idempotent.
func (g *globalOptions) teardown() {
	if g.profiler != nil {
		if err := g.profiler.Stop(); err != nil && g.logger != nil {
			g.logger.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// open loads the configuration and opens the workspace pipeline.
func (g *globalOptions) open(ctx context.Context, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	cfg, err := g.setup()
	if err != nil {
		return nil, err
	}
	opts = append([]pipeline.Option{pipeline.WithLogger(g.logger)}, opts...)
	return pipeline.Open(ctx, cfg, opts...)
}

// close writes the metrics file, when requested, and closes p.
func (g *globalOptions) close(p *pipeline.Pipeline) {
	if g.metricsFile != "" {
		if err := p.Metrics().WriteTextfile(g.metricsFile); err != nil {
			g.logger.Warn("metrics_write_failed",
				slog.String("path", g.metricsFile),
				slog.String("error", err.Error()))
		}
	}
	if err := p.Close(); err != nil {
		g.logger.Warn("pipeline_close_failed", slog.String("error", err.Error()))
	}
}

// renderer starts the progress display for a long-running command.
func (g *globalOptions) renderer(ctx context.Context, cmd *cobra.Command) ui.Renderer {
	cfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(g.noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithWorkspace(g.cfg.Workspace))
	r := ui.NewRenderer(cfg)
	if err := r.Start(ctx); err != nil {
		g.logger.Warn("progress_renderer_failed", slog.String("error", err.Error()))
	}
	return r
}

// signalContext cancels on Ctrl+C or SIGTERM so stages stop between
// documents.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// reportFailures forwards per-document failures to the renderer.
func reportFailures(r ui.Renderer, failures map[string]string) {
	for id, reason := range failures {
		r.AddError(ui.ErrorEvent{File: id, Err: fmt.Errorf("%s", reason)})
	}
}
