package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/preflight"
)

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics for the workspace.

Checks:
  - Workspace can be created and written
  - Disk space (500MB minimum)
  - Available memory (1GB recommended)
  - File descriptor limit (1024 minimum)
  - OCR tools for the configured engine (pdftoppm, tesseract)
  - Embedding model for embedding clustering

Only the workspace, disk, write and file descriptor checks are critical.
A missing OCR engine or embedding model is reported as a warning: scanned
pages then fail extraction, and embedding clustering falls back to kmeans
when cluster.fallback_on_failure is set.`,
		Example: `  docanalysis doctor
  docanalysis doctor --verbose
  docanalysis doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := g.setup()
			if err != nil {
				return err
			}
			checker := preflight.New(
				preflight.WithConfig(cfg),
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
			)
			results := checker.RunAll(ctx, cfg.Workspace)

			if jsonOutput {
				if err := output.New(cmd.OutOrStdout()).JSON(doctorReport{
					Status:  checker.SummaryStatus(results),
					Results: results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
				if age := preflight.MarkerAge(cfg.Workspace); age > 0 {
					cmd.Printf("\nLast successful check: %s ago\n", formatAge(age))
				}
			}

			if checker.HasCriticalFailures(results) {
				_ = preflight.ClearMarker(cfg.Workspace)
				return &doctorError{message: "system check failed"}
			}
			if err := preflight.MarkPassed(cfg.Workspace); err != nil {
				g.logger.Debug("preflight_mark_failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

type doctorReport struct {
	Status  string                  `json:"status"`
	Results []preflight.CheckResult `json:"results"`
}

// doctorError is returned when a critical check fails.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}
