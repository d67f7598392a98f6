package cmd

import (
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/extract"
	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/pipeline"
	"github.com/mythorath/DocAnalysisTool/internal/store"
)

func newExtractCmd(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract text from the registered documents",
		Long: `Extract text from every registered document.

PDF pages with a usable text layer are read directly; scanned pages go
through OCR. DOCX files are parsed paragraph by paragraph, tables
included. A failing document is recorded with its reason in
logs/failures.log and does not stop the batch.

Documents extracted by an earlier run are skipped unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if _, err := g.setup(); err != nil {
				return err
			}
			r := g.renderer(ctx, cmd)
			p, err := g.open(ctx, pipeline.WithProgress(r.UpdateProgress))
			if err != nil {
				_ = r.Stop()
				return err
			}
			defer g.close(p)

			sum, err := p.Extract(ctx, force)
			if sum != nil {
				reportFailures(r, sum.Failures)
			}
			_ = r.Stop()
			if err != nil {
				return err
			}
			printExtractSummary(output.New(cmd.OutOrStdout()), sum, p.Workspace().FailuresLog())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-extract documents that already have text")
	return cmd
}

func printExtractSummary(out *output.Writer, sum *extract.Summary, failuresLog string) {
	out.Successf("Extracted %d of %d documents in %s", sum.Succeeded, sum.Total-sum.Skipped, sum.Elapsed.Round(time.Millisecond))
	if sum.Skipped > 0 {
		out.Statusf("", "%d documents already extracted", sum.Skipped)
	}

	methods := make([]store.Method, 0, len(sum.Methods))
	for m := range sum.Methods {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	rows := make([][]string, 0, len(methods))
	for _, m := range methods {
		rows = append(rows, []string{string(m), strconv.Itoa(sum.Methods[m])})
	}
	if len(rows) > 0 {
		out.Table([]string{"Method", "Documents"}, rows)
	}
	if sum.Failed > 0 {
		out.Warningf("%d documents failed, see %s", sum.Failed, failuresLog)
	}
}
