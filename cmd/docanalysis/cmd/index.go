package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/search"
)

func newIndexCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the full-text search index",
		Long: `Rebuild the search index from the extracted text.

The previous index keeps answering queries until the new one is complete.
Documents whose extraction failed are left out.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			p, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer g.close(p)

			stats, err := p.Index(ctx)
			if err != nil {
				return err
			}
			printIndexStats(output.New(cmd.OutOrStdout()), stats)
			return nil
		},
	}
	return cmd
}

func printIndexStats(out *output.Writer, stats *search.Stats) {
	out.Successf("Indexed %d documents in %s", stats.Documents, stats.BuildTime.Round(time.Millisecond))
	out.KeyValue("Backend", stats.Backend)
	out.KeyValue("Characters", stats.TotalChars)
	if stats.Skipped > 0 {
		out.KeyValue("Skipped", stats.Skipped)
	}
}
