package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/pipeline"
	"github.com/mythorath/DocAnalysisTool/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	jsonOutput bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the extracted documents",
		Long: `Search the full-text index.

Query syntax:
  medicare payment          documents containing both words
  "physician fee schedule"  exact phrase
  medic*                    prefix
  medicare OR medicaid      either word
  medicare NOT advantage    exclusion
  (rural OR urban) AND hospital

Results are ranked by relevance and show a snippet around the match.`,
		Example: `  docanalysis search medicare
  docanalysis search '"prior authorization" AND denial' --limit 5
  docanalysis search telehealth --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			p, err := g.open(ctx, pipeline.WithSharedAccess())
			if err != nil {
				return err
			}
			defer g.close(p)

			query := strings.Join(args, " ")
			results, err := p.Search(ctx, query, opts.limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if opts.jsonOutput {
				if results == nil {
					results = []search.Result{}
				}
				return out.JSON(results)
			}
			printResults(out, query, results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.default_limit)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

func printResults(out *output.Writer, query string, results []search.Result) {
	if len(results) == 0 {
		out.Warningf("No documents match %q", query)
		return
	}
	out.Header(fmt.Sprintf("%d results for %q", len(results), query))
	for i, r := range results {
		line := fmt.Sprintf("%d. %s  (%.3f)", i+1, r.DocID, r.Score)
		if r.Organization != "" {
			line += "  " + r.Organization
		}
		out.Status("", line)
		if r.Snippet != "" {
			out.Status("", "   "+strings.ReplaceAll(r.Snippet, "\n", " "))
		}
	}
}
