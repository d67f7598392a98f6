package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/pipeline"
)

func newStatsCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show workspace, index and search statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			p, err := g.open(ctx, pipeline.WithSharedAccess())
			if err != nil {
				return err
			}
			defer g.close(p)

			st, err := p.Stats(ctx)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(st)
			}
			printStats(out, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output statistics as JSON")
	return cmd
}

func printStats(out *output.Writer, st *pipeline.Stats) {
	out.Header("Workspace " + st.Workspace)
	out.KeyValue("Documents", st.Store.Documents)
	out.KeyValue("Extracted", st.Store.Extracted)
	out.KeyValue("Failed", st.Store.Failed)
	out.KeyValue("Characters", st.Store.TotalChars)
	if len(st.Store.ClusterMethods) > 0 {
		out.KeyValue("Clustered with", strings.Join(st.Store.ClusterMethods, ", "))
	}

	if len(st.Store.ByMethod) > 0 {
		rows := make([][]string, 0, len(st.Store.ByMethod))
		for m, n := range st.Store.ByMethod {
			rows = append(rows, []string{string(m), strconv.Itoa(n)})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
		out.Newline()
		out.Table([]string{"Method", "Documents"}, rows)
	}

	out.Newline()
	if st.Index == nil {
		out.Warning("No search index yet, run 'docanalysis index'")
	} else {
		out.Header("Search index")
		out.KeyValue("Backend", st.Index.Backend)
		out.KeyValue("Documents", st.Index.Documents)
		out.KeyValue("Built", st.Index.BuiltAt.Format("2006-01-02 15:04:05"))
	}

	q := st.Queries
	if q == nil || q.TotalQueries == 0 {
		return
	}
	out.Newline()
	out.Header("Queries")
	out.KeyValue("Total", q.TotalQueries)
	out.KeyValue("Zero results", fmt.Sprintf("%d (%.1f%%)", q.ZeroResultCount, q.ZeroResultPercentage()))
	if len(q.TopTerms) > 0 {
		rows := make([][]string, 0, len(q.TopTerms))
		for _, tc := range q.TopTerms {
			rows = append(rows, []string{tc.Term, strconv.FormatInt(tc.Count, 10)})
		}
		out.Table([]string{"Term", "Searches"}, rows)
	}
}
