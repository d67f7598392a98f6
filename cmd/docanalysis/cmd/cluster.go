package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/cluster"
	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/pipeline"
)

// clusterOptions holds CLI flags for cluster.
type clusterOptions struct {
	method     string
	k          string
	jsonOutput bool
}

func newClusterCmd(g *globalOptions) *cobra.Command {
	var opts clusterOptions

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Group documents by topic and export a report",
		Long: `Cluster the extracted documents and write reports/clusters_<method>.csv
and reports/clusters_<method>.json.

Methods:
  kmeans     TF-IDF vectors, k-means (k chosen by silhouette with --k auto)
  lda        topic model; each document joins its dominant topic
  embedding  sentence embeddings, density clustering; noise is cluster -1

A run replaces the stored result of the same method only when it succeeds.`,
		Example: `  docanalysis cluster
  docanalysis cluster --method lda --k 8
  docanalysis cluster --method embedding --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := g.setup()
			if err != nil {
				return err
			}
			if opts.method == "" {
				opts.method = cfg.Cluster.Method
			}
			if opts.k == "" {
				opts.k = cfg.Cluster.K
			}
			k, err := cluster.ParseK(opts.k)
			if err != nil {
				return err
			}

			r := g.renderer(ctx, cmd)
			p, err := g.open(ctx, pipeline.WithProgress(r.UpdateProgress))
			if err != nil {
				_ = r.Stop()
				return err
			}
			defer g.close(p)

			outcome, err := p.Cluster(ctx, opts.method, k)
			_ = r.Stop()
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if opts.jsonOutput {
				return out.JSON(outcome.Result)
			}
			printClusterOutcome(out, outcome)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.method, "method", "m", "", "Clustering method: kmeans, lda, embedding (default: cluster.method)")
	cmd.Flags().StringVarP(&opts.k, "k", "k", "", "Number of clusters or 'auto' (default: cluster.k)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the clustering result as JSON")
	return cmd
}

func printClusterOutcome(out *output.Writer, o *pipeline.ClusterOutcome) {
	res := o.Result
	for _, w := range res.Warnings {
		out.Warning(w)
	}
	if len(res.Assignments) == 0 {
		return
	}
	out.Successf("%s found %d clusters in %d documents", res.Method, res.EffectiveK, len(res.Assignments))
	if res.Metrics.Silhouette != nil {
		out.KeyValue("Silhouette", strconv.FormatFloat(*res.Metrics.Silhouette, 'f', 3, 64))
	}
	if res.Metrics.Perplexity != nil {
		out.KeyValue("Perplexity", strconv.FormatFloat(*res.Metrics.Perplexity, 'f', 1, 64))
	}

	rows := make([][]string, 0, len(res.Descriptors))
	for _, d := range res.Descriptors {
		id := strconv.Itoa(d.ClusterID)
		if d.ClusterID == cluster.Unclustered {
			id = "noise"
		}
		rows = append(rows, []string{id, strconv.Itoa(d.Size), strings.Join(firstN(d.Keywords, 5), ", ")})
	}
	out.Table([]string{"Cluster", "Size", "Keywords"}, rows)

	if o.Paths.CSV != "" {
		out.KeyValue("CSV report", o.Paths.CSV)
		out.KeyValue("JSON report", o.Paths.JSON)
	}
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
