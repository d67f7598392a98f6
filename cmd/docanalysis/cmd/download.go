package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/output"
	"github.com/mythorath/DocAnalysisTool/internal/pipeline"
)

func newDownloadCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <manifest.csv>",
		Short: "Download the attachments listed in a manifest",
		Long: `Download every attachment URL in the manifest into the download
directory and register the files as documents.

Files that already exist are not fetched again. Transient failures are
retried with exponential backoff; URLs that still fail are written to
logs/failed_downloads.txt and do not stop the batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			sum, err := p.Download(ctx, args[0])
			_ = r.Stop()
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("Downloaded %d of %d attachments (%d already present)", sum.Downloaded, sum.Requested, sum.Skipped)
			if sum.Failed > 0 {
				out.Warningf("%d downloads failed, see %s", sum.Failed, sum.FailedLog)
			}
			for _, re := range sum.RowErrors {
				out.Warningf("manifest %s", re.Error())
			}
			return nil
		},
	}
	return cmd
}
