package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mythorath/DocAnalysisTool/internal/manifest"
	"github.com/mythorath/DocAnalysisTool/internal/output"
)

func newIngestCmd(g *globalOptions) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Register local documents without downloading",
		Long: `Register every file in a directory as a document of the workspace.

The document id is the file name without extension. With --manifest,
organization, category and comment are taken from the manifest row whose
document id appears in the file name.`,
		Example: `  docanalysis ingest ./comments
  docanalysis ingest ./downloads --manifest comments.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var m *manifest.Manifest
			if manifestPath != "" {
				var err error
				if m, err = manifest.ParseFile(manifestPath); err != nil {
					return err
				}
			}

			p, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer g.close(p)

			sum, err := p.Ingest(ctx, args[0], m)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Successf("Registered %d new documents (%d already known, %d files)", sum.Added, sum.Existing, sum.Files)
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "CSV manifest supplying document metadata")
	return cmd
}
