package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mythorath/DocAnalysisTool/configs"
	"github.com/mythorath/DocAnalysisTool/internal/config"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
	}
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the user config,
.docanalysis.yaml, .env and DOCANALYSIS_* environment variables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.setup()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a commented .docanalysis.yaml with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path := filepath.Join(dir, config.ProjectFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return docerrors.InputError(fmt.Sprintf("%s already exists", path), nil).
					WithSuggestion("Use --force to overwrite it")
			}
			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return docerrors.New(docerrors.ErrCodeStorage, "cannot write config file", err)
			}
			output.New(cmd.OutOrStdout()).Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
