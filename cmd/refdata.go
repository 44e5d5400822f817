package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wahldaten/poll-pipeline/internal/refdata"
)

var refdataCmd = &cobra.Command{
	Use:   "refdata",
	Short: "Manage reference and alias data",
}

var refdataFile string

var refdataLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load reference data from an alias file",
	Long:  "Reads institutes, parties, providers, methods, elections, and their aliases from a YAML file and refreshes the reference tables.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file := refdataFile
		if file == "" {
			file = cfg.Refdata.File
		}

		set, err := refdata.LoadAliasFile(file)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ReplaceReferenceSet(ctx, set); err != nil {
			return eris.Wrap(err, "refdata load")
		}

		zap.L().Info("reference data loaded",
			zap.String("file", file),
			zap.Int("institutes", len(set.Institutes)),
			zap.Int("parties", len(set.Parties)),
			zap.Int("providers", len(set.Providers)),
			zap.Int("methods", len(set.Methods)),
			zap.Int("elections", len(set.Elections)),
			zap.Int("aliases", len(set.Aliases)),
		)
		return nil
	},
}

func init() {
	refdataLoadCmd.Flags().StringVar(&refdataFile, "file", "", "path to alias YAML (defaults to refdata.file config)")
	refdataCmd.AddCommand(refdataLoadCmd)
	rootCmd.AddCommand(refdataCmd)
}
