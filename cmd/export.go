package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wahldaten/poll-pipeline/internal/export"
	"github.com/wahldaten/poll-pipeline/internal/model"
	"github.com/wahldaten/poll-pipeline/internal/store"
)

var (
	exportFormat string
	exportOut    string
	exportScope  string
	exportFrom   string
	exportTo     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the clean dataset",
	Long:  "Writes the clean polls, their flattened results, and the reference data to a file. Formats: json, csv, sqlite, xlsx.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		filter, err := buildExportFilter()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		d, err := export.Collect(ctx, st, filter)
		if err != nil {
			return err
		}
		if err := d.WriteFile(ctx, exportOut, format); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("format", string(format)),
			zap.String("out", exportOut),
			zap.Int("polls", len(d.Polls)),
			zap.Int("result_rows", len(d.Rows)),
		)
		return nil
	},
}

func buildExportFilter() (store.CleanFilter, error) {
	var f store.CleanFilter
	if exportScope != "" {
		f.Scope = model.ParseScope(exportScope)
	}
	if exportFrom != "" {
		d, err := time.Parse("2006-01-02", exportFrom)
		if err != nil {
			return f, eris.Wrapf(err, "export: bad --from date %q", exportFrom)
		}
		f.PublishedFrom = &d
	}
	if exportTo != "" {
		d, err := time.Parse("2006-01-02", exportTo)
		if err != nil {
			return f, eris.Wrapf(err, "export: bad --to date %q", exportTo)
		}
		f.PublishedTo = &d
	}
	return f, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json, csv, sqlite, or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (required)")
	exportCmd.Flags().StringVar(&exportScope, "scope", "", "filter by scope: federal, state, or european")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "earliest publish date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "latest publish date (YYYY-MM-DD)")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
