package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wahldaten/poll-pipeline/internal/model"
	"github.com/wahldaten/poll-pipeline/internal/store"
)

var rawCmd = &cobra.Command{
	Use:   "raw",
	Short: "Manage the raw record table",
}

var (
	rawImportFile string
	rawImportBulk bool
)

// bulkImporter is the COPY fast path; only the postgres store offers it.
type bulkImporter interface {
	BulkImportRaw(ctx context.Context, polls []model.RawPoll) (int64, error)
}

var rawImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import scraped raw records from a JSON file",
	Long:  "Reads a JSON array of raw poll records and appends them to the raw table. Records are stored exactly as given; cleaning happens in a later pipeline run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		polls, err := readRawFile(rawImportFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if rawImportBulk {
			bi, ok := st.(bulkImporter)
			if !ok {
				return eris.New("raw import: --bulk requires the postgres driver")
			}
			n, err := bi.BulkImportRaw(ctx, polls)
			if err != nil {
				return eris.Wrap(err, "raw import")
			}
			zap.L().Info("raw import complete",
				zap.Int64("records", n),
				zap.Bool("bulk", true),
				zap.String("file", rawImportFile),
			)
			return nil
		}

		ids, err := st.InsertRawPolls(ctx, polls)
		if err != nil {
			return eris.Wrap(err, "raw import")
		}

		zap.L().Info("raw import complete",
			zap.Int("records", len(ids)),
			zap.String("file", rawImportFile),
		)
		return nil
	},
}

// readRawFile decodes a JSON array of raw records. Records without a
// retrieval timestamp get the import time.
func readRawFile(path string) ([]model.RawPoll, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raw import: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var polls []model.RawPoll
	if err := json.NewDecoder(f).Decode(&polls); err != nil {
		return nil, eris.Wrapf(err, "raw import: decode %s", path)
	}

	now := time.Now().UTC()
	for i := range polls {
		polls[i].ID = 0
		if polls[i].RetrievedAt.IsZero() {
			polls[i].RetrievedAt = now
		}
	}
	return polls, nil
}

var (
	rawListLimit  int
	rawListSource string
)

var rawListCmd = &cobra.Command{
	Use:   "list",
	Short: "List raw records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		polls, err := st.ListRawPolls(ctx, store.RawFilter{
			Source: rawListSource,
			Limit:  rawListLimit,
		})
		if err != nil {
			return eris.Wrap(err, "raw list")
		}

		formatRawPolls(os.Stdout, polls)
		return nil
	},
}

func formatRawPolls(out io.Writer, polls []model.RawPoll) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPUBLISHED\tINSTITUTE\tSCOPE\tRETRIEVED\tSOURCE")
	_, _ = fmt.Fprintln(w, "--\t---------\t---------\t-----\t---------\t------")
	for _, p := range polls {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.PublishDateText, p.InstituteText, p.ScopeText,
			p.RetrievedAt.Format("2006-01-02 15:04"), p.SourceURL)
	}
	_ = w.Flush()
}

func init() {
	rawImportCmd.Flags().StringVar(&rawImportFile, "file", "", "path to JSON file (required)")
	rawImportCmd.Flags().BoolVar(&rawImportBulk, "bulk", false, "use the COPY fast path (postgres only, no per-row ids)")
	_ = rawImportCmd.MarkFlagRequired("file")

	rawListCmd.Flags().IntVar(&rawListLimit, "limit", 20, "max records to list")
	rawListCmd.Flags().StringVar(&rawListSource, "source", "", "filter by source URL")

	rawCmd.AddCommand(rawImportCmd, rawListCmd)
	rootCmd.AddCommand(rawCmd)
}
