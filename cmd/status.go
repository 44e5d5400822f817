package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

var statusRunLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show table counts and recent pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.TableCounts(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		formatTableCounts(os.Stdout, counts)

		runs, err := st.ListRuns(ctx, statusRunLimit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		fmt.Fprintln(os.Stdout)
		formatRunEntries(os.Stdout, runs)
		return nil
	},
}

func formatTableCounts(out io.Writer, counts map[string]int64) {
	tables := make([]string, 0, len(counts))
	for t := range counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tROWS")
	_, _ = fmt.Fprintln(w, "-----\t----")
	for _, t := range tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
	}
	_ = w.Flush()
}

// formatRunEntries writes a tabular representation of pipeline runs to out.
func formatRunEntries(out io.Writer, runs []model.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tSTARTED\tDURATION\tPROC\tINS\tUPD\tUNCH\tREJ\tFAIL\tERROR")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t-------\t--------\t----\t---\t---\t----\t---\t----\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		s := r.Summary
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			shortID(r.ID), r.Mode, r.Status,
			r.StartedAt.Format("2006-01-02 15:04"), dur,
			s.Processed, s.Inserted, s.Updated, s.Unchanged, s.Rejected, s.Failed, errMsg)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().IntVar(&statusRunLimit, "runs", 10, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
