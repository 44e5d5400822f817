package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wahldaten/poll-pipeline/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the raw-to-clean pipeline",
}

var (
	pipelineIDs   []int64
	pipelineLimit int
)

var pipelineRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process all raw records",
	Long:  "Normalizes, resolves, and upserts every raw record, including ones processed before. Re-runs are idempotent.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPipeline(cmd, pipeline.BatchOpts{
			Mode:  "run",
			IDs:   pipelineIDs,
			Limit: batchLimit(),
			All:   true,
		})
	},
}

var pipelineCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Process unprocessed raw records only",
	Long:  "Processes raw records that have not yet produced a clean poll, including previously rejected or failed ones.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPipeline(cmd, pipeline.BatchOpts{
			Mode:  "clean",
			IDs:   pipelineIDs,
			Limit: batchLimit(),
		})
	},
}

var inspectRawID int64

var pipelineInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dry-run a single raw record",
	Long:  "Runs one raw record through normalization and resolution and prints the per-field report as JSON. Nothing is written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		o := pipeline.New(st, cfg.Pipeline.Workers)
		report, err := o.Inspect(ctx, inspectRawID)
		if err != nil {
			return eris.Wrap(err, "pipeline inspect")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func runPipeline(cmd *cobra.Command, opts pipeline.BatchOpts) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	o := pipeline.New(st, cfg.Pipeline.Workers)
	sum, err := o.RunBatch(ctx, opts)
	if err != nil {
		return eris.Wrapf(err, "pipeline %s", opts.Mode)
	}

	zap.L().Info("pipeline finished",
		zap.String("mode", opts.Mode),
		zap.Int("processed", sum.Processed),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("rejected", sum.Rejected),
		zap.Int("failed", sum.Failed),
	)
	return nil
}

func batchLimit() int {
	if pipelineLimit > 0 {
		return pipelineLimit
	}
	return cfg.Pipeline.BatchLimit
}

func init() {
	for _, c := range []*cobra.Command{pipelineRunCmd, pipelineCleanCmd} {
		c.Flags().Int64SliceVar(&pipelineIDs, "id", nil, "restrict to specific raw record ids")
		c.Flags().IntVar(&pipelineLimit, "limit", 0, "cap the batch size")
	}

	pipelineInspectCmd.Flags().Int64Var(&inspectRawID, "id", 0, "raw record id (required)")
	_ = pipelineInspectCmd.MarkFlagRequired("id")

	pipelineCmd.AddCommand(pipelineRunCmd, pipelineCleanCmd, pipelineInspectCmd)
	rootCmd.AddCommand(pipelineCmd)
}
