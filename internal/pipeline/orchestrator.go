// Package pipeline turns raw scraped poll records into clean, deduplicated
// polls: normalize every field, resolve entity references, upsert by
// identity key. A batch never aborts on a bad record; failures are isolated
// per record and counted in the run summary.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wahldaten/poll-pipeline/internal/model"
	"github.com/wahldaten/poll-pipeline/internal/refdata"
	"github.com/wahldaten/poll-pipeline/internal/store"
)

// Orchestrator drives batch runs over the raw table.
type Orchestrator struct {
	store   store.Store
	workers int
	locks   *keyLocks
}

// BatchOpts selects which raw records a batch processes.
type BatchOpts struct {
	Mode  string  // run log label: "run" or "clean"
	IDs   []int64 // restrict to specific raw ids
	Limit int     // cap the batch size; 0 = no cap
	All   bool    // re-process every raw record, not only unprocessed ones
}

// New creates an Orchestrator. workers caps concurrent record processing;
// values below 1 fall back to serial processing.
func New(st store.Store, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		store:   st,
		workers: workers,
		locks:   newKeyLocks(),
	}
}

// RunBatch processes the selected raw records and records the batch in the
// run log. Normalization and resolution run in parallel; upserts for the
// same identity key are serialized. The summary is returned even when every
// record failed; the returned error covers infrastructure failures only.
func (o *Orchestrator) RunBatch(ctx context.Context, opts BatchOpts) (model.RunSummary, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("mode", opts.Mode))

	var sum model.RunSummary

	runID, err := o.store.StartRun(ctx, opts.Mode)
	if err != nil {
		return sum, eris.Wrap(err, "pipeline: start run")
	}

	snap, err := o.loadSnapshot(ctx)
	if err != nil {
		o.failRun(ctx, log, runID, err)
		return sum, err
	}

	records, err := o.selectRecords(ctx, opts)
	if err != nil {
		o.failRun(ctx, log, runID, err)
		return sum, err
	}

	log.Info("batch selected", zap.String("run_id", runID), zap.Int("records", len(records)))

	start := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i := range records {
		raw := records[i]
		g.Go(func() error {
			outcome := o.processRecord(gctx, log, snap, &raw)
			mu.Lock()
			sum.Processed++
			switch outcome {
			case store.OutcomeInserted:
				sum.Inserted++
			case store.OutcomeUpdated:
				sum.Updated++
			case store.OutcomeUnchanged:
				sum.Unchanged++
			case outcomeRejected:
				sum.Rejected++
			case outcomeFailed:
				sum.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	if err := o.store.CompleteRun(ctx, runID, sum); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}

	log.Info("batch complete",
		zap.String("run_id", runID),
		zap.Int("processed", sum.Processed),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("rejected", sum.Rejected),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

// Sentinel outcomes beyond the store's upsert outcomes.
const (
	outcomeRejected store.UpsertOutcome = "rejected"
	outcomeFailed   store.UpsertOutcome = "failed"
)

func (o *Orchestrator) loadSnapshot(ctx context.Context) (*refdata.Snapshot, error) {
	set, err := o.store.ReferenceSet(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load reference set")
	}
	return refdata.Build(set), nil
}

func (o *Orchestrator) selectRecords(ctx context.Context, opts BatchOpts) ([]model.RawPoll, error) {
	switch {
	case len(opts.IDs) > 0:
		return o.store.ListRawPolls(ctx, store.RawFilter{IDs: opts.IDs})
	case opts.All:
		return o.store.ListRawPolls(ctx, store.RawFilter{Limit: opts.Limit})
	default:
		return o.store.ListUnprocessedRaw(ctx, opts.Limit)
	}
}

// processRecord runs one raw record through normalize, resolve, and upsert.
// All outcomes, including failure, are recorded on the record's state row.
func (o *Orchestrator) processRecord(ctx context.Context, log *zap.Logger, snap *refdata.Snapshot, raw *model.RawPoll) store.UpsertOutcome {
	recLog := log.With(zap.Int64("raw_id", raw.ID))

	cand, err := buildCandidate(raw, snap)
	if err != nil {
		recLog.Warn("record rejected", zap.Error(err))
		o.markStatus(ctx, recLog, raw.ID, model.RecordRejected, err.Error())
		return outcomeRejected
	}
	for _, issue := range cand.Issues {
		recLog.Debug("field degraded",
			zap.String("field", issue.Field),
			zap.String("value", issue.Value),
			zap.String("reason", issue.Reason()),
		)
	}

	key := cand.Poll.Key()
	unlock := o.locks.acquire(key.String())
	outcome, err := o.store.UpsertCleanPoll(ctx, cand.Poll)
	unlock()

	if err != nil {
		recLog.Error("upsert failed", zap.String("key", key.String()), zap.Error(err))
		o.markStatus(ctx, recLog, raw.ID, model.RecordUpsertFailed, err.Error())
		return outcomeFailed
	}

	o.markStatus(ctx, recLog, raw.ID, model.RecordUpserted, "")
	recLog.Debug("record upserted",
		zap.String("key", key.String()),
		zap.String("outcome", string(outcome)),
		zap.Int("results", len(cand.Poll.Results)),
		zap.Int("dropped_parties", len(cand.DroppedParties)),
	)
	return outcome
}

func (o *Orchestrator) markStatus(ctx context.Context, log *zap.Logger, rawID int64, status model.RecordStatus, note string) {
	if err := o.store.MarkRawStatus(ctx, rawID, status, note); err != nil {
		log.Error("failed to record status", zap.String("status", string(status)), zap.Error(err))
	}
}

func (o *Orchestrator) failRun(ctx context.Context, log *zap.Logger, runID string, cause error) {
	if err := o.store.FailRun(ctx, runID, cause.Error()); err != nil {
		log.Error("failed to record run failure", zap.Error(err))
	}
}

// InspectReport describes what the pipeline would do with one raw record.
// Nothing is written.
type InspectReport struct {
	Raw            *model.RawPoll      `json:"raw"`
	Rejected       bool                `json:"rejected"`
	RejectReason   string              `json:"reject_reason,omitempty"`
	Key            string              `json:"key,omitempty"`
	Poll           *model.CleanPoll    `json:"poll,omitempty"`
	Issues         []FieldIssue        `json:"issues,omitempty"`
	IssueReasons   []string            `json:"issue_reasons,omitempty"`
	DroppedParties []string            `json:"dropped_parties,omitempty"`
	Existing       *model.CleanPoll    `json:"existing,omitempty"`
	WouldDo        store.UpsertOutcome `json:"would_do"`
}

// Inspect runs a single raw record through normalization and resolution only
// and reports per-field outcomes plus the upsert decision that a real run
// would take.
func (o *Orchestrator) Inspect(ctx context.Context, rawID int64) (*InspectReport, error) {
	raw, err := o.store.GetRawPoll(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, eris.Errorf("pipeline: raw record %d not found", rawID)
	}

	snap, err := o.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	report := &InspectReport{Raw: raw}

	cand, err := buildCandidate(raw, snap)
	if err != nil {
		report.Rejected = true
		report.RejectReason = err.Error()
		report.WouldDo = outcomeRejected
		return report, nil
	}

	key := cand.Poll.Key()
	report.Key = key.String()
	report.Poll = cand.Poll
	report.Issues = cand.Issues
	report.DroppedParties = cand.DroppedParties
	for _, issue := range cand.Issues {
		report.IssueReasons = append(report.IssueReasons, issue.Field+": "+issue.Reason())
	}

	existing, err := o.store.GetCleanByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	switch {
	case existing == nil:
		report.WouldDo = store.OutcomeInserted
	case existing.EqualContent(cand.Poll):
		report.Existing = existing
		report.WouldDo = store.OutcomeUnchanged
	default:
		report.Existing = existing
		report.WouldDo = store.OutcomeUpdated
	}
	return report, nil
}
