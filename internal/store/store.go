package store

import (
	"context"
	"time"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// UpsertOutcome classifies what a clean-poll upsert did.
type UpsertOutcome string

const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// RawFilter specifies criteria for listing raw polls.
type RawFilter struct {
	IDs    []int64 `json:"ids,omitempty"`
	Source string  `json:"source,omitempty"`
	Limit  int     `json:"limit,omitempty"` // most recently retrieved first when set
}

// CleanFilter specifies criteria for listing clean polls.
type CleanFilter struct {
	Scope         model.Scope `json:"scope,omitempty"`
	InstituteID   *int64      `json:"institute_id,omitempty"`
	ProviderID    *int64      `json:"provider_id,omitempty"`
	ElectionID    *int64      `json:"election_id,omitempty"`
	MethodID      *int64      `json:"method_id,omitempty"`
	PublishedFrom *time.Time  `json:"published_from,omitempty"`
	PublishedTo   *time.Time  `json:"published_to,omitempty"`
	Limit         int         `json:"limit,omitempty"`
}

// ResultFilter specifies criteria for the flattened results view.
type ResultFilter struct {
	PartyID *int64 `json:"party_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// ResultRow is one row of the flattened (poll, party) view.
type ResultRow struct {
	PollID      int64       `json:"poll_id"`
	PublishDate time.Time   `json:"publish_date"`
	Scope       model.Scope `json:"scope"`
	InstituteID *int64      `json:"institute_id,omitempty"`
	PartyID     int64       `json:"party_id"`
	Percentage  float64     `json:"percentage"`
	OutOfRange  bool        `json:"out_of_range,omitempty"`
}

// Store is the persistence contract of the pipeline: an append-only raw
// table, the clean tables with identity-key upsert, the reference tables,
// and the batch run log.
type Store interface {
	// Raw polls (append-only; content never mutated after insert)
	InsertRawPolls(ctx context.Context, polls []model.RawPoll) ([]int64, error)
	GetRawPoll(ctx context.Context, id int64) (*model.RawPoll, error)
	ListRawPolls(ctx context.Context, f RawFilter) ([]model.RawPoll, error)
	ListUnprocessedRaw(ctx context.Context, limit int) ([]model.RawPoll, error)
	MarkRawStatus(ctx context.Context, rawID int64, status model.RecordStatus, note string) error

	// Clean polls. UpsertCleanPoll applies the identity-key policy: insert
	// when absent, replace all-or-nothing when changed, zero writes when
	// identical. The result set is always replaced as a unit.
	GetCleanByKey(ctx context.Context, key model.IdentityKey) (*model.CleanPoll, error)
	UpsertCleanPoll(ctx context.Context, poll *model.CleanPoll) (UpsertOutcome, error)
	ListCleanPolls(ctx context.Context, f CleanFilter) ([]model.CleanPoll, error)
	ListResultRows(ctx context.Context, f ResultFilter) ([]ResultRow, error)

	// Reference data
	ReferenceSet(ctx context.Context) (*model.ReferenceSet, error)
	ReplaceReferenceSet(ctx context.Context, set *model.ReferenceSet) error

	// Run log
	StartRun(ctx context.Context, mode string) (string, error)
	CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error)

	// Operational
	TableCounts(ctx context.Context) (map[string]int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
