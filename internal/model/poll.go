package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Scope is the canonical election-scope token of a poll.
type Scope string

const (
	ScopeFederal  Scope = "federal"
	ScopeState    Scope = "state"
	ScopeEuropean Scope = "european"
)

// ParseScope maps raw scope text to a canonical Scope token.
// Unknown text defaults to federal, the dominant scope in the source data.
func ParseScope(s string) Scope {
	switch Scope(s) {
	case ScopeState, ScopeEuropean:
		return Scope(s)
	default:
		return ScopeFederal
	}
}

// RawPoll is one scraped record exactly as published. Content fields are
// append-only: once inserted they are never mutated.
type RawPoll struct {
	ID               int64     `json:"id"`
	PublishDateText  string    `json:"publish_date_text"`
	SurveyPeriodText string    `json:"survey_period_text"`
	RespondentsText  string    `json:"respondents_text"`
	PartyResultsText string    `json:"party_results_text"`
	InstituteText    string    `json:"institute_name_text"`
	ProviderText     string    `json:"provider_name_text"`
	ScopeText        string    `json:"scope_text"`
	ElectionText     string    `json:"election_ref_text"`
	MethodText       string    `json:"method_ref_text"`
	SourceURL        string    `json:"source_url"`
	RetrievedAt      time.Time `json:"retrieved_at"`
}

// CleanPoll is the normalized, analysis-ready interpretation of zero-or-one
// raw polls. RawID is a lookup-only back-reference, not ownership.
type CleanPoll struct {
	ID          int64        `json:"id"`
	RawID       *int64       `json:"raw_id,omitempty"`
	PublishDate time.Time    `json:"publish_date"`
	SurveyStart *time.Time   `json:"survey_date_start,omitempty"`
	SurveyEnd   *time.Time   `json:"survey_date_end,omitempty"`
	Respondents *int         `json:"respondents,omitempty"`
	InstituteID *int64       `json:"institute_id,omitempty"`
	ProviderID  *int64       `json:"provider_id,omitempty"`
	ElectionID  *int64       `json:"election_id,omitempty"`
	MethodID    *int64       `json:"method_id,omitempty"`
	Scope       Scope        `json:"scope"`
	SourceURL   string       `json:"source_url"`
	Results     []PollResult `json:"results,omitempty"`
}

// PollResult is one party's percentage within one clean poll.
// OutOfRange marks a percentage outside [0, 100] kept for review.
type PollResult struct {
	PartyID    int64   `json:"party_id"`
	Percentage float64 `json:"percentage"`
	OutOfRange bool    `json:"out_of_range,omitempty"`
}

// IdentityKey is the tuple that defines "the same logical poll" for
// deduplication. Unknown institute/provider collapse to zero.
type IdentityKey struct {
	PublishDate string // YYYY-MM-DD
	InstituteID int64
	Scope       Scope
	ProviderID  int64
}

func (k IdentityKey) String() string {
	return fmt.Sprintf("%s|%d|%s|%d", k.PublishDate, k.InstituteID, k.Scope, k.ProviderID)
}

// Key computes the poll's identity key.
func (p *CleanPoll) Key() IdentityKey {
	k := IdentityKey{
		PublishDate: p.PublishDate.Format("2006-01-02"),
		Scope:       p.Scope,
	}
	if p.InstituteID != nil {
		k.InstituteID = *p.InstituteID
	}
	if p.ProviderID != nil {
		k.ProviderID = *p.ProviderID
	}
	return k
}

// EqualContent reports whether two polls agree on every non-key field and on
// their full result sets. Used by the upsert engine to detect no-op
// re-ingestion. RawID is deliberately excluded: a manually curated poll and
// its later scraped twin are the same content.
func (p *CleanPoll) EqualContent(o *CleanPoll) bool {
	if !equalDatePtr(p.SurveyStart, o.SurveyStart) ||
		!equalDatePtr(p.SurveyEnd, o.SurveyEnd) ||
		!equalIntPtr(p.Respondents, o.Respondents) ||
		!equalInt64Ptr(p.ElectionID, o.ElectionID) ||
		!equalInt64Ptr(p.MethodID, o.MethodID) ||
		p.SourceURL != o.SourceURL {
		return false
	}
	if len(p.Results) != len(o.Results) {
		return false
	}
	byParty := make(map[int64]PollResult, len(o.Results))
	for _, r := range o.Results {
		byParty[r.PartyID] = r
	}
	for _, r := range p.Results {
		other, ok := byParty[r.PartyID]
		if !ok || other.Percentage != r.Percentage || other.OutOfRange != r.OutOfRange {
			return false
		}
	}
	return true
}

// Validate checks the clean-poll invariants before storage.
func (p *CleanPoll) Validate() error {
	if p.PublishDate.IsZero() {
		return eris.New("clean poll: publish date required")
	}
	if p.SurveyStart != nil && p.SurveyEnd != nil && p.SurveyStart.After(*p.SurveyEnd) {
		return eris.Errorf("clean poll: survey start %s after end %s",
			p.SurveyStart.Format("2006-01-02"), p.SurveyEnd.Format("2006-01-02"))
	}
	if p.Respondents != nil && *p.Respondents <= 0 {
		return eris.Errorf("clean poll: respondents must be positive, got %d", *p.Respondents)
	}
	seen := make(map[int64]bool, len(p.Results))
	for _, r := range p.Results {
		if seen[r.PartyID] {
			return eris.Errorf("clean poll: duplicate party %d in results", r.PartyID)
		}
		seen[r.PartyID] = true
	}
	return nil
}

func equalDatePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
