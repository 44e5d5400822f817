package pipeline

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/model"
	"github.com/wahldaten/poll-pipeline/internal/normalize"
	"github.com/wahldaten/poll-pipeline/internal/refdata"
)

// FieldIssue records one non-fatal problem found while building a candidate:
// a field that failed to normalize or an entity that failed to resolve. The
// affected value degrades to null (or the result row is dropped) and the
// rest of the record proceeds.
type FieldIssue struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Err   error  `json:"-"`
}

func (i FieldIssue) Reason() string {
	if i.Err == nil {
		return ""
	}
	return i.Err.Error()
}

// Candidate is the outcome of normalizing and resolving one raw record.
// Issues lists every degraded field; DroppedParties lists result entries
// removed because their party name resolved to nothing.
type Candidate struct {
	Poll           *model.CleanPoll
	Issues         []FieldIssue
	DroppedParties []string
}

// buildCandidate runs one raw record through all field normalizers and the
// entity resolver. Every field is attempted regardless of earlier failures.
// Only an unusable publish date is fatal: without it the record has no
// identity key and is rejected as a whole.
func buildCandidate(raw *model.RawPoll, snap *refdata.Snapshot) (*Candidate, error) {
	c := &Candidate{Poll: &model.CleanPoll{
		RawID:     &raw.ID,
		Scope:     model.ParseScope(strings.TrimSpace(raw.ScopeText)),
		SourceURL: raw.SourceURL,
	}}

	publishDate, err := normalize.Date(raw.PublishDateText)
	if err != nil {
		return nil, eris.Wrapf(model.ErrUnparsableRecord, "raw %d: publish date %q", raw.ID, raw.PublishDateText)
	}
	c.Poll.PublishDate = publishDate

	if period := strings.TrimSpace(raw.SurveyPeriodText); period != "" {
		r, err := normalize.SurveyPeriod(period)
		if err != nil {
			c.issue("survey_period", period, err)
		} else {
			c.Poll.SurveyStart = &r.Start
			c.Poll.SurveyEnd = &r.End
		}
	}

	var methodHint string
	if text := strings.TrimSpace(raw.RespondentsText); text != "" {
		r, err := normalize.RespondentsCount(text)
		if err != nil {
			c.issue("respondents", text, err)
		} else {
			count := r.Count
			c.Poll.Respondents = &count
			methodHint = r.MethodHint
		}
	}

	c.Poll.InstituteID = c.resolveOptional(snap, model.KindInstitute, "institute", raw.InstituteText)
	c.Poll.ProviderID = c.resolveOptional(snap, model.KindProvider, "provider", raw.ProviderText)

	// An explicit method field wins over the hint derived from the
	// respondents tag.
	methodText := strings.TrimSpace(raw.MethodText)
	if methodText == "" {
		methodText = methodHint
	}
	c.Poll.MethodID = c.resolveOptional(snap, model.KindMethod, "method", methodText)

	// Election resolution falls back to the most recent election of the
	// poll's scope, so an empty miss is expected and not reported.
	electionText := strings.TrimSpace(raw.ElectionText)
	if id, err := snap.ResolveElection(electionText, c.Poll.Scope); err != nil {
		if electionText != "" {
			c.issue("election", electionText, err)
		}
	} else {
		c.Poll.ElectionID = &id
	}

	results, errs := normalize.PartyResults(raw.PartyResultsText)
	for _, e := range errs {
		c.issue("party_results", raw.PartyResultsText, e)
	}
	for _, r := range results {
		partyID, err := snap.Resolve(model.KindParty, r.Party)
		if err != nil {
			// An unresolved party drops its single result row, not the poll.
			c.DroppedParties = append(c.DroppedParties, r.Party)
			c.issue("party", r.Party, err)
			continue
		}
		if r.OutOfRange {
			// Stored with its flag, but the degraded-field report carries it too.
			c.issue("party_results", raw.PartyResultsText, normalize.OutOfRangeError(r))
		}
		c.Poll.Results = append(c.Poll.Results, model.PollResult{
			PartyID:    partyID,
			Percentage: r.Percentage,
			OutOfRange: r.OutOfRange,
		})
	}

	return c, nil
}

func (c *Candidate) issue(field, value string, err error) {
	c.Issues = append(c.Issues, FieldIssue{Field: field, Value: value, Err: err})
}

// resolveOptional resolves raw entity text against one reference kind.
// Empty text and resolution misses both leave the FK null; a miss is
// recorded as an issue.
func (c *Candidate) resolveOptional(snap *refdata.Snapshot, kind model.EntityKind, field, text string) *int64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	id, err := snap.Resolve(kind, text)
	if err != nil {
		c.issue(field, text, err)
		return nil
	}
	return &id
}
