package normalize

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// ParsedResult is one decoded (party name, percentage) pair. OutOfRange marks
// a value outside [0, 100]; the value itself is never clamped.
type ParsedResult struct {
	Party      string
	Percentage float64
	OutOfRange bool
}

// PartyResults decodes the source encoding of name→percentage pairs: entries
// separated by ";" or newlines, each either "Name: 12,5" or "Name 12.5",
// with an optional trailing "%". Comma and dot decimals are both accepted.
//
// Returns the parsed results plus one error per entry that matched no
// pattern. Malformed entries are reported, not guessed at.
func PartyResults(text string) ([]ParsedResult, []error) {
	var (
		results []ParsedResult
		errs    []error
	)
	for _, entry := range splitEntries(text) {
		r, err := parseEntry(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, r)
	}
	return results, errs
}

func splitEntries(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ';' || r == '\n'
	})
	var entries []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			entries = append(entries, f)
		}
	}
	return entries
}

// parseEntry tries the colon form first, then the last-whitespace form.
func parseEntry(entry string) (ParsedResult, error) {
	if name, value, found := strings.Cut(entry, ":"); found {
		return makeResult(entry, name, value)
	}
	idx := strings.LastIndexAny(entry, " \t")
	if idx < 0 {
		return ParsedResult{}, eris.Errorf("party result entry %q: no separator", entry)
	}
	return makeResult(entry, entry[:idx], entry[idx+1:])
}

func makeResult(entry, name, value string) (ParsedResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ParsedResult{}, eris.Errorf("party result entry %q: empty party name", entry)
	}

	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "%"))
	value = strings.ReplaceAll(value, ",", ".")
	pct, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return ParsedResult{}, eris.Errorf("party result entry %q: bad percentage %q", entry, value)
	}

	r := ParsedResult{Party: name, Percentage: pct}
	if pct < 0 || pct > 100 {
		r.OutOfRange = true
	}
	return r, nil
}

// OutOfRangeError describes a flagged result for the orchestrator's
// field-failure report.
func OutOfRangeError(r ParsedResult) error {
	return eris.Wrapf(model.ErrOutOfRangePercentage, "%s: %g", r.Party, r.Percentage)
}
