package model

import "github.com/rotisserie/eris"

// Field-level and record-level failure taxonomy for the raw-to-clean pipeline.
// All are matchable with errors.Is after eris wrapping.
var (
	// ErrMalformedDate means a date field matched none of the known patterns.
	ErrMalformedDate = eris.New("malformed date")

	// ErrMalformedRespondents means no digits remained after prefix stripping.
	ErrMalformedRespondents = eris.New("malformed respondents")

	// ErrOutOfRangePercentage flags a parsed percentage outside [0, 100].
	// The value is retained, never clamped.
	ErrOutOfRangePercentage = eris.New("percentage out of range")

	// ErrUnresolvedEntity means a free-text name matched no known alias.
	ErrUnresolvedEntity = eris.New("unresolved entity")

	// ErrUnparsableRecord rejects a whole raw record whose publish date,
	// part of the identity key, could not be parsed.
	ErrUnparsableRecord = eris.New("unparsable record")

	// ErrUpsertFailed wraps a storage error during the transactional replace.
	ErrUpsertFailed = eris.New("upsert failed")
)
