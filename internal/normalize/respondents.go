package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// Respondents is a parsed respondent count with an optional method hint
// detected from the field's prefix tag.
type Respondents struct {
	Count      int
	MethodHint string // canonical method name, empty when no tag recognized
}

// methodTags maps the source's prefix tags (before the bullet separator) to
// canonical method names.
var methodTags = map[string]string{
	"O":   "online",
	"T":   "telephone",
	"T+O": "mixed",
	"T/O": "mixed",
	"TOM": "mixed",
}

// countRe matches an integer with optional dot or comma thousands separators.
var countRe = regexp.MustCompile(`\d{1,3}(?:[.,]\d{3})+|\d+`)

// RespondentsCount parses a raw respondents field. A recognized tag before a
// "•" separator becomes the method hint; any other leading text is noise.
// Digits may carry thousands separators. No digits at all is
// ErrMalformedRespondents, which callers treat as non-fatal.
func RespondentsCount(text string) (Respondents, error) {
	rest := text
	var hint string
	if before, after, found := strings.Cut(text, "•"); found {
		tag := strings.ToUpper(strings.TrimSpace(before))
		if canonical, ok := methodTags[tag]; ok {
			hint = canonical
		}
		rest = after
	}

	m := countRe.FindString(rest)
	if m == "" {
		return Respondents{}, eris.Wrapf(model.ErrMalformedRespondents, "respondents %q", text)
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m)
	count, err := strconv.Atoi(digits)
	if err != nil || count <= 0 {
		return Respondents{}, eris.Wrapf(model.ErrMalformedRespondents, "respondents %q", text)
	}

	return Respondents{Count: count, MethodHint: hint}, nil
}
