package refdata

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// Resolve maps free-text to a reference id: exact alias match first, then the
// longest alias contained in the raw text as a substring. The substring pass
// prefers the longest alias so "CDU" cannot shadow a present "CDU/CSU".
func (s *Snapshot) Resolve(kind model.EntityKind, raw string) (int64, error) {
	idx := s.aliases[kind]
	key := aliasKey(raw)
	if idx == nil || key == "" {
		return 0, eris.Wrapf(model.ErrUnresolvedEntity, "%s %q", kind, raw)
	}

	if id, ok := idx.exact[key]; ok {
		return id, nil
	}

	for _, e := range idx.ordered {
		if strings.Contains(key, e.key) {
			return e.id, nil
		}
	}

	return 0, eris.Wrapf(model.ErrUnresolvedEntity, "%s %q", kind, raw)
}

// ResolveElection resolves election_ref_text directly when possible,
// otherwise falls back to the most recent election whose scope matches the
// poll's declared scope.
func (s *Snapshot) ResolveElection(raw string, scope model.Scope) (int64, error) {
	if id, err := s.Resolve(model.KindElection, raw); err == nil {
		return id, nil
	}

	for _, e := range s.Elections {
		if e.Scope == scope {
			return e.ID, nil
		}
	}

	return 0, eris.Wrapf(model.ErrUnresolvedEntity, "election %q (scope %s)", raw, scope)
}
