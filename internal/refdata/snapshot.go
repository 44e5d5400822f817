// Package refdata holds the immutable per-batch snapshot of the five
// reference tables and resolves free-text names to canonical ids.
package refdata

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// Snapshot is a read-only view of the reference tables plus their alias
// index, built once at batch start. Batches running concurrently each hold
// their own snapshot; nothing here is mutated after Build.
type Snapshot struct {
	Institutes map[int64]model.Institute
	Parties    map[int64]model.Party
	Providers  map[int64]model.Provider
	Methods    map[int64]model.Method
	Elections  []model.Election // sorted most recent first

	aliases map[model.EntityKind]*aliasIndex
}

type aliasIndex struct {
	exact map[string]int64
	// ordered longest alias first so substring matching prefers the most
	// specific alias ("CDU/CSU" before "CDU")
	ordered []aliasEntry
}

type aliasEntry struct {
	key string
	id  int64
}

var folder = cases.Fold()

// aliasKey canonicalizes alias text: NFC Unicode normalization, case folding,
// surrounding whitespace stripped.
func aliasKey(s string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(s)))
}

// Build constructs a snapshot from one aggregate reference set. Every
// entity's own name and short name are registered as aliases alongside the
// explicit alias rows.
func Build(set *model.ReferenceSet) *Snapshot {
	s := &Snapshot{
		Institutes: make(map[int64]model.Institute, len(set.Institutes)),
		Parties:    make(map[int64]model.Party, len(set.Parties)),
		Providers:  make(map[int64]model.Provider, len(set.Providers)),
		Methods:    make(map[int64]model.Method, len(set.Methods)),
		aliases: map[model.EntityKind]*aliasIndex{
			model.KindInstitute: newAliasIndex(),
			model.KindParty:     newAliasIndex(),
			model.KindProvider:  newAliasIndex(),
			model.KindMethod:    newAliasIndex(),
			model.KindElection:  newAliasIndex(),
		},
	}

	for _, e := range set.Institutes {
		s.Institutes[e.ID] = e
		s.addAlias(model.KindInstitute, e.ID, e.Name, e.ShortName)
	}
	for _, e := range set.Parties {
		s.Parties[e.ID] = e
		s.addAlias(model.KindParty, e.ID, e.Name, e.ShortName)
	}
	for _, e := range set.Providers {
		s.Providers[e.ID] = e
		s.addAlias(model.KindProvider, e.ID, e.Name)
	}
	for _, e := range set.Methods {
		s.Methods[e.ID] = e
		s.addAlias(model.KindMethod, e.ID, e.Name)
	}

	s.Elections = append(s.Elections, set.Elections...)
	sort.Slice(s.Elections, func(i, j int) bool {
		return s.Elections[i].Date.After(s.Elections[j].Date)
	})
	for _, e := range set.Elections {
		s.addAlias(model.KindElection, e.ID, e.Name)
	}

	for _, a := range set.Aliases {
		s.addAlias(a.Kind, a.EntityID, a.Text)
	}

	for _, idx := range s.aliases {
		idx.sortByLength()
	}
	return s
}

func newAliasIndex() *aliasIndex {
	return &aliasIndex{exact: make(map[string]int64)}
}

func (s *Snapshot) addAlias(kind model.EntityKind, id int64, texts ...string) {
	idx := s.aliases[kind]
	if idx == nil {
		return
	}
	for _, t := range texts {
		key := aliasKey(t)
		if key == "" {
			continue
		}
		if _, dup := idx.exact[key]; dup {
			continue
		}
		idx.exact[key] = id
		idx.ordered = append(idx.ordered, aliasEntry{key: key, id: id})
	}
}

func (idx *aliasIndex) sortByLength() {
	sort.SliceStable(idx.ordered, func(i, j int) bool {
		return len(idx.ordered[i].key) > len(idx.ordered[j].key)
	})
}
