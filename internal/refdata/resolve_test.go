package refdata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

func testSnapshot() *Snapshot {
	return Build(&model.ReferenceSet{
		Institutes: []model.Institute{
			{ID: 1, Name: "Forsa"},
			{ID: 2, Name: "Infratest dimap"},
		},
		Parties: []model.Party{
			{ID: 10, Name: "CDU", ShortName: "CDU"},
			{ID: 11, Name: "CDU/CSU", ShortName: "Union"},
			{ID: 12, Name: "SPD"},
		},
		Providers: []model.Provider{
			{ID: 20, Name: "RTL/ntv"},
		},
		Methods: []model.Method{
			{ID: 30, Name: "online"},
			{ID: 31, Name: "telephone"},
		},
		Elections: []model.Election{
			{ID: 40, Name: "Bundestagswahl 2021", Scope: model.ScopeFederal, Date: time.Date(2021, 9, 26, 0, 0, 0, 0, time.UTC)},
			{ID: 41, Name: "Bundestagswahl 2025", Scope: model.ScopeFederal, Date: time.Date(2025, 2, 23, 0, 0, 0, 0, time.UTC)},
			{ID: 42, Name: "Europawahl 2024", Scope: model.ScopeEuropean, Date: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)},
		},
		Aliases: []model.Alias{
			{Kind: model.KindInstitute, EntityID: 1, Text: "forsa"},
			{Kind: model.KindInstitute, EntityID: 1, Text: "Forsa GmbH"},
		},
	})
}

func TestResolve_ExactAlias(t *testing.T) {
	s := testSnapshot()
	id, err := s.Resolve(model.KindInstitute, "forsa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestResolve_CaseInsensitive(t *testing.T) {
	s := testSnapshot()
	id, err := s.Resolve(model.KindInstitute, "FORSA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestResolve_WhitespaceStripped(t *testing.T) {
	s := testSnapshot()
	id, err := s.Resolve(model.KindInstitute, "  Forsa GmbH  ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestResolve_SubstringPicksLongestAlias(t *testing.T) {
	s := testSnapshot()
	// "CDU/CSU (Union)" contains both "CDU" and "CDU/CSU"; the longer alias wins.
	id, err := s.Resolve(model.KindParty, "CDU/CSU (Union)")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
}

func TestResolve_SubstringShortAlias(t *testing.T) {
	s := testSnapshot()
	id, err := s.Resolve(model.KindParty, "SPD (Scholz)")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
}

func TestResolve_Unresolved(t *testing.T) {
	s := testSnapshot()
	_, err := s.Resolve(model.KindInstitute, "Gallup")
	assert.True(t, errors.Is(err, model.ErrUnresolvedEntity))
}

func TestResolve_EmptyText(t *testing.T) {
	s := testSnapshot()
	_, err := s.Resolve(model.KindInstitute, "   ")
	assert.True(t, errors.Is(err, model.ErrUnresolvedEntity))
}

func TestResolveElection_Direct(t *testing.T) {
	s := testSnapshot()
	id, err := s.ResolveElection("Europawahl 2024", model.ScopeFederal)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestResolveElection_FallbackMostRecentByScope(t *testing.T) {
	s := testSnapshot()
	// Unresolvable text falls back to the most recent federal election.
	id, err := s.ResolveElection("Sonntagsfrage", model.ScopeFederal)
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)
}

func TestResolveElection_NoScopeMatch(t *testing.T) {
	s := testSnapshot()
	_, err := s.ResolveElection("unknown", model.ScopeState)
	assert.True(t, errors.Is(err, model.ErrUnresolvedEntity))
}

func TestParseAliasFile(t *testing.T) {
	data := []byte(`
institutes:
  - id: 1
    name: Forsa
    aliases: [forsa, "Forsa GmbH"]
parties:
  - id: 10
    name: SPD
    color: "#E3000F"
elections:
  - id: 40
    name: Bundestagswahl 2025
    scope: federal
    date: "2025-02-23"
    aliases: [BTW25]
`)
	set, err := ParseAliasFile(data)
	require.NoError(t, err)
	require.Len(t, set.Institutes, 1)
	assert.Equal(t, "Forsa", set.Institutes[0].Name)
	require.Len(t, set.Parties, 1)
	assert.Equal(t, "#E3000F", set.Parties[0].Color)
	require.Len(t, set.Elections, 1)
	assert.Equal(t, model.ScopeFederal, set.Elections[0].Scope)
	assert.Len(t, set.Aliases, 3)

	s := Build(set)
	id, err := s.Resolve(model.KindElection, "btw25")
	require.NoError(t, err)
	assert.Equal(t, int64(40), id)
}

func TestParseAliasFile_BadDate(t *testing.T) {
	_, err := ParseAliasFile([]byte("elections:\n  - id: 1\n    name: X\n    date: \"23.02.2025\"\n"))
	assert.Error(t, err)
}
