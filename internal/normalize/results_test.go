package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartyResults_ColonForm(t *testing.T) {
	results, errs := PartyResults("CDU/CSU: 31,5; SPD: 15; AfD: 17,0")
	require.Empty(t, errs)
	require.Len(t, results, 3)
	assert.Equal(t, "CDU/CSU", results[0].Party)
	assert.Equal(t, 31.5, results[0].Percentage)
	assert.Equal(t, "SPD", results[1].Party)
	assert.Equal(t, 15.0, results[1].Percentage)
	assert.Equal(t, 17.0, results[2].Percentage)
}

func TestPartyResults_WhitespaceForm(t *testing.T) {
	results, errs := PartyResults("GRÜNE 12.5\nFDP 4.9")
	require.Empty(t, errs)
	require.Len(t, results, 2)
	assert.Equal(t, "GRÜNE", results[0].Party)
	assert.Equal(t, 12.5, results[0].Percentage)
	assert.Equal(t, "FDP", results[1].Party)
	assert.Equal(t, 4.9, results[1].Percentage)
}

func TestPartyResults_PercentSuffix(t *testing.T) {
	results, errs := PartyResults("Linke: 4,5 %")
	require.Empty(t, errs)
	require.Len(t, results, 1)
	assert.Equal(t, 4.5, results[0].Percentage)
}

func TestPartyResults_CommaDecimal(t *testing.T) {
	results, errs := PartyResults("SPD 15,5")
	require.Empty(t, errs)
	assert.Equal(t, 15.5, results[0].Percentage)
}

func TestPartyResults_MultiWordPartyName(t *testing.T) {
	results, errs := PartyResults("Freie Wähler 3.1")
	require.Empty(t, errs)
	assert.Equal(t, "Freie Wähler", results[0].Party)
	assert.Equal(t, 3.1, results[0].Percentage)
}

func TestPartyResults_OutOfRangeFlaggedNotClamped(t *testing.T) {
	results, errs := PartyResults("CDU: 131,5")
	require.Empty(t, errs)
	require.Len(t, results, 1)
	assert.True(t, results[0].OutOfRange)
	assert.Equal(t, 131.5, results[0].Percentage)
}

func TestPartyResults_InRangeBounds(t *testing.T) {
	results, _ := PartyResults("A: 0; B: 100")
	require.Len(t, results, 2)
	assert.False(t, results[0].OutOfRange)
	assert.False(t, results[1].OutOfRange)
}

func TestPartyResults_MalformedEntryReported(t *testing.T) {
	results, errs := PartyResults("SPD: 15; garbage; CDU: 30")
	assert.Len(t, results, 2)
	assert.Len(t, errs, 1)
}

func TestPartyResults_Empty(t *testing.T) {
	results, errs := PartyResults("")
	assert.Empty(t, results)
	assert.Empty(t, errs)
}
