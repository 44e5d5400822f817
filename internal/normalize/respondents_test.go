package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

func TestRespondentsCount_OnlineTag(t *testing.T) {
	r, err := RespondentsCount("O • 1005")
	require.NoError(t, err)
	assert.Equal(t, 1005, r.Count)
	assert.Equal(t, "online", r.MethodHint)
}

func TestRespondentsCount_TelephoneTag(t *testing.T) {
	r, err := RespondentsCount("T • 1203")
	require.NoError(t, err)
	assert.Equal(t, 1203, r.Count)
	assert.Equal(t, "telephone", r.MethodHint)
}

func TestRespondentsCount_MixedTag(t *testing.T) {
	r, err := RespondentsCount("T+O • 2504")
	require.NoError(t, err)
	assert.Equal(t, 2504, r.Count)
	assert.Equal(t, "mixed", r.MethodHint)
}

func TestRespondentsCount_UnrecognizedPrefixIsNoise(t *testing.T) {
	r, err := RespondentsCount("ca. 1000")
	require.NoError(t, err)
	assert.Equal(t, 1000, r.Count)
	assert.Equal(t, "", r.MethodHint)
}

func TestRespondentsCount_UnknownTagBeforeBullet(t *testing.T) {
	// A bullet with an unknown tag still yields the count, but no hint.
	r, err := RespondentsCount("X • 800")
	require.NoError(t, err)
	assert.Equal(t, 800, r.Count)
	assert.Equal(t, "", r.MethodHint)
}

func TestRespondentsCount_ThousandsSeparator(t *testing.T) {
	r, err := RespondentsCount("T • 2.504")
	require.NoError(t, err)
	assert.Equal(t, 2504, r.Count)
}

func TestRespondentsCount_BareNumber(t *testing.T) {
	r, err := RespondentsCount("1005")
	require.NoError(t, err)
	assert.Equal(t, 1005, r.Count)
}

func TestRespondentsCount_NoDigits(t *testing.T) {
	for _, text := range []string{"", "unbekannt", "O •"} {
		_, err := RespondentsCount(text)
		assert.True(t, errors.Is(err, model.ErrMalformedRespondents), "input %q", text)
	}
}
