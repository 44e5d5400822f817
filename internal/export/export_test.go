package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/wahldaten/poll-pipeline/internal/model"
	"github.com/wahldaten/poll-pipeline/internal/store"
)

func intp(n int) *int { return &n }

func int64p(n int64) *int64 { return &n }

func newTestDataset(t *testing.T) *Dataset {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.ReplaceReferenceSet(ctx, &model.ReferenceSet{
		Institutes: []model.Institute{{ID: 1, Name: "Forsa"}},
		Parties: []model.Party{
			{ID: 1, Name: "CDU/CSU"},
			{ID: 2, Name: "SPD"},
		},
		Providers: []model.Provider{{ID: 2, Name: "RTL/ntv"}},
	}))

	start := time.Date(2024, 6, 18, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	_, err = st.UpsertCleanPoll(ctx, &model.CleanPoll{
		PublishDate: time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC),
		SurveyStart: &start,
		SurveyEnd:   &end,
		Respondents: intp(1002),
		InstituteID: int64p(1),
		ProviderID:  int64p(2),
		Scope:       model.ScopeFederal,
		SourceURL:   "https://example.org/polls/1",
		Results: []model.PollResult{
			{PartyID: 1, Percentage: 31.5},
			{PartyID: 2, Percentage: 131.5, OutOfRange: true},
		},
	})
	require.NoError(t, err)

	d, err := Collect(ctx, st, store.CleanFilter{})
	require.NoError(t, err)
	return d
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "CSV", " sqlite ", "xlsx"} {
		f, err := ParseFormat(s)
		assert.NoError(t, err, s)
		assert.NotEmpty(t, f)
	}

	_, err := ParseFormat("parquet")
	assert.Error(t, err)
}

func TestCollect(t *testing.T) {
	d := newTestDataset(t)

	require.Len(t, d.Polls, 1)
	assert.Len(t, d.Rows, 2)
	assert.Equal(t, "Forsa", d.instituteName(int64p(1)))
	assert.Equal(t, "SPD", d.partyName(2))
	assert.Equal(t, "", d.instituteName(nil))
}

func TestCollect_FilterRestrictsRows(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.ReplaceReferenceSet(ctx, &model.ReferenceSet{
		Institutes: []model.Institute{{ID: 1, Name: "Forsa"}},
		Parties:    []model.Party{{ID: 1, Name: "CDU/CSU"}},
	}))

	for _, scope := range []model.Scope{model.ScopeFederal, model.ScopeState} {
		_, err = st.UpsertCleanPoll(ctx, &model.CleanPoll{
			PublishDate: time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC),
			InstituteID: int64p(1),
			Scope:       scope,
			Results:     []model.PollResult{{PartyID: 1, Percentage: 31.5}},
		})
		require.NoError(t, err)
	}

	d, err := Collect(ctx, st, store.CleanFilter{Scope: model.ScopeFederal})
	require.NoError(t, err)

	require.Len(t, d.Polls, 1)
	require.Len(t, d.Rows, 1)
	assert.Equal(t, d.Polls[0].ID, d.Rows[0].PollID)
	assert.Equal(t, model.ScopeFederal, d.Rows[0].Scope)
}

func TestWriteJSON(t *testing.T) {
	d := newTestDataset(t)

	var buf bytes.Buffer
	require.NoError(t, d.WriteJSON(&buf))

	var doc struct {
		PollCount int               `json:"poll_count"`
		Polls     []model.CleanPoll `json:"polls"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 1, doc.PollCount)
	require.Len(t, doc.Polls, 1)
	require.Len(t, doc.Polls[0].Results, 2)
	assert.True(t, doc.Polls[0].Results[1].OutOfRange)
}

func TestWriteCSV(t *testing.T) {
	d := newTestDataset(t)

	var buf bytes.Buffer
	require.NoError(t, d.WriteCSV(&buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvColumns, records[0])
	assert.Equal(t, "2024-06-24", records[1][1])
	assert.Equal(t, "Forsa", records[1][3])
	assert.Equal(t, "CDU/CSU", records[1][4])
	assert.Equal(t, "31.5", records[1][5])
	assert.Equal(t, "false", records[1][6])
	assert.Equal(t, "SPD", records[2][4])
	assert.Equal(t, "131.5", records[2][5])
	assert.Equal(t, "true", records[2][6])
}

func TestWriteXLSXFile(t *testing.T) {
	d := newTestDataset(t)

	path := filepath.Join(t.TempDir(), "polls.xlsx")
	require.NoError(t, d.WriteXLSXFile(path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Equal(t, "Polls", f.Sheets[0].Name)
	assert.Equal(t, "Results", f.Sheets[1].Name)

	// Header plus one poll row.
	require.Len(t, f.Sheets[0].Rows, 2)
	pollRow := f.Sheets[0].Rows[1]
	assert.Equal(t, "2024-06-24", pollRow.Cells[1].String())
	assert.Equal(t, "Forsa", pollRow.Cells[5].String())

	// Header plus two result rows.
	require.Len(t, f.Sheets[1].Rows, 3)
}

func TestWriteSQLiteFile(t *testing.T) {
	d := newTestDataset(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, d.WriteSQLiteFile(ctx, path))

	snap, err := store.NewSQLite(path)
	require.NoError(t, err)
	defer snap.Close() //nolint:errcheck

	polls, err := snap.ListCleanPolls(ctx, store.CleanFilter{})
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Len(t, polls[0].Results, 2)

	ref, err := snap.ReferenceSet(ctx)
	require.NoError(t, err)
	assert.Len(t, ref.Parties, 2)
}

func TestWriteFile_Dispatch(t *testing.T) {
	d := newTestDataset(t)
	dir := t.TempDir()

	require.NoError(t, d.WriteFile(context.Background(), filepath.Join(dir, "out.json"), FormatJSON))
	require.NoError(t, d.WriteFile(context.Background(), filepath.Join(dir, "out.csv"), FormatCSV))
	assert.Error(t, d.WriteFile(context.Background(), filepath.Join(dir, "out.bin"), Format("bin")))
}
