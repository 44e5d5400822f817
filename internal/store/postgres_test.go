package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

func newMockPostgres(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresFromPool(mock)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var pgCleanCols = []string{
	"id", "raw_id", "publish_date", "survey_start", "survey_end", "respondents",
	"institute_id", "provider_id", "election_id", "method_id", "scope", "source_url",
}

func TestPostgres_Migrate(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS raw_polls").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRawPoll_Missing(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectQuery("SELECT (.+) FROM raw_polls WHERE id").
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetRawPoll(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkRawStatus(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO raw_poll_state").
		WithArgs(int64(7), "rejected", "bad publish date").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.MarkRawStatus(context.Background(), 7, model.RecordRejected, "bad publish date")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListUnprocessedRaw(t *testing.T) {
	mock, st := newMockPostgres(t)

	retrieved := time.Date(2024, 6, 24, 9, 30, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "publish_date_text", "survey_period_text", "respondents_text",
		"party_results_text", "institute_text", "provider_text", "scope_text",
		"election_text", "method_text", "source_url", "retrieved_at",
	}).AddRow(int64(1), "24.06.2024", "", "T • 1.002", "SPD: 15", "Forsa", "", "federal",
		"", "", "https://example.org/polls/1", retrieved)

	mock.ExpectQuery("LEFT JOIN raw_poll_state").
		WithArgs("upserted", 10).
		WillReturnRows(rows)

	polls, err := st.ListUnprocessedRaw(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, int64(1), polls[0].ID)
	assert.Equal(t, "Forsa", polls[0].InstituteText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetCleanByKey_Missing(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectQuery("SELECT (.+) FROM clean_polls").
		WithArgs(anyArgs(4)...).
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetCleanByKey(context.Background(), model.IdentityKey{
		PublishDate: "2024-06-24", InstituteID: 1, Scope: model.ScopeFederal, ProviderID: 2,
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetCleanByKey_BadDate(t *testing.T) {
	_, st := newMockPostgres(t)

	_, err := st.GetCleanByKey(context.Background(), model.IdentityKey{PublishDate: "24.06.2024"})
	assert.Error(t, err)
}

func TestPostgres_UpsertCleanPoll_Insert(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM clean_polls").
		WithArgs(anyArgs(4)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO clean_polls").
		WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO poll_results").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO poll_results").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	poll := &model.CleanPoll{
		PublishDate: time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC),
		Scope:       model.ScopeFederal,
		SourceURL:   "https://example.org/polls/1",
		Results: []model.PollResult{
			{PartyID: 1, Percentage: 31.5},
			{PartyID: 2, Percentage: 15},
		},
	}
	outcome, err := st.UpsertCleanPoll(context.Background(), poll)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, int64(7), poll.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertCleanPoll_Unchanged(t *testing.T) {
	mock, st := newMockPostgres(t)

	publish := time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM clean_polls").
		WithArgs(anyArgs(4)...).
		WillReturnRows(pgxmock.NewRows(pgCleanCols).
			AddRow(int64(7), nil, publish, nil, nil, nil,
				int64(0), int64(0), nil, nil, "federal", "https://example.org/polls/1"))
	mock.ExpectQuery("SELECT party_id, percentage, out_of_range FROM poll_results").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"party_id", "percentage", "out_of_range"}).
			AddRow(int64(2), 15.0, false))
	mock.ExpectRollback()

	poll := &model.CleanPoll{
		PublishDate: publish,
		Scope:       model.ScopeFederal,
		SourceURL:   "https://example.org/polls/1",
		Results:     []model.PollResult{{PartyID: 2, Percentage: 15}},
	}
	outcome, err := st.UpsertCleanPoll(context.Background(), poll)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, int64(7), poll.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertCleanPoll_Updated(t *testing.T) {
	mock, st := newMockPostgres(t)

	publish := time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM clean_polls").
		WithArgs(anyArgs(4)...).
		WillReturnRows(pgxmock.NewRows(pgCleanCols).
			AddRow(int64(7), nil, publish, nil, nil, nil,
				int64(0), int64(0), nil, nil, "federal", "https://example.org/polls/1"))
	mock.ExpectQuery("SELECT party_id, percentage, out_of_range FROM poll_results").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"party_id", "percentage", "out_of_range"}).
			AddRow(int64(2), 15.0, false))
	mock.ExpectExec("UPDATE clean_polls SET").
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM poll_results").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO poll_results").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	poll := &model.CleanPoll{
		PublishDate: publish,
		Scope:       model.ScopeFederal,
		SourceURL:   "https://example.org/polls/1",
		Results:     []model.PollResult{{PartyID: 2, Percentage: 16.5}},
	}
	outcome, err := st.UpsertCleanPoll(context.Background(), poll)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertCleanPoll_LostInsertRaceRetries(t *testing.T) {
	mock, st := newMockPostgres(t)

	publish := time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC)

	// First attempt: key absent, but another writer commits it first.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM clean_polls").
		WithArgs(anyArgs(4)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO clean_polls").
		WithArgs(anyArgs(11)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "clean_polls_publish_date_institute_id_scope_provider_id_key"})
	mock.ExpectRollback()

	// Retry re-evaluates against the committed row and finds it identical.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM clean_polls").
		WithArgs(anyArgs(4)...).
		WillReturnRows(pgxmock.NewRows(pgCleanCols).
			AddRow(int64(7), nil, publish, nil, nil, nil,
				int64(0), int64(0), nil, nil, "federal", "https://example.org/polls/1"))
	mock.ExpectQuery("SELECT party_id, percentage, out_of_range FROM poll_results").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"party_id", "percentage", "out_of_range"}).
			AddRow(int64(2), 15.0, false))
	mock.ExpectRollback()

	poll := &model.CleanPoll{
		PublishDate: publish,
		Scope:       model.ScopeFederal,
		SourceURL:   "https://example.org/polls/1",
		Results:     []model.PollResult{{PartyID: 2, Percentage: 15}},
	}
	outcome, err := st.UpsertCleanPoll(context.Background(), poll)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, int64(7), poll.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertCleanPoll_FailureWrapsSentinel(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM clean_polls").
		WithArgs(anyArgs(4)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO clean_polls").
		WithArgs(anyArgs(11)...).
		WillReturnError(eris.New("connection reset"))
	mock.ExpectRollback()

	poll := &model.CleanPoll{
		PublishDate: time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC),
		Scope:       model.ScopeFederal,
		Results:     []model.PollResult{{PartyID: 2, Percentage: 15}},
	}
	_, err := st.UpsertCleanPoll(context.Background(), poll)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUpsertFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RunLifecycle(t *testing.T) {
	mock, st := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO pipeline_runs").
		WithArgs(pgxmock.AnyArg(), "run", "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := st.StartRun(ctx, "run")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	mock.ExpectExec("UPDATE pipeline_runs SET").
		WithArgs("complete", 5, 3, 1, 1, 0, 0, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = st.CompleteRun(ctx, id, model.RunSummary{Processed: 5, Inserted: 3, Updated: 1, Unchanged: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailRun(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectExec("UPDATE pipeline_runs SET").
		WithArgs("failed", "store unavailable", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.FailRun(context.Background(), "run-1", "store unavailable")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TableCounts(t *testing.T) {
	mock, st := newMockPostgres(t)

	for range countedTables {
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	}

	counts, err := st.TableCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["raw_polls"])
	assert.Len(t, counts, len(countedTables))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BulkImportRaw_Empty(t *testing.T) {
	_, st := newMockPostgres(t)

	n, err := st.BulkImportRaw(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgres_BulkImportRaw(t *testing.T) {
	mock, st := newMockPostgres(t)

	mock.ExpectCopyFrom(pgx.Identifier{"raw_polls"}, rawInsertColumns).
		WillReturnResult(2)

	retrieved := time.Date(2024, 6, 24, 12, 0, 0, 0, time.UTC)
	polls := []model.RawPoll{
		{PublishDateText: "24.06.2024", RetrievedAt: retrieved},
		{PublishDateText: "25.06.2024", RetrievedAt: retrieved},
	}
	n, err := st.BulkImportRaw(context.Background(), polls)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
