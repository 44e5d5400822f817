package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per-connection; keep the pool at one so they stick.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_polls (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	publish_date_text  TEXT NOT NULL DEFAULT '',
	survey_period_text TEXT NOT NULL DEFAULT '',
	respondents_text   TEXT NOT NULL DEFAULT '',
	party_results_text TEXT NOT NULL DEFAULT '',
	institute_text     TEXT NOT NULL DEFAULT '',
	provider_text      TEXT NOT NULL DEFAULT '',
	scope_text         TEXT NOT NULL DEFAULT '',
	election_text      TEXT NOT NULL DEFAULT '',
	method_text        TEXT NOT NULL DEFAULT '',
	source_url         TEXT NOT NULL DEFAULT '',
	retrieved_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_poll_state (
	raw_id     INTEGER PRIMARY KEY REFERENCES raw_polls(id),
	status     TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS clean_polls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	raw_id       INTEGER,
	publish_date TEXT NOT NULL,
	survey_start TEXT,
	survey_end   TEXT,
	respondents  INTEGER,
	institute_id INTEGER NOT NULL DEFAULT 0,
	provider_id  INTEGER NOT NULL DEFAULT 0,
	election_id  INTEGER,
	method_id    INTEGER,
	scope        TEXT NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	updated_at   TEXT NOT NULL,
	UNIQUE (publish_date, institute_id, scope, provider_id)
);

CREATE TABLE IF NOT EXISTS poll_results (
	poll_id      INTEGER NOT NULL REFERENCES clean_polls(id) ON DELETE CASCADE,
	party_id     INTEGER NOT NULL,
	percentage   REAL NOT NULL,
	out_of_range INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (poll_id, party_id)
);

CREATE TABLE IF NOT EXISTS institutes (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	short_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS parties (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	short_name TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS providers (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS methods (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS elections (
	id            INTEGER PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	scope         TEXT NOT NULL,
	election_date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_aliases (
	kind      TEXT NOT NULL,
	entity_id INTEGER NOT NULL,
	text      TEXT NOT NULL,
	UNIQUE (kind, text)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	processed    INTEGER NOT NULL DEFAULT 0,
	inserted     INTEGER NOT NULL DEFAULT 0,
	updated      INTEGER NOT NULL DEFAULT 0,
	unchanged    INTEGER NOT NULL DEFAULT 0,
	rejected     INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_raw_polls_source ON raw_polls(source_url);
CREATE INDEX IF NOT EXISTS idx_clean_polls_publish ON clean_polls(publish_date);
CREATE INDEX IF NOT EXISTS idx_poll_results_party ON poll_results(party_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Raw polls ---

func (s *SQLiteStore) InsertRawPolls(ctx context.Context, polls []model.RawPoll) ([]int64, error) {
	if len(polls) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin raw insert")
	}
	defer tx.Rollback() //nolint:errcheck

	ids := make([]int64, 0, len(polls))
	for _, p := range polls {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO raw_polls (publish_date_text, survey_period_text, respondents_text,
				party_results_text, institute_text, provider_text, scope_text, election_text,
				method_text, source_url, retrieved_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PublishDateText, p.SurveyPeriodText, p.RespondentsText,
			p.PartyResultsText, p.InstituteText, p.ProviderText, p.ScopeText, p.ElectionText,
			p.MethodText, p.SourceURL, stamp(p.RetrievedAt),
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert raw poll")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: raw poll id")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit raw insert")
	}
	return ids, nil
}

const rawColumns = `id, publish_date_text, survey_period_text, respondents_text,
	party_results_text, institute_text, provider_text, scope_text, election_text,
	method_text, source_url, retrieved_at`

func (s *SQLiteStore) GetRawPoll(ctx context.Context, id int64) (*model.RawPoll, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rawColumns+` FROM raw_polls WHERE id = ?`, id)
	p, err := scanRawPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get raw poll %d", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListRawPolls(ctx context.Context, f RawFilter) ([]model.RawPoll, error) {
	var (
		where []string
		args  []any
	)
	if len(f.IDs) > 0 {
		where = append(where, `id IN (`+placeholders(len(f.IDs))+`)`)
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.Source != "" {
		where = append(where, `source_url = ?`)
		args = append(args, f.Source)
	}

	q := `SELECT ` + rawColumns + ` FROM raw_polls`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	if f.Limit > 0 {
		q += ` ORDER BY retrieved_at DESC, id DESC LIMIT ?`
		args = append(args, f.Limit)
	} else {
		q += ` ORDER BY id`
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw polls")
	}
	defer rows.Close()
	return collectRawPolls(rows)
}

func (s *SQLiteStore) ListUnprocessedRaw(ctx context.Context, limit int) ([]model.RawPoll, error) {
	q := `SELECT ` + rawColumns + `
		FROM raw_polls r
		LEFT JOIN raw_poll_state st ON st.raw_id = r.id
		WHERE st.raw_id IS NULL OR st.status != ?
		ORDER BY r.id`
	args := []any{string(model.RecordUpserted)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unprocessed raw")
	}
	defer rows.Close()
	return collectRawPolls(rows)
}

func (s *SQLiteStore) MarkRawStatus(ctx context.Context, rawID int64, status model.RecordStatus, note string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_poll_state (raw_id, status, note, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (raw_id) DO UPDATE SET status = excluded.status, note = excluded.note,
			updated_at = excluded.updated_at`,
		rawID, string(status), note, stamp(time.Now().UTC()),
	)
	return eris.Wrapf(err, "sqlite: mark raw %d %s", rawID, status)
}

// --- Clean polls ---

func (s *SQLiteStore) GetCleanByKey(ctx context.Context, key model.IdentityKey) (*model.CleanPoll, error) {
	return s.cleanByKey(ctx, s.db, key)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const cleanColumns = `id, raw_id, publish_date, survey_start, survey_end, respondents,
	institute_id, provider_id, election_id, method_id, scope, source_url`

func (s *SQLiteStore) cleanByKey(ctx context.Context, q querier, key model.IdentityKey) (*model.CleanPoll, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+cleanColumns+` FROM clean_polls
		 WHERE publish_date = ? AND institute_id = ? AND scope = ? AND provider_id = ?`,
		key.PublishDate, key.InstituteID, string(key.Scope), key.ProviderID)

	p, err := scanCleanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: clean poll by key %s", key)
	}

	if err := s.loadResults(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) loadResults(ctx context.Context, q querier, p *model.CleanPoll) error {
	rows, err := q.QueryContext(ctx,
		`SELECT party_id, percentage, out_of_range FROM poll_results WHERE poll_id = ? ORDER BY party_id`,
		p.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: results for poll %d", p.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.PollResult
		if err := rows.Scan(&r.PartyID, &r.Percentage, &r.OutOfRange); err != nil {
			return eris.Wrap(err, "sqlite: scan result")
		}
		p.Results = append(p.Results, r)
	}
	return rows.Err()
}

// UpsertCleanPoll implements the dedup policy inside one transaction: insert
// when the identity key is absent, nothing when content is identical, and an
// all-or-nothing replace of the row plus its full result set otherwise.
//
// A writer in another process can claim the key between our read and insert.
// The UNIQUE constraint turns that into a violation here, and one retry
// re-evaluates against the now-committed row.
func (s *SQLiteStore) UpsertCleanPoll(ctx context.Context, poll *model.CleanPoll) (UpsertOutcome, error) {
	if err := poll.Validate(); err != nil {
		return "", eris.Wrap(err, "sqlite: upsert")
	}

	outcome, err := s.upsertOnce(ctx, poll)
	if isUniqueViolation(err) {
		outcome, err = s.upsertOnce(ctx, poll)
	}
	if err != nil {
		return "", eris.Wrapf(model.ErrUpsertFailed, "%v", err)
	}
	return outcome, nil
}

func (s *SQLiteStore) upsertOnce(ctx context.Context, poll *model.CleanPoll) (UpsertOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	key := poll.Key()
	existing, err := s.cleanByKey(ctx, tx, key)
	if err != nil {
		return "", err
	}

	switch {
	case existing == nil:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO clean_polls (raw_id, publish_date, survey_start, survey_end, respondents,
				institute_id, provider_id, election_id, method_id, scope, source_url, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			poll.RawID, key.PublishDate, dateOrNil(poll.SurveyStart), dateOrNil(poll.SurveyEnd),
			poll.Respondents, key.InstituteID, key.ProviderID, poll.ElectionID, poll.MethodID,
			string(poll.Scope), poll.SourceURL, stamp(time.Now().UTC()),
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: insert clean poll %s", key)
		}
		poll.ID, err = res.LastInsertId()
		if err != nil {
			return "", eris.Wrap(err, "sqlite: clean poll id")
		}
		if err := insertResults(ctx, tx, poll.ID, poll.Results); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", eris.Wrap(err, "sqlite: commit upsert")
		}
		return OutcomeInserted, nil

	case existing.EqualContent(poll):
		// Idempotent re-ingestion: zero writes.
		poll.ID = existing.ID
		return OutcomeUnchanged, nil

	default:
		poll.ID = existing.ID
		_, err := tx.ExecContext(ctx,
			`UPDATE clean_polls SET raw_id = ?, survey_start = ?, survey_end = ?, respondents = ?,
				election_id = ?, method_id = ?, source_url = ?, updated_at = ?
			 WHERE id = ?`,
			poll.RawID, dateOrNil(poll.SurveyStart), dateOrNil(poll.SurveyEnd), poll.Respondents,
			poll.ElectionID, poll.MethodID, poll.SourceURL, stamp(time.Now().UTC()), existing.ID,
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: update clean poll %s", key)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM poll_results WHERE poll_id = ?`, existing.ID); err != nil {
			return "", eris.Wrapf(err, "sqlite: clear results for poll %d", existing.ID)
		}
		if err := insertResults(ctx, tx, existing.ID, poll.Results); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", eris.Wrap(err, "sqlite: commit upsert")
		}
		return OutcomeUpdated, nil
	}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func insertResults(ctx context.Context, tx *sql.Tx, pollID int64, results []model.PollResult) error {
	for _, r := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO poll_results (poll_id, party_id, percentage, out_of_range) VALUES (?, ?, ?, ?)`,
			pollID, r.PartyID, r.Percentage, r.OutOfRange,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert result poll=%d party=%d", pollID, r.PartyID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListCleanPolls(ctx context.Context, f CleanFilter) ([]model.CleanPoll, error) {
	var (
		where []string
		args  []any
	)
	if f.Scope != "" {
		where = append(where, `scope = ?`)
		args = append(args, string(f.Scope))
	}
	appendEq := func(col string, v *int64) {
		if v != nil {
			where = append(where, col+` = ?`)
			args = append(args, *v)
		}
	}
	appendEq("institute_id", f.InstituteID)
	appendEq("provider_id", f.ProviderID)
	appendEq("election_id", f.ElectionID)
	appendEq("method_id", f.MethodID)
	if f.PublishedFrom != nil {
		where = append(where, `publish_date >= ?`)
		args = append(args, f.PublishedFrom.Format("2006-01-02"))
	}
	if f.PublishedTo != nil {
		where = append(where, `publish_date <= ?`)
		args = append(args, f.PublishedTo.Format("2006-01-02"))
	}

	q := `SELECT ` + cleanColumns + ` FROM clean_polls`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY publish_date DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clean polls")
	}
	defer rows.Close()

	var polls []model.CleanPoll
	for rows.Next() {
		p, err := scanCleanPollRows(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clean poll")
		}
		polls = append(polls, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list clean polls")
	}

	for i := range polls {
		if err := s.loadResults(ctx, s.db, &polls[i]); err != nil {
			return nil, err
		}
	}
	return polls, nil
}

func (s *SQLiteStore) ListResultRows(ctx context.Context, f ResultFilter) ([]ResultRow, error) {
	q := `SELECT r.poll_id, p.publish_date, p.scope, p.institute_id, r.party_id, r.percentage, r.out_of_range
		FROM poll_results r
		JOIN clean_polls p ON p.id = r.poll_id`
	var args []any
	if f.PartyID != nil {
		q += ` WHERE r.party_id = ?`
		args = append(args, *f.PartyID)
	}
	q += ` ORDER BY p.publish_date DESC, r.poll_id DESC, r.party_id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list result rows")
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var (
			r           ResultRow
			publishDate string
			scope       string
			instituteID int64
		)
		if err := rows.Scan(&r.PollID, &publishDate, &scope, &instituteID, &r.PartyID, &r.Percentage, &r.OutOfRange); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result row")
		}
		r.PublishDate, err = parseDate(publishDate)
		if err != nil {
			return nil, err
		}
		r.Scope = model.Scope(scope)
		r.InstituteID = idPtr(instituteID)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawPoll(row rowScanner) (*model.RawPoll, error) {
	var (
		p           model.RawPoll
		retrievedAt string
	)
	err := row.Scan(&p.ID, &p.PublishDateText, &p.SurveyPeriodText, &p.RespondentsText,
		&p.PartyResultsText, &p.InstituteText, &p.ProviderText, &p.ScopeText, &p.ElectionText,
		&p.MethodText, &p.SourceURL, &retrievedAt)
	if err != nil {
		return nil, err
	}
	p.RetrievedAt, err = parseStamp(retrievedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectRawPolls(rows *sql.Rows) ([]model.RawPoll, error) {
	var polls []model.RawPoll
	for rows.Next() {
		p, err := scanRawPoll(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw poll")
		}
		polls = append(polls, *p)
	}
	return polls, rows.Err()
}

func scanCleanPoll(row *sql.Row) (*model.CleanPoll, error) {
	return scanCleanPollFrom(row)
}

func scanCleanPollRows(rows *sql.Rows) (*model.CleanPoll, error) {
	return scanCleanPollFrom(rows)
}

func scanCleanPollFrom(row rowScanner) (*model.CleanPoll, error) {
	var (
		p                       model.CleanPoll
		publishDate             string
		surveyStart, surveyEnd  sql.NullString
		instituteID, providerID int64
		scope                   string
	)
	err := row.Scan(&p.ID, &p.RawID, &publishDate, &surveyStart, &surveyEnd, &p.Respondents,
		&instituteID, &providerID, &p.ElectionID, &p.MethodID, &scope, &p.SourceURL)
	if err != nil {
		return nil, err
	}

	if p.PublishDate, err = parseDate(publishDate); err != nil {
		return nil, err
	}
	if p.SurveyStart, err = datePtr(surveyStart); err != nil {
		return nil, err
	}
	if p.SurveyEnd, err = datePtr(surveyEnd); err != nil {
		return nil, err
	}
	p.InstituteID = idPtr(instituteID)
	p.ProviderID = idPtr(providerID)
	p.Scope = model.Scope(scope)
	return &p, nil
}

// --- Reference data ---

func (s *SQLiteStore) ReferenceSet(ctx context.Context) (*model.ReferenceSet, error) {
	set := &model.ReferenceSet{}

	err := s.queryEach(ctx, `SELECT id, name, short_name FROM institutes ORDER BY id`, func(rows *sql.Rows) error {
		var e model.Institute
		if err := rows.Scan(&e.ID, &e.Name, &e.ShortName); err != nil {
			return err
		}
		set.Institutes = append(set.Institutes, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.queryEach(ctx, `SELECT id, name, short_name, color FROM parties ORDER BY id`, func(rows *sql.Rows) error {
		var e model.Party
		if err := rows.Scan(&e.ID, &e.Name, &e.ShortName, &e.Color); err != nil {
			return err
		}
		set.Parties = append(set.Parties, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.queryEach(ctx, `SELECT id, name FROM providers ORDER BY id`, func(rows *sql.Rows) error {
		var e model.Provider
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return err
		}
		set.Providers = append(set.Providers, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.queryEach(ctx, `SELECT id, name FROM methods ORDER BY id`, func(rows *sql.Rows) error {
		var e model.Method
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return err
		}
		set.Methods = append(set.Methods, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.queryEach(ctx, `SELECT id, name, scope, election_date FROM elections ORDER BY id`, func(rows *sql.Rows) error {
		var (
			e  model.Election
			d  string
			sc string
		)
		if err := rows.Scan(&e.ID, &e.Name, &sc, &d); err != nil {
			return err
		}
		date, err := parseDate(d)
		if err != nil {
			return err
		}
		e.Scope = model.Scope(sc)
		e.Date = date
		set.Elections = append(set.Elections, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.queryEach(ctx, `SELECT kind, entity_id, text FROM entity_aliases ORDER BY kind, text`, func(rows *sql.Rows) error {
		var (
			a    model.Alias
			kind string
		)
		if err := rows.Scan(&kind, &a.EntityID, &a.Text); err != nil {
			return err
		}
		a.Kind = model.EntityKind(kind)
		set.Aliases = append(set.Aliases, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}

func (s *SQLiteStore) queryEach(ctx context.Context, q string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s", q)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return eris.Wrapf(err, "sqlite: scan: %s", q)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) ReplaceReferenceSet(ctx context.Context, set *model.ReferenceSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reference replace")
	}
	defer tx.Rollback() //nolint:errcheck

	upsert := func(q string, args ...any) error {
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	}

	for _, e := range set.Institutes {
		if err := upsert(`INSERT INTO institutes (id, name, short_name) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, short_name = excluded.short_name`,
			e.ID, e.Name, e.ShortName); err != nil {
			return eris.Wrapf(err, "sqlite: upsert institute %d", e.ID)
		}
	}
	for _, e := range set.Parties {
		if err := upsert(`INSERT INTO parties (id, name, short_name, color) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, short_name = excluded.short_name, color = excluded.color`,
			e.ID, e.Name, e.ShortName, e.Color); err != nil {
			return eris.Wrapf(err, "sqlite: upsert party %d", e.ID)
		}
	}
	for _, e := range set.Providers {
		if err := upsert(`INSERT INTO providers (id, name) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name`, e.ID, e.Name); err != nil {
			return eris.Wrapf(err, "sqlite: upsert provider %d", e.ID)
		}
	}
	for _, e := range set.Methods {
		if err := upsert(`INSERT INTO methods (id, name) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name`, e.ID, e.Name); err != nil {
			return eris.Wrapf(err, "sqlite: upsert method %d", e.ID)
		}
	}
	for _, e := range set.Elections {
		if err := upsert(`INSERT INTO elections (id, name, scope, election_date) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, scope = excluded.scope, election_date = excluded.election_date`,
			e.ID, e.Name, string(e.Scope), e.Date.Format("2006-01-02")); err != nil {
			return eris.Wrapf(err, "sqlite: upsert election %d", e.ID)
		}
	}
	for _, a := range set.Aliases {
		if err := upsert(`INSERT INTO entity_aliases (kind, entity_id, text) VALUES (?, ?, ?)
			ON CONFLICT (kind, text) DO UPDATE SET entity_id = excluded.entity_id`,
			string(a.Kind), a.EntityID, a.Text); err != nil {
			return eris.Wrapf(err, "sqlite: upsert alias %q", a.Text)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit reference replace")
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, mode string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		id, mode, string(model.RunRunning), stamp(time.Now().UTC()),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, sum model.RunSummary) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, completed_at = ?, processed = ?, inserted = ?,
			updated = ?, unchanged = ?, rejected = ?, failed = ? WHERE id = ?`,
		string(model.RunComplete), stamp(time.Now().UTC()),
		sum.Processed, sum.Inserted, sum.Updated, sum.Unchanged, sum.Rejected, sum.Failed, runID,
	)
	return eris.Wrapf(err, "sqlite: complete run %s", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunFailed), stamp(time.Now().UTC()), errMsg, runID,
	)
	return eris.Wrapf(err, "sqlite: fail run %s", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	q := `SELECT id, mode, status, started_at, completed_at, processed, inserted, updated,
		unchanged, rejected, failed, error
		FROM pipeline_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e           model.RunEntry
			status      string
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Mode, &status, &startedAt, &completedAt,
			&e.Summary.Processed, &e.Summary.Inserted, &e.Summary.Updated,
			&e.Summary.Unchanged, &e.Summary.Rejected, &e.Summary.Failed, &e.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		e.Status = model.RunStatus(status)
		if e.StartedAt, err = parseStamp(startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t, err := parseStamp(completedAt.String)
			if err != nil {
				return nil, err
			}
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Operational ---

var countedTables = []string{
	"raw_polls", "clean_polls", "poll_results",
	"institutes", "parties", "providers", "methods", "elections",
	"entity_aliases", "pipeline_runs",
}

func (s *SQLiteStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(countedTables))
	for _, t := range countedTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", t)
		}
		counts[t] = n
	}
	return counts, nil
}

// --- Value helpers ---

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, eris.Wrapf(err, "sqlite: parse timestamp %q", s)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	return t, eris.Wrapf(err, "sqlite: parse date %q", s)
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func datePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// idPtr maps the stored zero placeholder back to "unknown".
func idPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
