package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/db"
	"github.com/wahldaten/poll-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_polls (
	id                 BIGSERIAL PRIMARY KEY,
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
	retrieved_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_poll_state (
	raw_id     BIGINT PRIMARY KEY REFERENCES raw_polls(id),
	status     TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS clean_polls (
	id           BIGSERIAL PRIMARY KEY,
	raw_id       BIGINT,
	publish_date DATE NOT NULL,
	survey_start DATE,
	survey_end   DATE,
	respondents  INTEGER,
	institute_id BIGINT NOT NULL DEFAULT 0,
	provider_id  BIGINT NOT NULL DEFAULT 0,
	election_id  BIGINT,
	method_id    BIGINT,
	scope        TEXT NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (publish_date, institute_id, scope, provider_id)
);

CREATE TABLE IF NOT EXISTS poll_results (
	poll_id      BIGINT NOT NULL REFERENCES clean_polls(id) ON DELETE CASCADE,
	party_id     BIGINT NOT NULL,
	percentage   DOUBLE PRECISION NOT NULL,
	out_of_range BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (poll_id, party_id)
);

CREATE TABLE IF NOT EXISTS institutes (
	id         BIGINT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	short_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS parties (
	id         BIGINT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	short_name TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS providers (
	id   BIGINT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS methods (
	id   BIGINT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS elections (
	id            BIGINT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	scope         TEXT NOT NULL,
	election_date DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_aliases (
	kind      TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	text      TEXT NOT NULL,
	UNIQUE (kind, text)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Raw polls ---

var rawInsertColumns = []string{
	"publish_date_text", "survey_period_text", "respondents_text", "party_results_text",
	"institute_text", "provider_text", "scope_text", "election_text", "method_text",
	"source_url", "retrieved_at",
}

func (s *PostgresStore) InsertRawPolls(ctx context.Context, polls []model.RawPoll) ([]int64, error) {
	if len(polls) == 0 {
		return nil, nil
	}

	// COPY is tempting here, but it cannot return the generated ids the
	// pipeline needs for status tracking.
	ids := make([]int64, 0, len(polls))
	for _, p := range polls {
		var id int64
		err := s.pool.QueryRow(ctx,
			`INSERT INTO raw_polls (publish_date_text, survey_period_text, respondents_text,
				party_results_text, institute_text, provider_text, scope_text, election_text,
				method_text, source_url, retrieved_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
			p.PublishDateText, p.SurveyPeriodText, p.RespondentsText,
			p.PartyResultsText, p.InstituteText, p.ProviderText, p.ScopeText, p.ElectionText,
			p.MethodText, p.SourceURL, p.RetrievedAt.UTC(),
		).Scan(&id)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert raw poll")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BulkImportRaw COPYs raw polls without returning ids, for large scraper
// dumps where per-row ids are not needed.
func (s *PostgresStore) BulkImportRaw(ctx context.Context, polls []model.RawPoll) (int64, error) {
	rows := make([][]any, 0, len(polls))
	for _, p := range polls {
		rows = append(rows, []any{
			p.PublishDateText, p.SurveyPeriodText, p.RespondentsText, p.PartyResultsText,
			p.InstituteText, p.ProviderText, p.ScopeText, p.ElectionText, p.MethodText,
			p.SourceURL, p.RetrievedAt.UTC(),
		})
	}
	return db.CopyFrom(ctx, s.pool, "raw_polls", rawInsertColumns, rows)
}

const pgRawColumns = `id, publish_date_text, survey_period_text, respondents_text,
	party_results_text, institute_text, provider_text, scope_text, election_text,
	method_text, source_url, retrieved_at`

func (s *PostgresStore) GetRawPoll(ctx context.Context, id int64) (*model.RawPoll, error) {
	var p model.RawPoll
	err := s.pool.QueryRow(ctx,
		`SELECT `+pgRawColumns+` FROM raw_polls WHERE id = $1`, id,
	).Scan(&p.ID, &p.PublishDateText, &p.SurveyPeriodText, &p.RespondentsText,
		&p.PartyResultsText, &p.InstituteText, &p.ProviderText, &p.ScopeText, &p.ElectionText,
		&p.MethodText, &p.SourceURL, &p.RetrievedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get raw poll %d", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListRawPolls(ctx context.Context, f RawFilter) ([]model.RawPoll, error) {
	q := `SELECT ` + pgRawColumns + ` FROM raw_polls`
	var args []any
	switch {
	case len(f.IDs) > 0:
		args = append(args, f.IDs)
		q += ` WHERE id = ANY($1) ORDER BY id`
	case f.Source != "":
		args = append(args, f.Source)
		q += ` WHERE source_url = $1 ORDER BY id`
	default:
		q += ` ORDER BY retrieved_at DESC, id DESC`
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw polls")
	}
	defer rows.Close()
	return collectPgRaw(rows)
}

func (s *PostgresStore) ListUnprocessedRaw(ctx context.Context, limit int) ([]model.RawPoll, error) {
	q := `SELECT ` + pgRawColumns + `
		FROM raw_polls r
		LEFT JOIN raw_poll_state st ON st.raw_id = r.id
		WHERE st.raw_id IS NULL OR st.status != $1
		ORDER BY r.id`
	args := []any{string(model.RecordUpserted)}
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $2`
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unprocessed raw")
	}
	defer rows.Close()
	return collectPgRaw(rows)
}

func collectPgRaw(rows pgx.Rows) ([]model.RawPoll, error) {
	var polls []model.RawPoll
	for rows.Next() {
		var p model.RawPoll
		if err := rows.Scan(&p.ID, &p.PublishDateText, &p.SurveyPeriodText, &p.RespondentsText,
			&p.PartyResultsText, &p.InstituteText, &p.ProviderText, &p.ScopeText, &p.ElectionText,
			&p.MethodText, &p.SourceURL, &p.RetrievedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw poll")
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

func (s *PostgresStore) MarkRawStatus(ctx context.Context, rawID int64, status model.RecordStatus, note string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_poll_state (raw_id, status, note, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (raw_id) DO UPDATE SET status = EXCLUDED.status, note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at`,
		rawID, string(status), note,
	)
	return eris.Wrapf(err, "postgres: mark raw %d %s", rawID, status)
}

// --- Clean polls ---

const pgCleanColumns = `id, raw_id, publish_date, survey_start, survey_end, respondents,
	institute_id, provider_id, election_id, method_id, scope, source_url`

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) GetCleanByKey(ctx context.Context, key model.IdentityKey) (*model.CleanPoll, error) {
	return cleanByKeyPg(ctx, s.pool, key)
}

func cleanByKeyPg(ctx context.Context, q pgQuerier, key model.IdentityKey) (*model.CleanPoll, error) {
	publishDate, err := time.Parse("2006-01-02", key.PublishDate)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: bad identity date %q", key.PublishDate)
	}

	p, err := scanPgClean(q.QueryRow(ctx,
		`SELECT `+pgCleanColumns+` FROM clean_polls
		 WHERE publish_date = $1 AND institute_id = $2 AND scope = $3 AND provider_id = $4`,
		publishDate, key.InstituteID, string(key.Scope), key.ProviderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: clean poll by key %s", key)
	}

	if err := loadResultsPg(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

func scanPgClean(row pgx.Row) (*model.CleanPoll, error) {
	var (
		p                       model.CleanPoll
		instituteID, providerID int64
		scope                   string
	)
	err := row.Scan(&p.ID, &p.RawID, &p.PublishDate, &p.SurveyStart, &p.SurveyEnd, &p.Respondents,
		&instituteID, &providerID, &p.ElectionID, &p.MethodID, &scope, &p.SourceURL)
	if err != nil {
		return nil, err
	}
	p.InstituteID = idPtr(instituteID)
	p.ProviderID = idPtr(providerID)
	p.Scope = model.Scope(scope)
	return &p, nil
}

func loadResultsPg(ctx context.Context, q pgQuerier, p *model.CleanPoll) error {
	rows, err := q.Query(ctx,
		`SELECT party_id, percentage, out_of_range FROM poll_results WHERE poll_id = $1 ORDER BY party_id`,
		p.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: results for poll %d", p.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.PollResult
		if err := rows.Scan(&r.PartyID, &r.Percentage, &r.OutOfRange); err != nil {
			return eris.Wrap(err, "postgres: scan result")
		}
		p.Results = append(p.Results, r)
	}
	return rows.Err()
}

// UpsertCleanPoll mirrors the SQLite implementation: one transaction, insert
// when absent, zero writes when identical, wholesale replace when changed.
// A concurrent writer racing the read-then-insert loses the UNIQUE constraint
// and gets one retry against the now-committed row.
func (s *PostgresStore) UpsertCleanPoll(ctx context.Context, poll *model.CleanPoll) (UpsertOutcome, error) {
	if err := poll.Validate(); err != nil {
		return "", eris.Wrap(err, "postgres: upsert")
	}

	outcome, err := s.upsertOnce(ctx, poll)
	if isUniqueViolationPg(err) {
		outcome, err = s.upsertOnce(ctx, poll)
	}
	if err != nil {
		return "", eris.Wrapf(model.ErrUpsertFailed, "%v", err)
	}
	return outcome, nil
}

func (s *PostgresStore) upsertOnce(ctx context.Context, poll *model.CleanPoll) (UpsertOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	key := poll.Key()
	existing, err := cleanByKeyPg(ctx, tx, key)
	if err != nil {
		return "", err
	}

	switch {
	case existing == nil:
		err := tx.QueryRow(ctx,
			`INSERT INTO clean_polls (raw_id, publish_date, survey_start, survey_end, respondents,
				institute_id, provider_id, election_id, method_id, scope, source_url, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now()) RETURNING id`,
			poll.RawID, poll.PublishDate, poll.SurveyStart, poll.SurveyEnd, poll.Respondents,
			key.InstituteID, key.ProviderID, poll.ElectionID, poll.MethodID,
			string(poll.Scope), poll.SourceURL,
		).Scan(&poll.ID)
		if err != nil {
			return "", eris.Wrapf(err, "postgres: insert clean poll %s", key)
		}
		if err := insertResultsPg(ctx, tx, poll.ID, poll.Results); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", eris.Wrap(err, "postgres: commit upsert")
		}
		return OutcomeInserted, nil

	case existing.EqualContent(poll):
		poll.ID = existing.ID
		return OutcomeUnchanged, nil

	default:
		poll.ID = existing.ID
		if _, err := tx.Exec(ctx,
			`UPDATE clean_polls SET raw_id = $1, survey_start = $2, survey_end = $3, respondents = $4,
				election_id = $5, method_id = $6, source_url = $7, updated_at = now()
			 WHERE id = $8`,
			poll.RawID, poll.SurveyStart, poll.SurveyEnd, poll.Respondents,
			poll.ElectionID, poll.MethodID, poll.SourceURL, existing.ID,
		); err != nil {
			return "", eris.Wrapf(err, "postgres: update clean poll %s", key)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM poll_results WHERE poll_id = $1`, existing.ID); err != nil {
			return "", eris.Wrapf(err, "postgres: clear results for poll %d", existing.ID)
		}
		if err := insertResultsPg(ctx, tx, existing.ID, poll.Results); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", eris.Wrap(err, "postgres: commit upsert")
		}
		return OutcomeUpdated, nil
	}
}

func isUniqueViolationPg(err error) bool {
	var pgErr *pgconn.PgError
	// 23505 is unique_violation.
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func insertResultsPg(ctx context.Context, tx pgx.Tx, pollID int64, results []model.PollResult) error {
	for _, r := range results {
		if _, err := tx.Exec(ctx,
			`INSERT INTO poll_results (poll_id, party_id, percentage, out_of_range) VALUES ($1, $2, $3, $4)`,
			pollID, r.PartyID, r.Percentage, r.OutOfRange,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert result poll=%d party=%d", pollID, r.PartyID)
		}
	}
	return nil
}

func (s *PostgresStore) ListCleanPolls(ctx context.Context, f CleanFilter) ([]model.CleanPoll, error) {
	q := `SELECT ` + pgCleanColumns + ` FROM clean_polls`
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, clause+strconv.Itoa(len(args)))
	}
	if f.Scope != "" {
		add(`scope = $`, string(f.Scope))
	}
	if f.InstituteID != nil {
		add(`institute_id = $`, *f.InstituteID)
	}
	if f.ProviderID != nil {
		add(`provider_id = $`, *f.ProviderID)
	}
	if f.ElectionID != nil {
		add(`election_id = $`, *f.ElectionID)
	}
	if f.MethodID != nil {
		add(`method_id = $`, *f.MethodID)
	}
	if f.PublishedFrom != nil {
		add(`publish_date >= $`, *f.PublishedFrom)
	}
	if f.PublishedTo != nil {
		add(`publish_date <= $`, *f.PublishedTo)
	}
	if len(where) > 0 {
		q += ` WHERE ` + joinAnd(where)
	}
	q += ` ORDER BY publish_date DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clean polls")
	}
	defer rows.Close()

	var polls []model.CleanPoll
	for rows.Next() {
		p, err := scanPgClean(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan clean poll")
		}
		polls = append(polls, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list clean polls")
	}

	for i := range polls {
		if err := loadResultsPg(ctx, s.pool, &polls[i]); err != nil {
			return nil, err
		}
	}
	return polls, nil
}

func (s *PostgresStore) ListResultRows(ctx context.Context, f ResultFilter) ([]ResultRow, error) {
	q := `SELECT r.poll_id, p.publish_date, p.scope, p.institute_id, r.party_id, r.percentage, r.out_of_range
		FROM poll_results r
		JOIN clean_polls p ON p.id = r.poll_id`
	var args []any
	if f.PartyID != nil {
		args = append(args, *f.PartyID)
		q += ` WHERE r.party_id = $1`
	}
	q += ` ORDER BY p.publish_date DESC, r.poll_id DESC, r.party_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list result rows")
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var (
			r           ResultRow
			scope       string
			instituteID int64
		)
		if err := rows.Scan(&r.PollID, &r.PublishDate, &scope, &instituteID, &r.PartyID, &r.Percentage, &r.OutOfRange); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result row")
		}
		r.Scope = model.Scope(scope)
		r.InstituteID = idPtr(instituteID)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Reference data ---

func (s *PostgresStore) ReferenceSet(ctx context.Context) (*model.ReferenceSet, error) {
	set := &model.ReferenceSet{}

	collect := func(q string, scan func(pgx.Rows) error) error {
		rows, err := s.pool.Query(ctx, q)
		if err != nil {
			return eris.Wrapf(err, "postgres: %s", q)
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return eris.Wrapf(err, "postgres: scan: %s", q)
			}
		}
		return rows.Err()
	}

	if err := collect(`SELECT id, name, short_name FROM institutes ORDER BY id`, func(rows pgx.Rows) error {
		var e model.Institute
		if err := rows.Scan(&e.ID, &e.Name, &e.ShortName); err != nil {
			return err
		}
		set.Institutes = append(set.Institutes, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := collect(`SELECT id, name, short_name, color FROM parties ORDER BY id`, func(rows pgx.Rows) error {
		var e model.Party
		if err := rows.Scan(&e.ID, &e.Name, &e.ShortName, &e.Color); err != nil {
			return err
		}
		set.Parties = append(set.Parties, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := collect(`SELECT id, name FROM providers ORDER BY id`, func(rows pgx.Rows) error {
		var e model.Provider
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return err
		}
		set.Providers = append(set.Providers, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := collect(`SELECT id, name FROM methods ORDER BY id`, func(rows pgx.Rows) error {
		var e model.Method
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return err
		}
		set.Methods = append(set.Methods, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := collect(`SELECT id, name, scope, election_date FROM elections ORDER BY id`, func(rows pgx.Rows) error {
		var (
			e  model.Election
			sc string
		)
		if err := rows.Scan(&e.ID, &e.Name, &sc, &e.Date); err != nil {
			return err
		}
		e.Scope = model.Scope(sc)
		set.Elections = append(set.Elections, e)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := collect(`SELECT kind, entity_id, text FROM entity_aliases ORDER BY kind, text`, func(rows pgx.Rows) error {
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
	}); err != nil {
		return nil, err
	}

	return set, nil
}

// ReplaceReferenceSet refreshes the reference tables: stale rows are
// removed, then the new set is bulk-upserted table by table.
func (s *PostgresStore) ReplaceReferenceSet(ctx context.Context, set *model.ReferenceSet) error {
	// Children before parents; entity_aliases references every kind.
	for _, table := range []string{"entity_aliases", "elections", "methods", "providers", "parties", "institutes"} {
		if _, err := s.pool.Exec(ctx, `DELETE FROM `+pgx.Identifier{table}.Sanitize()); err != nil {
			return eris.Wrapf(err, "postgres: clear %s", table)
		}
	}

	type upsertSpec struct {
		cfg  db.UpsertConfig
		rows [][]any
	}

	specs := []upsertSpec{
		{
			cfg: db.UpsertConfig{Table: "institutes", Columns: []string{"id", "name", "short_name"}, ConflictKeys: []string{"id"}},
		},
		{
			cfg: db.UpsertConfig{Table: "parties", Columns: []string{"id", "name", "short_name", "color"}, ConflictKeys: []string{"id"}},
		},
		{
			cfg: db.UpsertConfig{Table: "providers", Columns: []string{"id", "name"}, ConflictKeys: []string{"id"}},
		},
		{
			cfg: db.UpsertConfig{Table: "methods", Columns: []string{"id", "name"}, ConflictKeys: []string{"id"}},
		},
		{
			cfg: db.UpsertConfig{Table: "elections", Columns: []string{"id", "name", "scope", "election_date"}, ConflictKeys: []string{"id"}},
		},
		{
			cfg: db.UpsertConfig{Table: "entity_aliases", Columns: []string{"kind", "entity_id", "text"}, ConflictKeys: []string{"kind", "text"}},
		},
	}

	for _, e := range set.Institutes {
		specs[0].rows = append(specs[0].rows, []any{e.ID, e.Name, e.ShortName})
	}
	for _, e := range set.Parties {
		specs[1].rows = append(specs[1].rows, []any{e.ID, e.Name, e.ShortName, e.Color})
	}
	for _, e := range set.Providers {
		specs[2].rows = append(specs[2].rows, []any{e.ID, e.Name})
	}
	for _, e := range set.Methods {
		specs[3].rows = append(specs[3].rows, []any{e.ID, e.Name})
	}
	for _, e := range set.Elections {
		specs[4].rows = append(specs[4].rows, []any{e.ID, e.Name, string(e.Scope), e.Date})
	}
	for _, a := range set.Aliases {
		specs[5].rows = append(specs[5].rows, []any{string(a.Kind), a.EntityID, a.Text})
	}

	for _, spec := range specs {
		if _, err := db.BulkUpsert(ctx, s.pool, spec.cfg, spec.rows); err != nil {
			return err
		}
	}
	return nil
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, mode string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, mode, status, started_at) VALUES ($1, $2, $3, now())`,
		id, mode, string(model.RunRunning),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: start run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, sum model.RunSummary) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, completed_at = now(), processed = $2, inserted = $3,
			updated = $4, unchanged = $5, rejected = $6, failed = $7 WHERE id = $8`,
		string(model.RunComplete), sum.Processed, sum.Inserted, sum.Updated, sum.Unchanged,
		sum.Rejected, sum.Failed, runID,
	)
	return eris.Wrapf(err, "postgres: complete run %s", runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, completed_at = now(), error = $2 WHERE id = $3`,
		string(model.RunFailed), errMsg, runID,
	)
	return eris.Wrapf(err, "postgres: fail run %s", runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	q := `SELECT id, mode, status, started_at, completed_at, processed, inserted, updated,
		unchanged, rejected, failed, error
		FROM pipeline_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $1`
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e      model.RunEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.Mode, &status, &e.StartedAt, &e.CompletedAt,
			&e.Summary.Processed, &e.Summary.Inserted, &e.Summary.Updated,
			&e.Summary.Unchanged, &e.Summary.Rejected, &e.Summary.Failed, &e.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		e.Status = model.RunStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Operational ---

func (s *PostgresStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(countedTables))
	for _, t := range countedTables {
		var n int64
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgx.Identifier{t}.Sanitize()).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", t)
		}
		counts[t] = n
	}
	return counts, nil
}

// --- helpers ---

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
