package pgstore

import (
	"context"
	stderrors "errors"
	"time"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	key         UUID PRIMARY KEY,
	title       TEXT NOT NULL,
	company     TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	date_posted TEXT NOT NULL DEFAULT '',
	job_url     TEXT NOT NULL,
	job_type    TEXT NOT NULL DEFAULT '',
	is_remote   BOOLEAN NOT NULL DEFAULT FALSE,
	site        TEXT NOT NULL DEFAULT '',
	search_term TEXT NOT NULL DEFAULT '',
	extra       JSONB,
	first_seen  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsert = `
INSERT INTO ledger (key, title, company, location, date_posted, job_url, job_type, is_remote, site, search_term, extra, first_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (key) DO UPDATE SET
	title = EXCLUDED.title,
	company = EXCLUDED.company,
	location = EXCLUDED.location,
	date_posted = EXCLUDED.date_posted,
	job_url = EXCLUDED.job_url,
	job_type = EXCLUDED.job_type,
	is_remote = EXCLUDED.is_remote,
	site = EXCLUDED.site,
	search_term = EXCLUDED.search_term,
	extra = EXCLUDED.extra,
	updated_at = now()`

// undefinedColumn is the Postgres SQLSTATE for a missing column.
const undefinedColumn = "42703"

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Config("parsing ledger dsn", err)
	}
	config.MaxConns = 4
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Ledger("connecting to postgres ledger", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Ledger("postgres ledger unreachable", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Ledger("creating ledger table", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Load(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT title, company, location, date_posted, job_url, job_type, is_remote, site, search_term, extra, first_seen
FROM ledger ORDER BY first_seen, key`)
	if err != nil {
		if isUndefinedColumn(err) {
			return nil, errors.Filter("postgres ledger schema is missing columns", err)
		}
		return nil, errors.Ledger("querying ledger", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Entry, error) {
		var e ledger.Entry
		l := &e.Listing
		err := row.Scan(&l.Title, &l.Company, &l.Location, &l.DatePosted, &l.JobURL,
			&l.JobType, &l.IsRemote, &l.Site, &l.SearchTerm, &l.Extra, &e.FirstSeen)
		return e, err
	})
	if err != nil {
		if isUndefinedColumn(err) {
			return nil, errors.Filter("postgres ledger schema is missing columns", err)
		}
		return nil, errors.Ledger("reading ledger rows", err)
	}
	return entries, nil
}

// Append upserts entries in one transaction using a batch.
func (s *Store) Append(ctx context.Context, entries []ledger.Entry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			l := e.Listing
			var extra map[string]string
			if len(l.Extra) > 0 {
				extra = l.Extra
			}
			batch.Queue(upsert, e.Key(), l.Title, l.Company, l.Location, l.DatePosted, l.JobURL,
				l.JobType, l.IsRemote, l.Site, l.SearchTerm, extra, e.FirstSeen)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Ledger("upserting ledger entries", err)
		}
		return nil
	})
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == undefinedColumn
}
