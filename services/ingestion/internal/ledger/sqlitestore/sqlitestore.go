package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/ledger"
	"jobwatch/services/ingestion/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	key         TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	company     TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	date_posted TEXT NOT NULL DEFAULT '',
	job_url     TEXT NOT NULL,
	job_type    TEXT NOT NULL DEFAULT '',
	is_remote   INTEGER NOT NULL DEFAULT 0,
	site        TEXT NOT NULL DEFAULT '',
	search_term TEXT NOT NULL DEFAULT '',
	extra       TEXT NOT NULL DEFAULT '',
	first_seen  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);`

const upsert = `
INSERT INTO ledger (key, title, company, location, date_posted, job_url, job_type, is_remote, site, search_term, extra, first_seen, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	title = excluded.title,
	company = excluded.company,
	location = excluded.location,
	date_posted = excluded.date_posted,
	job_url = excluded.job_url,
	job_type = excluded.job_type,
	is_remote = excluded.is_remote,
	site = excluded.site,
	search_term = excluded.search_term,
	extra = excluded.extra,
	updated_at = excluded.updated_at;`

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Ledger("opening sqlite ledger", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Ledger("connecting to sqlite ledger", multierr.Append(err, db.Close()))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.Ledger("creating ledger table", multierr.Append(err, db.Close()))
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Load(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT title, company, location, date_posted, job_url, job_type, is_remote, site, search_term, extra, first_seen
FROM ledger ORDER BY first_seen, rowid`)
	if err != nil {
		if strings.Contains(err.Error(), "no such column") {
			return nil, errors.Filter("sqlite ledger schema is missing columns", err)
		}
		return nil, errors.Ledger("querying ledger", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			l         models.Listing
			remote    int
			extra     string
			firstSeen string
		)
		if err := rows.Scan(&l.Title, &l.Company, &l.Location, &l.DatePosted, &l.JobURL,
			&l.JobType, &remote, &l.Site, &l.SearchTerm, &extra, &firstSeen); err != nil {
			return nil, errors.Ledger("scanning ledger row", err)
		}
		l.IsRemote = remote != 0
		if extra != "" {
			if err := json.Unmarshal([]byte(extra), &l.Extra); err != nil {
				l.Extra = nil
				s.logger.Warn("ignoring malformed extra column in ledger row",
					zap.String("job_url", l.JobURL),
					zap.Error(err))
			}
		}
		e := ledger.Entry{Listing: l}
		if ts, err := time.Parse(time.RFC3339Nano, firstSeen); err == nil {
			e.FirstSeen = ts
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Ledger("reading ledger rows", err)
	}
	return out, nil
}

// Append upserts entries in one transaction.
func (s *Store) Append(ctx context.Context, entries []ledger.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Ledger("beginning ledger transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return errors.Ledger("preparing ledger upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range entries {
		l := e.Listing
		remote := 0
		if l.IsRemote {
			remote = 1
		}
		if _, err := stmt.ExecContext(ctx, e.Key(), l.Title, l.Company, l.Location, l.DatePosted, l.JobURL,
			l.JobType, remote, l.Site, l.SearchTerm, encodeExtra(l.Extra),
			e.FirstSeen.UTC().Format(time.RFC3339Nano), now); err != nil {
			return errors.Ledger("upserting ledger entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Ledger("committing ledger transaction", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(b)
}
