// Package csvstore keeps the ledger in an append-only CSV log. Later rows
// for the same listing supersede earlier ones; the file is compacted at
// open and whenever the log grows past twice the number of live entries.
package csvstore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/ledger"
	"jobwatch/services/ingestion/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var header = []string{
	"title", "company", "location", "date_posted", "job_url",
	"job_type", "is_remote", "site", "search_term", "first_seen", "extra",
}

// required are the identity columns a ledger file must carry.
var required = []string{"title", "company", "job_url"}

type Store struct {
	path   string
	lock   *flock.Flock
	file   *os.File
	writer *csv.Writer
	rows   int
	live   mapset.Set[string]
	logger *zap.Logger
}

// Open takes an exclusive lock on path so no other process writes the same
// ledger. The file itself is read by Load.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Ledger("creating ledger directory", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Ledger("locking ledger", err)
	}
	if !locked {
		return nil, errors.Conflict("ledger "+path+" is in use by another process", nil)
	}

	return &Store{
		path:   path,
		lock:   lock,
		live:   mapset.NewThreadUnsafeSet[string](),
		logger: logger,
	}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(ctx context.Context) ([]ledger.Entry, error) {
	if err := s.closeFile(); err != nil {
		return nil, err
	}

	st, err := s.readLog()
	if err != nil {
		return nil, err
	}
	entries := st.entries

	if st.tornAt >= 0 {
		s.logger.Warn("dropping torn ledger row left by an interrupted write",
			zap.String("path", s.path),
			zap.Int64("offset", st.tornAt))
		if err := os.Truncate(s.path, st.tornAt); err != nil {
			return nil, errors.Ledger("truncating torn ledger row", err)
		}
	}

	s.live = mapset.NewThreadUnsafeSet[string]()
	for _, e := range entries {
		s.live.Add(e.Key())
	}
	s.rows = st.rows

	if !st.canonical || st.rows != len(entries) {
		if err := s.rewrite(entries); err != nil {
			return nil, err
		}
	}

	if err := s.openForAppend(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) Append(ctx context.Context, entries []ledger.Entry) error {
	if s.file == nil {
		if err := s.openForAppend(); err != nil {
			return err
		}
	}

	for _, e := range entries {
		row, err := encodeRow(e)
		if err != nil {
			return errors.Ledger("encoding ledger row", err)
		}
		if err := s.writer.Write(row); err != nil {
			return errors.Ledger("writing ledger row", err)
		}
		s.live.Add(e.Key())
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return errors.Ledger("flushing ledger", err)
	}
	if err := s.file.Sync(); err != nil {
		return errors.Ledger("syncing ledger", err)
	}
	s.rows += len(entries)

	if s.rows > 2*s.live.Cardinality() {
		if err := s.Compact(); err != nil {
			// The appended rows are already durable.
			s.logger.Warn("ledger compaction failed", zap.String("path", s.path), zap.Error(err))
		}
	}
	return nil
}

// Compact rewrites the log with one row per live entry.
func (s *Store) Compact() error {
	if err := s.closeFile(); err != nil {
		return err
	}
	st, err := s.readLog()
	if err != nil {
		return err
	}
	if err := s.rewrite(st.entries); err != nil {
		return err
	}
	return s.openForAppend()
}

func (s *Store) Close() error {
	err := s.closeFile()
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = errors.Ledger("unlocking ledger", uerr)
	}
	return err
}

func (s *Store) closeFile() error {
	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	err := s.file.Close()
	s.file, s.writer = nil, nil
	if err != nil {
		return errors.Ledger("closing ledger", err)
	}
	return nil
}

func (s *Store) openForAppend() (err error) {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Ledger("opening ledger for append", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, f.Close())
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return errors.Ledger("stat ledger", err)
	}

	w := csv.NewWriter(f)
	switch {
	case info.Size() == 0:
		if err := w.Write(header); err != nil {
			return errors.Ledger("writing ledger header", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return errors.Ledger("writing ledger header", err)
		}
		if err := f.Sync(); err != nil {
			return errors.Ledger("syncing ledger", err)
		}
	default:
		terminated, err := endsWithNewline(s.path, info.Size())
		if err != nil {
			return err
		}
		if !terminated {
			// Keep the next row off the unterminated last line.
			if _, err := f.Write([]byte("\n")); err != nil {
				return errors.Ledger("terminating last ledger row", err)
			}
		}
	}

	s.file, s.writer = f, w
	return nil
}

// rewrite replaces the file with a compacted copy via a synced temp file.
func (s *Store) rewrite(entries []ledger.Entry) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Ledger("creating compacted ledger", err)
	}

	if err := writeCompacted(f, entries); err != nil {
		return errors.Ledger("writing compacted ledger", multierr.Combine(err, f.Close(), os.Remove(tmp)))
	}
	if err := f.Close(); err != nil {
		return errors.Ledger("closing compacted ledger", multierr.Append(err, os.Remove(tmp)))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Ledger("replacing ledger", err)
	}

	s.logger.Debug("ledger compacted",
		zap.String("path", s.path),
		zap.Int("rows_before", s.rows),
		zap.Int("rows_after", len(entries)))
	s.rows = len(entries)
	return nil
}

func writeCompacted(f *os.File, entries []ledger.Entry) error {
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, e := range entries {
		row, err := encodeRow(e)
		if err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

type logState struct {
	// entries are the live entries in first-seen order.
	entries []ledger.Entry
	// rows counts the data rows replayed.
	rows int
	// canonical reports whether the header is the current layout.
	canonical bool
	// tornAt is the offset to truncate a torn final row at, or -1.
	tornAt int64
}

// readLog replays the file. A missing file is an empty ledger. A final row
// that cannot be parsed, or an unterminated final row that is shorter than
// the header, is treated as an interrupted append and reported in tornAt;
// any other malformed row fails the load.
func (s *Store) readLog() (logState, error) {
	st := logState{canonical: true, tornAt: -1}

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return logState{}, errors.Ledger("opening ledger", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err == io.EOF {
		return st, nil
	}
	if err != nil {
		return logState{}, errors.Ledger("reading ledger header", err)
	}

	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return logState{}, errors.Filter("ledger "+s.path+" is missing columns: "+strings.Join(missing, ", "), nil)
	}
	st.canonical = strings.Join(head, ",") == strings.Join(header, ",")

	var (
		recs [][]string
		// ends[i] is the offset just past recs[i]; ends[-1] is the header end.
		ends    = []int64{r.InputOffset()}
		lastEnd = func() int64 { return ends[len(ends)-1] }
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, next := r.Read(); next == io.EOF {
				st.tornAt = lastEnd()
				break
			}
			return logState{}, errors.Ledger("reading ledger row", err)
		}
		recs = append(recs, rec)
		ends = append(ends, r.InputOffset())
	}

	if n := len(recs); st.tornAt < 0 && n > 0 && len(recs[n-1]) < len(head) {
		terminated, err := endsWithNewline(s.path, lastEnd())
		if err != nil {
			return logState{}, err
		}
		if !terminated {
			recs = recs[:n-1]
			ends = ends[:n]
			st.tornAt = lastEnd()
		}
	}

	var (
		order   []string
		entries = make(map[string]ledger.Entry)
	)
	for _, rec := range recs {
		st.rows++

		e, err := decodeRow(rec, cols)
		if err != nil {
			s.logger.Warn("ignoring malformed extra column in ledger row",
				zap.String("job_url", e.Listing.JobURL),
				zap.Error(err))
		}
		key := e.Key()
		if prev, ok := entries[key]; ok {
			if !prev.FirstSeen.IsZero() {
				e.FirstSeen = prev.FirstSeen
			}
		} else {
			order = append(order, key)
		}
		entries[key] = e
	}

	st.entries = make([]ledger.Entry, 0, len(order))
	for _, key := range order {
		st.entries = append(st.entries, entries[key])
	}
	return st, nil
}

// endsWithNewline reports whether the byte before offset is a newline.
func endsWithNewline(path string, offset int64) (bool, error) {
	if offset == 0 {
		return true, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Ledger("opening ledger", err)
	}
	defer f.Close()

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, offset-1); err != nil {
		return false, errors.Ledger("reading ledger tail", err)
	}
	return b[0] == '\n', nil
}

// known are the columns decoded into Listing fields; anything else a ledger
// file carries is kept in Listing.Extra.
var known = map[string]bool{
	"title": true, "company": true, "location": true, "date_posted": true, "job_url": true,
	"job_type": true, "is_remote": true, "site": true, "search_term": true, "first_seen": true, "extra": true,
}

func encodeRow(e ledger.Entry) ([]string, error) {
	l := e.Listing
	firstSeen := ""
	if !e.FirstSeen.IsZero() {
		firstSeen = e.FirstSeen.UTC().Format(time.RFC3339)
	}
	extra := ""
	if len(l.Extra) > 0 {
		b, err := json.Marshal(l.Extra)
		if err != nil {
			return nil, err
		}
		extra = string(b)
	}
	return []string{
		l.Title, l.Company, l.Location, l.DatePosted, l.JobURL,
		l.JobType, strconv.FormatBool(l.IsRemote), l.Site, l.SearchTerm, firstSeen, extra,
	}, nil
}

// decodeRow maps a record to an entry. A malformed extra column is reported
// but the rest of the row is still returned.
func decodeRow(rec []string, cols map[string]int) (ledger.Entry, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	remote, _ := strconv.ParseBool(field("is_remote"))
	e := ledger.Entry{Listing: models.Listing{
		Title:      field("title"),
		Company:    field("company"),
		Location:   field("location"),
		DatePosted: field("date_posted"),
		JobURL:     field("job_url"),
		JobType:    field("job_type"),
		IsRemote:   remote,
		Site:       field("site"),
		SearchTerm: field("search_term"),
	}}
	if ts, err := time.Parse(time.RFC3339, field("first_seen")); err == nil {
		e.FirstSeen = ts
	}

	var err error
	if raw := field("extra"); raw != "" {
		if uerr := json.Unmarshal([]byte(raw), &e.Listing.Extra); uerr != nil {
			e.Listing.Extra = nil
			err = uerr
		}
	}
	for name, i := range cols {
		if known[name] || i >= len(rec) || rec[i] == "" {
			continue
		}
		if e.Listing.Extra == nil {
			e.Listing.Extra = make(map[string]string)
		}
		if _, ok := e.Listing.Extra[name]; !ok {
			e.Listing.Extra[name] = rec[i]
		}
	}
	return e, err
}
