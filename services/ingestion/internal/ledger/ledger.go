package ledger

import (
	"context"
	"maps"
	"sync"
	"time"

	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"

	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("jobwatch/ingestion/ledger")

// Entry is one recorded listing.
type Entry struct {
	Listing   models.Listing `json:"listing"`
	FirstSeen time.Time      `json:"first_seen"`
}

func (e Entry) Key() string {
	return e.Listing.Identity().Key()
}

// Store persists ledger entries. Append must be durable before it returns.
// Entries handed to Append replace earlier entries with the same key.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, entries []Entry) error
	Close() error
}

// Ledger is the set of listings already seen. It never shrinks.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	entries map[string]Entry
	order   []string
	loadErr error
	logger  *zap.Logger
	now     func() time.Time
}

// Open loads the store. A load failure leaves the ledger unavailable rather
// than failing; Merge reports the problem until a later Reload succeeds.
func Open(ctx context.Context, logger *zap.Logger, store Store) *Ledger {
	l := &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	if err := l.Reload(ctx); err != nil {
		logger.Warn("ledger unavailable", zap.Error(err))
	}
	return l
}

// Reload replaces the in-memory view with the store's contents.
func (l *Ledger) Reload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reloadLocked(ctx)
}

func (l *Ledger) reloadLocked(ctx context.Context) error {
	loaded, err := l.store.Load(ctx)
	if err != nil {
		err = errors.Wrap(errors.ErrTypeLedger, "loading ledger", err)
		l.loadErr = err
		return err
	}

	l.entries = make(map[string]Entry, len(loaded))
	l.order = l.order[:0]
	for _, e := range loaded {
		key := e.Key()
		if prev, ok := l.entries[key]; ok {
			e.FirstSeen = prev.FirstSeen
		} else {
			l.order = append(l.order, key)
		}
		l.entries[key] = e
	}
	l.loadErr = nil

	l.logger.Info("ledger loaded", zap.Int("entries", len(l.entries)))
	return nil
}

// EnsureLoaded retries a failed load. It is a no-op when the ledger is
// available.
func (l *Ledger) EnsureLoaded(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries != nil && l.loadErr == nil {
		return nil
	}
	return l.reloadLocked(ctx)
}

// Err returns the load error that made the ledger unavailable, if any.
func (l *Ledger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadErr
}

func (l *Ledger) Contains(id models.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id.Key()]
	return ok
}

// Merge returns the listings whose identity was not yet recorded, in input
// order, and records every input listing. Duplicates inside the batch
// collapse to their last occurrence, and recorded attributes follow the
// most recent listing. Nothing is returned unless the store write succeeded.
func (l *Ledger) Merge(ctx context.Context, listings []models.Listing) ([]models.Listing, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Merge")
	defer span.End()
	span.SetAttributes(telemetry.Int("listings.count", len(listings)))

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loadErr != nil || l.entries == nil {
		cause := l.loadErr
		if cause == nil {
			cause = errors.Ledger("ledger not loaded", nil)
		}
		err := errors.New(errors.TypeOf(cause), "ledger unavailable", cause)
		telemetry.RecordError(span, err)
		return nil, err
	}

	keys := make([]string, len(listings))
	last := make(map[string]int, len(listings))
	for i, listing := range listings {
		keys[i] = listing.Identity().Key()
		last[keys[i]] = i
	}

	now := l.now().UTC()
	fresh := make([]models.Listing, 0, len(listings))
	var writes []Entry
	for i, listing := range listings {
		key := keys[i]
		if last[key] != i {
			continue
		}
		prev, seen := l.entries[key]
		if !seen {
			fresh = append(fresh, listing)
			writes = append(writes, Entry{Listing: listing, FirstSeen: now})
			continue
		}
		if !sameListing(prev.Listing, listing) {
			writes = append(writes, Entry{Listing: listing, FirstSeen: prev.FirstSeen})
		}
	}

	if len(writes) > 0 {
		if err := l.store.Append(ctx, writes); err != nil {
			err = errors.Wrap(errors.ErrTypeLedger, "writing ledger", err)
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	for _, e := range writes {
		key := e.Key()
		if _, ok := l.entries[key]; !ok {
			l.order = append(l.order, key)
		}
		l.entries[key] = e
	}

	span.SetAttributes(telemetry.Int("listings.new", len(fresh)))
	l.logger.Debug("ledger merged",
		zap.Int("input", len(listings)),
		zap.Int("new", len(fresh)),
		zap.Int("written", len(writes)),
		zap.Int("total", len(l.entries)))
	return fresh, nil
}

// Entries returns recorded entries in first-seen order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.entries[key])
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}

func sameListing(a, b models.Listing) bool {
	return a.Title == b.Title &&
		a.Company == b.Company &&
		a.Location == b.Location &&
		a.DatePosted == b.DatePosted &&
		a.JobURL == b.JobURL &&
		a.JobType == b.JobType &&
		a.IsRemote == b.IsRemote &&
		a.Site == b.Site &&
		a.SearchTerm == b.SearchTerm &&
		maps.Equal(a.Extra, b.Extra)
}
