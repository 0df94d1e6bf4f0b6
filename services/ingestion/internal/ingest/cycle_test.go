package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"jobwatch/services/ingestion/internal/config"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/fetch"
	"jobwatch/services/ingestion/internal/ledger"
	"jobwatch/services/ingestion/internal/models"
	"jobwatch/services/ingestion/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memStore struct {
	mu   sync.Mutex
	rows []ledger.Entry
}

func (m *memStore) Load(context.Context) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.rows...), nil
}

func (m *memStore) Append(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, entries...)
	return nil
}

func (m *memStore) Close() error { return nil }

// termSource answers per search term and records every query.
type termSource struct {
	mu       sync.Mutex
	listings map[string][]models.Listing
	failing  map[string]bool
	queries  []source.Query
}

func (s *termSource) Fetch(_ context.Context, q source.Query) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.failing[q.SearchTerm] {
		return nil, assert.AnError
	}
	return s.listings[q.SearchTerm], nil
}

func (s *termSource) attempts(term string) (n int, proxies map[string]bool) {
	proxies = map[string]bool{}
	for _, q := range s.queries {
		if q.SearchTerm == term {
			n++
			proxies[q.Proxy.Address] = true
		}
	}
	return n, proxies
}

type call struct {
	term     string
	listings []models.Listing
}

type recordingNotifier struct {
	calls []call
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, term string, listings []models.Listing) error {
	n.calls = append(n.calls, call{term: term, listings: listings})
	return n.err
}

type harness struct {
	src      *termSource
	store    *memStore
	ledger   *ledger.Ledger
	notifier *recordingNotifier
	cycle    *Cycle
}

func newHarness(t *testing.T, seed ...models.Listing) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		src:      &termSource{listings: map[string][]models.Listing{}, failing: map[string]bool{}},
		store:    &memStore{},
		notifier: &recordingNotifier{},
	}
	for _, l := range seed {
		h.store.rows = append(h.store.rows, ledger.Entry{Listing: l, FirstSeen: time.Now()})
	}
	h.ledger = ledger.Open(context.Background(), logger, h.store)

	opts := fetch.DefaultOptions()
	opts.Cooldown = time.Millisecond
	h.cycle = NewCycle(logger, fetch.NewRetrier(logger, h.src, opts), h.ledger, h.notifier)
	return h
}

func doc(terms ...string) config.Document {
	d := config.DefaultDocument()
	d.SearchTerms = terms
	return d
}

func job(title, company string) models.Listing {
	return models.Listing{Title: title, Company: company, JobURL: "https://jobs/" + title + "/" + company}
}

func TestRun_AllNew(t *testing.T) {
	h := newHarness(t)
	batch := []models.Listing{job("Dev", "A"), job("Ops", "B"), job("QA", "C")}
	h.src.listings["golang"] = batch

	results, err := h.cycle.Run(context.Background(), doc("golang"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.False(t, r.Failed())
	assert.Equal(t, 3, r.FetchedCount)
	assert.Equal(t, 3, r.NewCount)
	assert.True(t, r.Notified)
	assert.Equal(t, 3, h.ledger.Len())
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, call{term: "golang", listings: batch}, h.notifier.calls[0])
}

func TestRun_OnlyUnseenNotified(t *testing.T) {
	x, y, z := job("X", "A"), job("Y", "A"), job("Z", "A")
	h := newHarness(t, x, y)
	h.src.listings["golang"] = []models.Listing{x, y, z}

	results, err := h.cycle.Run(context.Background(), doc("golang"))
	require.NoError(t, err)

	assert.Equal(t, 1, results[0].NewCount)
	assert.Equal(t, 3, h.ledger.Len())
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, []models.Listing{z}, h.notifier.calls[0].listings)
}

func TestRun_BlockedWordNeverReachesLedger(t *testing.T) {
	h := newHarness(t)
	h.src.listings["golang"] = []models.Listing{job("Software Intern", "A")}

	d := doc("golang")
	d.FilterWords = []string{"intern"}
	results, err := h.cycle.Run(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, 1, results[0].FilteredCount)
	assert.Equal(t, 0, results[0].NewCount)
	assert.Equal(t, 0, h.ledger.Len())
	assert.Empty(t, h.store.rows)
	assert.Empty(t, h.notifier.calls)
}

func TestRun_BlockedCompany(t *testing.T) {
	h := newHarness(t)
	h.src.listings["golang"] = []models.Listing{job("Dev", "X Corp"), job("Dev", "Y Corp")}

	d := doc("golang")
	d.FilterCompanies = []string{"x corp"}
	_, err := h.cycle.Run(context.Background(), d)
	require.NoError(t, err)

	assert.False(t, h.ledger.Contains(job("Dev", "X Corp").Identity()))
	assert.True(t, h.ledger.Contains(job("Dev", "Y Corp").Identity()))
}

func TestRun_FailedTermDoesNotStopOthers(t *testing.T) {
	h := newHarness(t)
	h.src.failing["X"] = true
	h.src.listings["Y"] = []models.Listing{job("Dev", "A")}

	results, err := h.cycle.Run(context.Background(), doc("X", "Y"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Failed())
	assert.True(t, errors.IsType(results[0].Err, errors.ErrTypeFetch))
	assert.NotEmpty(t, results[0].Error)
	assert.False(t, results[1].Failed())
	assert.Equal(t, 1, results[1].NewCount)

	n, proxies := h.src.attempts("X")
	assert.Equal(t, 5, n)
	assert.Len(t, proxies, 1, "retries stay on one proxy")
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, "Y", h.notifier.calls[0].term)
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.src.listings["golang"] = []models.Listing{job("Dev", "A"), job("Ops", "B")}

	_, err := h.cycle.Run(context.Background(), doc("golang"))
	require.NoError(t, err)
	results, err := h.cycle.Run(context.Background(), doc("golang"))
	require.NoError(t, err)

	assert.Equal(t, 0, results[0].NewCount)
	assert.False(t, results[0].Notified)
	assert.Len(t, h.notifier.calls, 1)
}

func TestRun_NotifyFailureKeepsLedger(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.Notification("smtp down", nil)
	h.src.listings["golang"] = []models.Listing{job("Dev", "A")}

	results, err := h.cycle.Run(context.Background(), doc("golang"))
	require.NoError(t, err)

	r := results[0]
	assert.False(t, r.Failed())
	assert.False(t, r.Notified)
	assert.Contains(t, r.NotifyError, "smtp down")
	assert.Equal(t, 1, h.ledger.Len())

	h.notifier.err = nil
	results, err = h.cycle.Run(context.Background(), doc("golang"))
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].NewCount, "listings are not re-notified after a failed delivery")
}

func TestRun_RotatesProxiesPerTerm(t *testing.T) {
	h := newHarness(t)
	d := doc("a", "b", "c", "d")
	d.Proxies = []string{"10.0.0.1:80", "10.0.0.2:4145"}

	results, err := h.cycle.Run(context.Background(), d)
	require.NoError(t, err)

	want := []string{"10.0.0.1:80", "10.0.0.2:4145", "10.0.0.1:80", "10.0.0.2:4145"}
	require.Len(t, h.src.queries, 4)
	for i, q := range h.src.queries {
		assert.Equal(t, want[i], q.Proxy.Address)
		assert.Contains(t, results[i].Proxy, want[i])
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	h := newHarness(t)

	results, err := h.cycle.Run(context.Background(), doc())
	assert.Nil(t, results)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	d := doc("golang")
	d.Proxies = nil
	results, err = h.cycle.Run(context.Background(), d)
	assert.Nil(t, results)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.Empty(t, h.src.queries)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := h.cycle.Run(ctx, doc("a", "b"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Empty(t, h.src.queries)
}
