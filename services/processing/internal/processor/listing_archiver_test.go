package processor

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"jobwatch/common/events"
	"jobwatch/services/processing/internal/config"
	"jobwatch/services/processing/internal/errors"
	"jobwatch/services/processing/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	failures int
	calls    int
	batches  [][]models.ArchivedListing
}

func (s *fakeStore) InsertListings(_ context.Context, rows []models.ArchivedListing) error {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return stderrors.New("clickhouse down")
	}
	s.batches = append(s.batches, rows)
	return nil
}

func testEvent(t *testing.T, n int) []byte {
	t.Helper()
	ev := events.ListingsFound{SearchTerm: "golang", FoundAt: time.Now()}
	for i := 0; i < n; i++ {
		ev.Listings = append(ev.Listings, events.ListingRecord{
			Key:    uuid.NewString(),
			Title:  "Go Developer",
			JobURL: "https://jobs.example/" + uuid.NewString(),
		})
	}
	data, err := ev.Encode()
	require.NoError(t, err)
	return data
}

func newArchiver(t *testing.T, store ListingStore, batch, retries int) *ListingArchiver {
	return NewListingArchiver(zaptest.NewLogger(t), store, &config.Config{
		BatchSize:  batch,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	})
}

func TestArchiveListings_Chunks(t *testing.T) {
	store := &fakeStore{}
	a := newArchiver(t, store, 2, 0)

	n, err := a.ArchiveListings(context.Background(), testEvent(t, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 2)
	assert.Len(t, store.batches[2], 1)
}

func TestArchiveListings_RetriesThenSucceeds(t *testing.T) {
	store := &fakeStore{failures: 2}
	a := newArchiver(t, store, 100, 3)

	n, err := a.ArchiveListings(context.Background(), testEvent(t, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, store.calls)
}

func TestArchiveListings_GivesUp(t *testing.T) {
	store := &fakeStore{failures: 10}
	a := newArchiver(t, store, 100, 2)

	_, err := a.ArchiveListings(context.Background(), testEvent(t, 1))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeStorage))
	assert.Equal(t, 3, store.calls)
}

func TestArchiveListings_MalformedEvent(t *testing.T) {
	store := &fakeStore{}
	a := newArchiver(t, store, 100, 3)

	_, err := a.ArchiveListings(context.Background(), []byte("nope"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidInput))
	assert.Zero(t, store.calls)
}
