package csvstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/ledger"
	"jobwatch/services/ingestion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openLedger(t *testing.T, path string) (*ledger.Ledger, *Store) {
	t.Helper()
	store, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	l := ledger.Open(context.Background(), zaptest.NewLogger(t), store)
	require.NoError(t, l.Err())
	return l, store
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	ctx := context.Background()

	l, _ := openLedger(t, path)
	listings := []models.Listing{
		{Title: "Go Developer", Company: "ACME", JobURL: "https://a/1", IsRemote: true, Extra: map[string]string{"salary": "90k"}},
		{Title: "Data, \"Senior\" Engineer", Company: "Initech", JobURL: "https://i/2"},
	}
	fresh, err := l.Merge(ctx, listings)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	require.NoError(t, l.Close())

	l, _ = openLedger(t, path)
	defer l.Close()
	assert.Equal(t, 2, l.Len())

	fresh, err = l.Merge(ctx, listings)
	require.NoError(t, err)
	assert.Empty(t, fresh, "listings seen before a restart are not new")

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, listings[0], entries[0].Listing)
	assert.Equal(t, listings[1], entries[1].Listing)
	assert.False(t, entries[0].FirstSeen.IsZero())
}

func TestStore_CompactsDuplicateRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	ctx := context.Background()

	l, store := openLedger(t, path)
	defer l.Close()

	a := models.Listing{Title: "Dev", Company: "A", JobURL: "https://a/1"}
	for _, loc := range []string{"Berlin", "Hamburg", "Munich", "Remote"} {
		a.Location = loc
		_, err := l.Merge(ctx, []models.Listing{a})
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, store.rows, 2*store.live.Cardinality())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.LessOrEqual(t, len(lines)-1, 2)
	assert.Contains(t, lines[len(lines)-1], "Remote")
}

func TestStore_MigratesLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	legacy := "site,job_url,title,company,location\n" +
		"indeed,https://a/1,Dev,ACME,Berlin\n" +
		"indeed,https://a/1,Dev,ACME,Berlin\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	l, _ := openLedger(t, path)
	defer l.Close()
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Contains(models.Listing{Title: "dev", Company: "acme", JobURL: "https://a/1"}.Identity()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), strings.Join(header, ",")+"\n"))
}

func TestStore_MissingColumnsMakeLedgerUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	require.NoError(t, os.WriteFile(path, []byte("title,location\nDev,Berlin\n"), 0o644))

	store, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	l := ledger.Open(context.Background(), zaptest.NewLogger(t), store)
	defer l.Close()

	require.Error(t, l.Err())
	assert.True(t, errors.IsType(l.Err(), errors.ErrTypeFilter))

	_, err = l.Merge(context.Background(), []models.Listing{{Title: "Dev", Company: "A", JobURL: "https://a/1"}})
	assert.True(t, errors.IsType(err, errors.ErrTypeFilter))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "title,location\nDev,Berlin\n", string(data), "file left untouched")
}

func TestOpen_RejectsSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")

	first, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(path, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))
}

func canonicalFile(rows ...string) string {
	return strings.Join(header, ",") + "\n" + strings.Join(rows, "")
}

func TestStore_DropsTornQuotedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	good := "Dev,ACME,Berlin,,https://a/1,,false,indeed,golang,,\n"
	require.NoError(t, os.WriteFile(path, []byte(canonicalFile(good, `"Engineer, Back`)), 0o644))

	l, _ := openLedger(t, path)
	defer l.Close()
	assert.Equal(t, 1, l.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, canonicalFile(good), string(data))

	fresh, err := l.Merge(context.Background(), []models.Listing{
		{Title: "Engineer, Backend", Company: "Initech", JobURL: "https://i/2"},
	})
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
	require.NoError(t, l.Close())

	l, _ = openLedger(t, path)
	defer l.Close()
	assert.Equal(t, 2, l.Len())
}

func TestStore_DropsTornUnquotedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	good := "Dev,ACME,Berlin,,https://a/1,,false,indeed,golang,,\n"
	require.NoError(t, os.WriteFile(path, []byte(canonicalFile(good, "Engineer,Init")), 0o644))

	l, _ := openLedger(t, path)
	_, err := l.Merge(context.Background(), []models.Listing{
		{Title: "QA", Company: "Umbrella", JobURL: "https://u/3"},
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Init")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "QA,Umbrella,"))

	l, _ = openLedger(t, path)
	defer l.Close()
	assert.Equal(t, 2, l.Len())
}

func TestStore_TerminatesCompleteUnterminatedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	last := "Dev,ACME,Berlin,,https://a/1,,false,indeed,golang,,"
	require.NoError(t, os.WriteFile(path, []byte(canonicalFile(last)), 0o644))

	l, _ := openLedger(t, path)
	assert.Equal(t, 1, l.Len())
	_, err := l.Merge(context.Background(), []models.Listing{
		{Title: "QA", Company: "Umbrella", JobURL: "https://u/3"},
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, _ = openLedger(t, path)
	defer l.Close()
	assert.Equal(t, 2, l.Len())
}

func TestStore_CorruptMiddleRowFailsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	content := canonicalFile(
		"Dev,ACME,Berlin,,https://a/1,,false,indeed,golang,,\n",
		"Bad\"Row,ACME,,,https://a/2,,false,,,,\n",
		"QA,Umbrella,,,https://u/3,,false,,,,\n",
	)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	l := ledger.Open(context.Background(), zaptest.NewLogger(t), store)
	defer l.Close()

	require.Error(t, l.Err())
	assert.True(t, errors.IsType(l.Err(), errors.ErrTypeLedger))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestStore_LegacyColumnsKeptInExtra(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	legacy := "id,site,job_url,title,company,location,description,min_amount\n" +
		"in-123,indeed,https://a/1,Dev,ACME,Berlin,Great job,90000\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	l, _ := openLedger(t, path)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, map[string]string{
		"id":          "in-123",
		"description": "Great job",
		"min_amount":  "90000",
	}, l.Entries()[0].Listing.Extra)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), strings.Join(header, ",")+"\n"))
	assert.Contains(t, string(data), "Great job")

	l, _ = openLedger(t, path)
	defer l.Close()
	assert.Equal(t, "90000", l.Entries()[0].Listing.Extra["min_amount"])
}

func TestStore_MalformedExtraKeepsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_jobs.csv")
	require.NoError(t, os.WriteFile(path, []byte(canonicalFile(
		"Dev,ACME,Berlin,,https://a/1,,false,indeed,golang,,{not json\n",
	)), 0o644))

	l, _ := openLedger(t, path)
	defer l.Close()
	require.Equal(t, 1, l.Len())
	assert.Nil(t, l.Entries()[0].Listing.Extra)
}
