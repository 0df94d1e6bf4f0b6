package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"jobwatch/services/ingestion/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissingReturnsDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.json"))

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 180, doc.IntervalRun)
	assert.Len(t, doc.Proxies, 6)
	assert.Empty(t, doc.SearchTerms)
}

func TestStore_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := NewStore(path)

	doc := DefaultDocument()
	doc.SearchTerms = []string{" golang ", "Golang", "", "rust"}
	doc.Location = " Austin, TX "
	doc.FilterWords = []string{"intern", "senior"}
	doc.IntervalRun = 30

	v, err := s.Save(doc)
	require.NoError(t, err)
	assert.True(t, v.OK())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "rust"}, got.SearchTerms)
	assert.Equal(t, "Austin, TX", got.Location)
	assert.Equal(t, 30*time.Minute, got.Interval())

	// a second save keeps the previous file as .bak
	got.IntervalRun = 45
	_, err = s.Save(got)
	require.NoError(t, err)
	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(bak), `"interval_run": 30`)
}

func TestStore_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search_terms: [devops]\nlocation: Remote\ninterval_run: 5\nproxies: ['1.2.3.4:4145']\n"), 0o644))

	doc, err := NewStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"devops"}, doc.SearchTerms)
	assert.Equal(t, []string{"1.2.3.4:4145"}, doc.Proxies)
	assert.Equal(t, 5, doc.IntervalRun)
}

func TestStore_MalformedIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStore(path).Load()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := DefaultDocument()
	doc.IntervalRun = 0
	doc.Proxies = nil

	v, err := NewStore(path).Save(doc)
	require.Error(t, err)
	assert.Len(t, v.Errors, 2)
	assert.NoFileExists(t, path)
}

func TestDocument_Specs(t *testing.T) {
	doc := Document{SearchTerms: []string{"a", "b"}, Location: "NYC"}
	specs := doc.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "b", specs[1].SearchTerm)
	assert.Equal(t, "NYC", specs[1].Location)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "csv")
	t.Setenv("SCRAPER_SITES", "indeed, linkedin")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.RetryDelay)
	assert.Equal(t, []string{"indeed", "linkedin"}, cfg.Sites)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("LEDGER_DSN", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
