package config

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"jobwatch/services/ingestion/internal/errors"

	"gopkg.in/yaml.v3"
)

// Store persists the search Document as JSON, or YAML when the path ends
// in .yml/.yaml.
type Store struct {
	mu   sync.RWMutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the stored document, or the defaults when no file exists yet.
func (s *Store) Load() (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := os.ReadFile(s.path)
	if stderrors.Is(err, os.ErrNotExist) {
		return DefaultDocument(), nil
	}
	if err != nil {
		return Document{}, errors.Config("reading "+s.path, err)
	}

	doc := DefaultDocument()
	if s.isYAML() {
		err = yaml.Unmarshal(b, &doc)
	} else {
		err = json.Unmarshal(b, &doc)
	}
	if err != nil {
		return Document{}, errors.Config("parsing "+s.path, err)
	}

	return doc.Normalized(), nil
}

// Save validates and atomically replaces the stored document, keeping the
// previous version next to it with a .bak suffix.
func (s *Store) Save(doc Document) (Validation, error) {
	doc = doc.Normalized()
	v := doc.Validate()
	if !v.OK() {
		return v, errors.Config("config validation failed: "+strings.Join(v.Errors, "; "), nil)
	}

	var (
		b   []byte
		err error
	)
	if s.isYAML() {
		b, err = yaml.Marshal(&doc)
	} else {
		b, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return v, errors.Internal("encoding config", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return v, errors.Config("creating config directory", err)
		}
	}

	tmp := s.path + ".tmp"
	bak := s.path + ".bak"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return v, errors.Config("writing "+tmp, err)
	}

	if err := os.Remove(bak); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return v, errors.Config("removing "+bak, err)
	}
	if err := os.Link(s.path, bak); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		if err := os.Rename(s.path, bak); err != nil {
			return v, errors.Config("backing up "+s.path, err)
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return v, errors.Config("replacing "+s.path, err)
	}
	return v, nil
}

func (s *Store) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(s.path))
	return ext == ".yml" || ext == ".yaml"
}
