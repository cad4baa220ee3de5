// Package store persists mirror configuration as a single JSON document.
//
// The document is the unit of persistence: every mutation rewrites the whole
// file atomically (write to a temp file in the same directory, then rename).
// Writers re-read the document immediately before writing, so concurrent
// short-lived invocations degrade to last-writer-wins instead of corruption.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status classifies the most recent sync attempt of a mirror.
type Status string

const (
	StatusNever   Status = "never"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Mirror is the persisted per-repository mirror configuration and the
// observational status of its last sync attempt.
type Mirror struct {
	Enabled        bool   `json:"enabled"`
	Schedule       string `json:"schedule"`
	TimeoutSeconds int    `json:"timeout_seconds"`

	LastRunAt           *time.Time `json:"last_run_at"`
	LastStatus          Status     `json:"last_status"`
	LastError           *string    `json:"last_error"`
	LastDurationSeconds *int64     `json:"last_duration_seconds"`

	// NextRunAt is cached for display only. The scheduler recomputes
	// due-ness from Schedule and LastRunAt each tick.
	NextRunAt *time.Time `json:"next_run_at"`
}

// Defaults are applied when a mirror is enabled without explicit values.
type Defaults struct {
	Schedule       string `json:"schedule"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxConcurrent  int    `json:"max_concurrent"`
}

// Document is the full persisted configuration.
type Document struct {
	Version  string             `json:"version"`
	Defaults Defaults           `json:"defaults"`
	Mirrors  map[string]*Mirror `json:"mirrors"`
}

const documentVersion = "1.0"

// Builtin defaults, used when the deployment supplies none.
var builtinDefaults = Defaults{
	Schedule:       "0 */6 * * *",
	TimeoutSeconds: 600,
	MaxConcurrent:  3,
}

// CorruptError reports an unreadable persisted document. Load recovers from
// it by returning an empty document; callers log and carry on.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store: corrupt document %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// ErrPersist wraps filesystem failures while saving. The in-memory document
// stays authoritative until a later save succeeds.
var ErrPersist = errors.New("store: persist failed")

// Store reads and writes the mirror configuration document at a fixed path.
type Store struct {
	path string

	// Defaults seed the document's defaults section when the file does not
	// exist yet. Overridable by the deployment before first use.
	Defaults Defaults
}

func New(path string) *Store {
	return &Store{path: path, Defaults: builtinDefaults}
}

// Path returns the location of the backing document.
func (s *Store) Path() string { return s.path }

func (s *Store) emptyDocument() *Document {
	return &Document{
		Version:  documentVersion,
		Defaults: s.Defaults,
		Mirrors:  map[string]*Mirror{},
	}
}

// Load reads the persisted document. A missing file yields an empty document.
// An unparseable file yields an empty document together with a *CorruptError
// so the caller can log a warning; the daemon never crashes on it.
func (s *Store) Load() (*Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.emptyDocument(), nil
		}
		return s.emptyDocument(), &CorruptError{Path: s.path, Err: err}
	}

	doc := new(Document)
	if err := json.Unmarshal(raw, doc); err != nil {
		return s.emptyDocument(), &CorruptError{Path: s.path, Err: err}
	}
	s.normalize(doc)
	return doc, nil
}

// normalize fills gaps left by older or hand-edited documents.
func (s *Store) normalize(doc *Document) {
	if doc.Version == "" {
		doc.Version = documentVersion
	}
	if doc.Defaults == (Defaults{}) {
		doc.Defaults = s.Defaults
	}
	if doc.Mirrors == nil {
		doc.Mirrors = map[string]*Mirror{}
	}
	for _, m := range doc.Mirrors {
		if m.LastStatus == "" {
			m.LastStatus = StatusNever
		}
	}
}

// Save atomically replaces the persisted document.
func (s *Store) Save(doc *Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	raw = append(raw, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Update runs one read-modify-write cycle: re-read the document, apply fn,
// save. If fn returns an error the document is left untouched on disk. A
// corrupt document is treated as empty, matching Load.
func (s *Store) Update(fn func(*Document) error) (*Document, error) {
	doc, err := s.Load()
	if err != nil {
		var corrupt *CorruptError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.Save(doc); err != nil {
		return doc, err
	}
	return doc, nil
}
