// Package store persists per-session metadata as one JSON document per
// session. Documents are open-ended field maps: writers patch only the
// fields they own, so fields written by other tools survive round trips.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

// ErrNotFound means no document exists for the requested id.
var ErrNotFound = errors.New("session record not found")

// Fields is one session's metadata document.
type Fields = map[string]any

// Store is a directory of session documents.
type Store struct {
	dir string
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) lockPath(id string) string {
	return filepath.Join(s.dir, id+".lock")
}

// withLock runs fn holding the per-document flock.
func (s *Store) withLock(id string, fn func() error) error {
	lock := flock.New(s.lockPath(id))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking record %s: %w", id, err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// Load reads a document. Returns ErrNotFound for missing ids.
func (s *Store) Load(id string) (Fields, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading record %s: %w", id, err)
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parsing record %s: %w", id, err)
	}
	return fields, nil
}

// LoadInto decodes a document into a typed value.
func (s *Store) LoadInto(id string, v any) error {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("reading record %s: %w", id, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing record %s: %w", id, err)
	}
	return nil
}

// Create writes a brand-new document. Fails if the id already exists.
func (s *Store) Create(id string, v any) error {
	return s.withLock(id, func() error {
		if s.Exists(id) {
			return fmt.Errorf("record %s already exists", id)
		}
		return s.write(id, v)
	})
}

// Save writes a document, replacing any existing content.
func (s *Store) Save(id string, v any) error {
	return s.withLock(id, func() error {
		return s.write(id, v)
	})
}

// write marshals v and lands it with temp-file + rename, so readers never
// see a half-written document.
func (s *Store) write(id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", id, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, id+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing record %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing record %s: %w", id, err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing record %s: %w", id, err)
	}
	return nil
}

// Update applies fn to the current document under the document lock and
// writes the result atomically. fn gets an empty map when the document
// doesn't exist yet; returning an error aborts without writing.
func (s *Store) Update(id string, fn func(Fields) error) error {
	return s.withLock(id, func() error {
		fields, err := s.Load(id)
		if errors.Is(err, ErrNotFound) {
			fields = Fields{}
		} else if err != nil {
			return err
		}
		if err := fn(fields); err != nil {
			return err
		}
		return s.write(id, fields)
	})
}

// Patch sets only the named fields, leaving everything else in the
// document untouched. Patching a missing document is ErrNotFound.
func (s *Store) Patch(id string, patch Fields) error {
	return s.withLock(id, func() error {
		fields, err := s.Load(id)
		if err != nil {
			return err
		}
		for k, v := range patch {
			fields[k] = v
		}
		return s.write(id, fields)
	})
}

// Delete removes a document. Deleting a missing document is a no-op.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	_ = os.Remove(s.lockPath(id))
	return nil
}

// List returns every document id, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading store directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a document exists.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}
