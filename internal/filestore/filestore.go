// Package filestore keeps the small per-alert-kind audio assets on disk.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Alert kinds an asset can be stored under.
const (
	KindMessage  = "message"
	KindContract = "contract"
	KindKeyword  = "keyword"
)

var validKinds = map[string]bool{
	KindMessage:  true,
	KindContract: true,
	KindKeyword:  true,
}

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sound dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(kind string) string {
	return filepath.Join(s.dir, kind+".mp3")
}

// Save writes (replacing) the asset for kind.
func (s *Store) Save(kind string, data []byte) error {
	if !validKinds[kind] {
		return fmt.Errorf("unknown alert kind %q", kind)
	}
	if err := os.WriteFile(s.path(kind), data, 0o644); err != nil {
		return fmt.Errorf("write sound %s: %w", kind, err)
	}
	return nil
}

// Path returns the asset location for kind and whether it exists.
func (s *Store) Path(kind string) (string, bool) {
	if !validKinds[kind] {
		return "", false
	}
	p := s.path(kind)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Delete removes the asset for kind; deleting a missing asset is not an
// error.
func (s *Store) Delete(kind string) error {
	if !validKinds[kind] {
		return fmt.Errorf("unknown alert kind %q", kind)
	}
	if err := os.Remove(s.path(kind)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete sound %s: %w", kind, err)
	}
	return nil
}
