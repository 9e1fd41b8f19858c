// Package store persists the gateway's mutable configuration: the global
// settings blob, the room list, and the credential list.
package store

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"sync"

	"github.com/pkg/errors"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
	"github.com/DanielHighETH/trenchcord-sub000/internal/storeutil"
)

const schema = `CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rooms (
  id TEXT PRIMARY KEY,
  doc_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
  position INTEGER PRIMARY KEY,
  token TEXT NOT NULL
);`

const settingsKey = "global"

// Room is one monitored room: a named set of channels with its own
// user filters and keyword patterns.
type Room struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	Channels         []string              `json:"channels"`
	HighlightedUsers []string              `json:"highlightedUsers,omitempty"`
	FilteredUsers    []string              `json:"filteredUsers,omitempty"`
	FilterEnabled    bool                  `json:"filterEnabled"`
	Keywords         []core.KeywordPattern `json:"keywords,omitempty"`
	Color            string                `json:"color,omitempty"`
}

// Settings is the global configuration blob.
type Settings struct {
	ContractDetection bool                  `json:"contractDetection"`
	HighlightedUsers  []string              `json:"highlightedUsers,omitempty"`
	Keywords          []core.KeywordPattern `json:"keywords,omitempty"`
	ChainLinks        map[string]string     `json:"chainLinks,omitempty"` // chain -> URL template
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := storeutil.Open(path, schema)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Settings returns the global settings blob; a missing blob yields the
// zero value, not an error.
func (s *Store) Settings() (Settings, error) {
	var cfg Settings
	err := s.getJSON(settingsKey, &cfg)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Settings{}, nil
	}
	return cfg, err
}

func (s *Store) SetSettings(cfg Settings) error {
	return s.setJSON(settingsKey, cfg)
}

func (s *Store) getJSON(key string, v any) error {
	var raw string
	if err := s.db.QueryRow(`SELECT value_json FROM settings WHERE key = ?;`, key).Scan(&raw); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return err
		}
		return errors.Wrapf(err, "read setting %s", key)
	}
	return errors.Wrapf(json.Unmarshal([]byte(raw), v), "decode setting %s", key)
}

func (s *Store) setJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode setting %s", key)
	}
	_, err = s.db.Exec(`INSERT INTO settings (key, value_json) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json;`, key, string(raw))
	return errors.Wrapf(err, "write setting %s", key)
}

// Rooms returns all rooms ordered by id.
func (s *Store) Rooms() ([]Room, error) {
	rows, err := s.db.Query(`SELECT doc_json FROM rooms ORDER BY id;`)
	if err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan room")
		}
		var r Room
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, errors.Wrap(err, "decode room")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate rooms")
}

// Room returns one room; ok is false when the id is unknown.
func (s *Store) Room(id string) (Room, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT doc_json FROM rooms WHERE id = ?;`, id).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Room{}, false, nil
	}
	if err != nil {
		return Room{}, false, errors.Wrap(err, "read room")
	}
	var r Room
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Room{}, false, errors.Wrap(err, "decode room")
	}
	return r, true, nil
}

// SaveRoom inserts or replaces a room document.
func (s *Store) SaveRoom(r Room) error {
	if r.ID == "" {
		return errors.New("room id required")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode room")
	}
	_, err = s.db.Exec(`INSERT INTO rooms (id, doc_json) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET doc_json = excluded.doc_json;`, r.ID, string(raw))
	return errors.Wrap(err, "write room")
}

func (s *Store) DeleteRoom(id string) error {
	_, err := s.db.Exec(`DELETE FROM rooms WHERE id = ?;`, id)
	return errors.Wrap(err, "delete room")
}

// Tokens returns the credential list in stored order.
func (s *Store) Tokens() ([]string, error) {
	rows, err := s.db.Query(`SELECT token FROM tokens ORDER BY position;`)
	if err != nil {
		return nil, errors.Wrap(err, "list tokens")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "scan token")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterate tokens")
}

// SetTokens replaces the credential list wholesale, preserving order.
func (s *Store) SetTokens(tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if _, err := tx.Exec(`DELETE FROM tokens;`); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "clear tokens")
	}
	for i, t := range tokens {
		if _, err := tx.Exec(`INSERT INTO tokens (position, token) VALUES (?, ?);`, i, t); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "insert token")
		}
	}
	return errors.Wrap(tx.Commit(), "commit tokens")
}
