// Package ledger keeps the most recent contract-address sightings in
// reverse-chronological order, mirrored to sqlite so restarts keep the list.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
	"github.com/DanielHighETH/trenchcord-sub000/internal/storeutil"
)

// Capacity bounds the ledger; recording past it evicts the oldest entries.
const Capacity = 2000

const schema = `CREATE TABLE IF NOT EXISTS contracts (
  message_id TEXT NOT NULL,
  address TEXT NOT NULL,
  chain TEXT NOT NULL,
  chain_tag TEXT NOT NULL DEFAULT '',
  author_json TEXT NOT NULL DEFAULT '{}',
  channel_id TEXT NOT NULL DEFAULT '',
  guild_id TEXT NOT NULL DEFAULT '',
  room_ids_json TEXT NOT NULL DEFAULT '[]',
  ts TEXT NOT NULL,
  first_seen INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (message_id, address)
);`

// Ledger is safe for concurrent use. All reads are served from memory;
// every mutation is written through to sqlite before it is visible.
type Ledger struct {
	mu      sync.Mutex
	entries []core.ContractEntry // newest first
	db      *sql.DB
}

// Open loads the persisted ledger at path, newest first, capped at Capacity.
func Open(path string) (*Ledger, error) {
	db, err := storeutil.Open(path, schema)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger")
	}
	l := &Ledger{db: db}
	if err := l.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) load() error {
	rows, err := l.db.Query(`SELECT message_id, address, chain, chain_tag, author_json, channel_id, guild_id, room_ids_json, ts, first_seen
FROM contracts ORDER BY ts DESC LIMIT ?;`, Capacity)
	if err != nil {
		return errors.Wrap(err, "load contracts")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          core.ContractEntry
			authorJSON string
			roomsJSON  string
			ts         string
			firstSeen  int
		)
		if err := rows.Scan(&e.MessageID, &e.Address, &e.Chain, &e.ChainTag, &authorJSON, &e.ChannelID, &e.GuildID, &roomsJSON, &ts, &firstSeen); err != nil {
			return errors.Wrap(err, "scan contract")
		}
		_ = json.Unmarshal([]byte(authorJSON), &e.Author)
		_ = json.Unmarshal([]byte(roomsJSON), &e.RoomIDs)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		e.FirstSeen = firstSeen != 0
		l.entries = append(l.entries, e)
	}
	return errors.Wrap(rows.Err(), "iterate contracts")
}

// Exists reports whether any retained entry carries the address.
func (l *Ledger) Exists(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.existsLocked(address)
}

func (l *Ledger) existsLocked(address string) bool {
	for i := range l.entries {
		if l.entries[i].Address == address {
			return true
		}
	}
	return false
}

// Record inserts the entry at the head of the ledger. Its FirstSeen flag is
// set to true exactly when no retained entry already carries the address.
// The stored (possibly updated) entry is returned.
func (l *Ledger) Record(entry core.ContractEntry) (core.ContractEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.FirstSeen = !l.existsLocked(entry.Address)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := l.persist(entry); err != nil {
		return entry, err
	}

	l.entries = append([]core.ContractEntry{entry}, l.entries...)
	if len(l.entries) > Capacity {
		evicted := l.entries[Capacity:]
		l.entries = l.entries[:Capacity]
		for _, e := range evicted {
			if _, err := l.db.Exec(`DELETE FROM contracts WHERE message_id = ? AND address = ?;`, e.MessageID, e.Address); err != nil {
				return entry, errors.Wrap(err, "evict contract")
			}
		}
	}
	return entry, nil
}

func (l *Ledger) persist(e core.ContractEntry) error {
	authorJSON, _ := json.Marshal(e.Author)
	roomsJSON, _ := json.Marshal(e.RoomIDs)
	firstSeen := 0
	if e.FirstSeen {
		firstSeen = 1
	}
	const q = `INSERT INTO contracts (message_id, address, chain, chain_tag, author_json, channel_id, guild_id, room_ids_json, ts, first_seen)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(message_id, address) DO NOTHING;`
	_, err := l.db.Exec(q, e.MessageID, e.Address, e.Chain, e.ChainTag,
		string(authorJSON), e.ChannelID, e.GuildID, string(roomsJSON),
		e.Timestamp.UTC().Format(time.RFC3339Nano), firstSeen)
	return errors.Wrap(err, "insert contract")
}

// Query returns up to limit entries, newest first. When since is non-zero,
// only entries at or after it are returned.
func (l *Ledger) Query(limit int, since time.Time) []core.ContractEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries
	if !since.IsZero() {
		// Reverse-chronological order makes the filtered set a prefix.
		cut := len(entries)
		for i, e := range entries {
			if e.Timestamp.Before(since) {
				cut = i
				break
			}
		}
		entries = entries[:cut]
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]core.ContractEntry, limit)
	copy(out, entries[:limit])
	return out
}

// Delete removes the entry for one message/address pair.
func (l *Ledger) Delete(messageID, address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec(`DELETE FROM contracts WHERE message_id = ? AND address = ?;`, messageID, address); err != nil {
		return errors.Wrap(err, "delete contract")
	}
	for i := range l.entries {
		if l.entries[i].MessageID == messageID && l.entries[i].Address == address {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	return nil
}

// DeleteAll clears the ledger.
func (l *Ledger) DeleteAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec(`DELETE FROM contracts;`); err != nil {
		return errors.Wrap(err, "clear contracts")
	}
	l.entries = nil
	return nil
}

// UpdateChainTag sets tag on every entry for address whose tag is still
// unset, and reports whether anything changed.
func (l *Ledger) UpdateChainTag(address, tag string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.Exec(`UPDATE contracts SET chain_tag = ? WHERE address = ? AND chain_tag = '';`, tag, address)
	if err != nil {
		return false, errors.Wrap(err, "update chain tag")
	}
	changed := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		changed = true
	}
	for i := range l.entries {
		if l.entries[i].Address == address && l.entries[i].ChainTag == "" {
			l.entries[i].ChainTag = tag
			changed = true
		}
	}
	return changed, nil
}

// Len reports the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Ping verifies the backing database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
