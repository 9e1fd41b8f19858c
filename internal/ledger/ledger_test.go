package ledger

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func entry(msgID, addr string, ts time.Time) core.ContractEntry {
	return core.ContractEntry{
		MessageID: msgID,
		Address:   addr,
		Chain:     "eth",
		Author:    core.Identity{ID: "u1", Username: "caller"},
		ChannelID: "c1",
		Timestamp: ts,
	}
}

func TestRecordFirstSeen(t *testing.T) {
	l := openTemp(t)
	now := time.Now().UTC()

	got, err := l.Record(entry("m1", "0xabc", now))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !got.FirstSeen {
		t.Error("first sighting not flagged firstSeen")
	}

	got, err = l.Record(entry("m2", "0xabc", now.Add(time.Second)))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got.FirstSeen {
		t.Error("repeat sighting flagged firstSeen")
	}
	if !l.Exists("0xabc") {
		t.Error("Exists = false for recorded address")
	}
	if l.Exists("0xdef") {
		t.Error("Exists = true for unknown address")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	l := openTemp(t)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i <= Capacity; i++ {
		e := entry(fmt.Sprintf("m%d", i), fmt.Sprintf("0x%040d", i), base.Add(time.Duration(i)*time.Millisecond))
		if _, err := l.Record(e); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	if l.Len() != Capacity {
		t.Fatalf("Len = %d, want %d", l.Len(), Capacity)
	}
	if l.Exists("0x" + fmt.Sprintf("%040d", 0)) {
		t.Error("oldest entry survived eviction")
	}
	if !l.Exists("0x" + fmt.Sprintf("%040d", 1)) {
		t.Error("second-oldest entry evicted")
	}

	all := l.Query(0, time.Time{})
	if len(all) != Capacity {
		t.Fatalf("Query returned %d entries", len(all))
	}
	if all[0].MessageID != fmt.Sprintf("m%d", Capacity) {
		t.Errorf("head = %s, want newest", all[0].MessageID)
	}
}

func TestQueryLimitAndSince(t *testing.T) {
	l := openTemp(t)
	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		if _, err := l.Record(entry(fmt.Sprintf("m%d", i), fmt.Sprintf("0x%d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got := l.Query(2, time.Time{})
	if len(got) != 2 || got[0].MessageID != "m4" || got[1].MessageID != "m3" {
		t.Errorf("limit query = %v", ids(got))
	}

	got = l.Query(0, base.Add(3*time.Second))
	if len(got) != 2 || got[0].MessageID != "m4" || got[1].MessageID != "m3" {
		t.Errorf("since query = %v", ids(got))
	}
}

func ids(entries []core.ContractEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.MessageID
	}
	return out
}

func TestDelete(t *testing.T) {
	l := openTemp(t)
	now := time.Now().UTC()
	if _, err := l.Record(entry("m1", "0xabc", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Record(entry("m2", "0xdef", now)); err != nil {
		t.Fatal(err)
	}

	if err := l.Delete("m1", "0xabc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if l.Exists("0xabc") {
		t.Error("deleted entry still present")
	}
	if !l.Exists("0xdef") {
		t.Error("unrelated entry removed")
	}

	if err := l.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len after DeleteAll = %d", l.Len())
	}
}

func TestUpdateChainTag(t *testing.T) {
	l := openTemp(t)
	now := time.Now().UTC()
	if _, err := l.Record(entry("m1", "SoAddr", now)); err != nil {
		t.Fatal(err)
	}
	tagged := entry("m2", "SoAddr", now)
	tagged.ChainTag = "pump"
	if _, err := l.Record(tagged); err != nil {
		t.Fatal(err)
	}

	changed, err := l.UpdateChainTag("SoAddr", "bonk")
	if err != nil {
		t.Fatalf("UpdateChainTag: %v", err)
	}
	if !changed {
		t.Error("unset entry not updated")
	}
	for _, e := range l.Query(0, time.Time{}) {
		switch e.MessageID {
		case "m1":
			if e.ChainTag != "bonk" {
				t.Errorf("m1 tag = %q", e.ChainTag)
			}
		case "m2":
			if e.ChainTag != "pump" {
				t.Errorf("m2 tag overwritten to %q", e.ChainTag)
			}
		}
	}

	changed, err = l.UpdateChainTag("SoAddr", "bonk")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("second update reported a change")
	}
}

func TestReopenLoadsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if _, err := l.Record(entry("m1", "0xabc", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Record(entry("m2", "0xdef", now.Add(time.Second))); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	got := l2.Query(0, time.Time{})
	if len(got) != 2 || got[0].MessageID != "m2" || got[1].MessageID != "m1" {
		t.Fatalf("reloaded entries = %v", ids(got))
	}
	if got[1].Author.Username != "caller" {
		t.Errorf("author lost on reload: %+v", got[1].Author)
	}
	if !got[1].FirstSeen {
		t.Error("firstSeen flag lost on reload")
	}
}
