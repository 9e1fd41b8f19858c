package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTemp(t)

	got, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings on empty store: %v", err)
	}
	if got.ContractDetection {
		t.Error("zero settings expected on empty store")
	}

	want := Settings{
		ContractDetection: true,
		HighlightedUsers:  []string{"u1", "u2"},
		Keywords:          []core.KeywordPattern{{Pattern: "rug", MatchMode: "includes"}},
		ChainLinks:        map[string]string{"eth": "https://etherscan.io/address/%s"},
	}
	if err := s.SetSettings(want); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	got, err = s.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
}

func TestRoomCRUD(t *testing.T) {
	s := openTemp(t)

	r1 := Room{
		ID:            "r1",
		Name:          "alpha",
		Channels:      []string{"c1", "c2"},
		FilteredUsers: []string{"u9"},
		FilterEnabled: true,
		Color:         "#ff0000",
	}
	r2 := Room{ID: "r2", Name: "beta", Channels: []string{"c3"}}
	if err := s.SaveRoom(r1); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRoom(r2); err != nil {
		t.Fatal(err)
	}

	rooms, err := s.Rooms()
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != "r1" || rooms[1].ID != "r2" {
		t.Fatalf("rooms = %+v", rooms)
	}

	r1.Name = "alpha-renamed"
	if err := s.SaveRoom(r1); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Room("r1")
	if err != nil || !ok {
		t.Fatalf("Room(r1) ok=%v err=%v", ok, err)
	}
	if got.Name != "alpha-renamed" || !got.FilterEnabled {
		t.Errorf("room = %+v", got)
	}

	if _, ok, _ := s.Room("nope"); ok {
		t.Error("unknown room reported present")
	}

	if err := s.DeleteRoom("r1"); err != nil {
		t.Fatal(err)
	}
	rooms, _ = s.Rooms()
	if len(rooms) != 1 || rooms[0].ID != "r2" {
		t.Errorf("rooms after delete = %+v", rooms)
	}

	if err := s.SaveRoom(Room{}); err == nil {
		t.Error("SaveRoom accepted empty id")
	}
}

func TestTokensPreserveOrder(t *testing.T) {
	s := openTemp(t)

	if toks, err := s.Tokens(); err != nil || len(toks) != 0 {
		t.Fatalf("Tokens on empty store = %v, %v", toks, err)
	}

	want := []string{"tok-b", "tok-a", "tok-c"}
	if err := s.SetTokens(want); err != nil {
		t.Fatalf("SetTokens: %v", err)
	}
	got, err := s.Tokens()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokens = %v, want %v", got, want)
	}

	if err := s.SetTokens([]string{"only"}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Tokens()
	if !reflect.DeepEqual(got, []string{"only"}) {
		t.Errorf("tokens after replace = %v", got)
	}
}
