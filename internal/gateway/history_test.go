package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchRecentMessagesReversesAndBackfills(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "tok" {
			t.Errorf("authorization header = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("limit = %q", got)
		}
		// newest-first, as the platform returns it
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "m2", "channel_id": "c1", "content": "second",
				"author": map[string]any{"id": "u1", "username": "a"}},
			{"id": "m1", "channel_id": "c1", "content": "first",
				"author": map[string]any{"id": "u1", "username": "a"}},
		})
	}))
	defer srv.Close()

	s := New(Config{Token: "tok", APIBase: srv.URL}, nil)
	s.applyGuild(json.RawMessage(`{"id":"g1","name":"G","channels":[{"id":"c1","name":"general","type":0}]}`))

	msgs, err := s.FetchRecentMessages(context.Background(), "c1", 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("order = %s, %s; want chronological", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].GuildID != "g1" {
		t.Fatalf("guild id not backfilled: %q", msgs[0].GuildID)
	}
}

func TestFetchRecentMessagesNonSuccessIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(Config{Token: "tok", APIBase: srv.URL}, nil)
	msgs, err := s.FetchRecentMessages(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("non-success must not be an error, got %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty list, got %d", len(msgs))
	}
}

func TestFetchRecentMessagesMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	s := New(Config{Token: "tok", APIBase: srv.URL}, nil)
	msgs, err := s.FetchRecentMessages(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("malformed payload must not be an error, got %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty list, got %d", len(msgs))
	}
}
