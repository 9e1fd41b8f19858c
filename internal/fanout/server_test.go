package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

type fakeLedger struct {
	entries []core.ContractEntry
	limit   int
	since   time.Time
}

func (f *fakeLedger) Query(limit int, since time.Time) []core.ContractEntry {
	f.limit = limit
	f.since = since
	return f.entries
}

func newTestClient(rooms ...string) *client {
	c := &client{
		send:  make(chan []byte, clientQueueSize),
		rooms: make(map[string]struct{}),
	}
	for _, r := range rooms {
		c.rooms[r] = struct{}{}
	}
	return c
}

func register(s *Server, c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func decodeEnvelope(t *testing.T, buf []byte) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestBroadcastMessageRoomScoping(t *testing.T) {
	s := New(&fakeLedger{}, Options{})
	roomA := newTestClient("A")
	all := newTestClient()
	all.all = true
	register(s, roomA)
	register(s, all)

	msg := core.EnrichedMessage{Message: core.Message{ID: "m1", Text: "hi"}}
	s.BroadcastMessage(msg, []string{"B"})

	if len(roomA.send) != 0 {
		t.Error("room-A client received a room-B message")
	}
	select {
	case buf := <-all.send:
		env := decodeEnvelope(t, buf)
		if env.Type != TypeMessage || len(env.RoomIDs) != 1 || env.RoomIDs[0] != "B" {
			t.Errorf("envelope = %+v", env)
		}
	default:
		t.Fatal("subscribe-all client missed the message")
	}

	s.BroadcastMessage(msg, []string{"A", "C"})
	if len(roomA.send) != 1 {
		t.Error("room-A client missed a message scoped to its room")
	}
	if len(all.send) != 1 {
		t.Error("subscribe-all client missed the second message")
	}
}

func TestGlobalBroadcastsIgnoreSubscriptions(t *testing.T) {
	s := New(&fakeLedger{}, Options{})
	c := newTestClient() // no rooms, no all marker
	register(s, c)

	s.BroadcastAlert(core.EnrichedMessage{Message: core.Message{ID: "m1"}})
	s.BroadcastReactionUpdate(core.ReactionEvent{MessageID: "m1", EmojiName: "🔥", Delta: 1})
	s.BroadcastContract(core.ContractEntry{Address: "0xabc", Chain: "eth"})
	s.BroadcastChainUpdate("SoAddr", "pump")

	want := []string{TypeAlert, TypeReactionUpdate, TypeContract, TypeChainUpdate}
	for _, typ := range want {
		select {
		case buf := <-c.send:
			if env := decodeEnvelope(t, buf); env.Type != typ {
				t.Errorf("got %s, want %s", env.Type, typ)
			}
		default:
			t.Fatalf("missing %s broadcast", typ)
		}
	}
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	s := New(&fakeLedger{}, Options{})
	c := &client{send: make(chan []byte, 1), rooms: make(map[string]struct{}), all: true}
	register(s, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			s.BroadcastAlert(core.EnrichedMessage{Message: core.Message{ID: "m"}})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	if len(c.send) != 1 {
		t.Errorf("queue length = %d, want 1", len(c.send))
	}
}

func TestSubscribeOverWebsocket(t *testing.T) {
	s := New(&fakeLedger{}, Options{})
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsAddr := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// A malformed frame must not close the connection.
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"action":"subscribe","roomId":"A"}`)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// The subscription is applied asynchronously; retry the scoped
	// broadcast until it lands.
	got := make(chan Envelope, 1)
	go func() {
		for {
			_, buf, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(buf, &env) == nil {
				got <- env
				return
			}
		}
	}()

	msg := core.EnrichedMessage{Message: core.Message{ID: "m1", Text: "scoped"}}
	deadline := time.After(3 * time.Second)
	for {
		s.BroadcastMessage(msg, []string{"A"})
		select {
		case env := <-got:
			if env.Type != TypeMessage {
				t.Fatalf("type = %s", env.Type)
			}
			return
		case <-deadline:
			t.Fatal("subscribed client never received scoped message")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestContractsEndpoint(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{entries: []core.ContractEntry{
		{Address: "0xabc", Chain: "eth", MessageID: "m1", Timestamp: now},
	}}
	s := New(ledger, Options{})
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/contracts?limit=5&since=2025-06-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []core.ContractEntry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Address != "0xabc" {
		t.Errorf("body = %+v", got)
	}
	if ledger.limit != 5 {
		t.Errorf("limit passed = %d", ledger.limit)
	}
	if ledger.since.IsZero() {
		t.Error("since not passed through")
	}
}

func TestIPRateLimiter(t *testing.T) {
	l := newIPRateLimiter(1, 2)
	if !l.Allow("1.2.3.4") || !l.Allow("1.2.3.4") {
		t.Fatal("burst rejected")
	}
	if l.Allow("1.2.3.4") {
		t.Error("third immediate request allowed past burst")
	}
	if !l.Allow("5.6.7.8") {
		t.Error("unrelated IP throttled")
	}

	var nilLimiter *ipRateLimiter
	if !nilLimiter.Allow("1.2.3.4") {
		t.Error("nil limiter must allow everything")
	}
}
