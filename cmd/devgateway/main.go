// devgateway is a local stand-in for the real gateway: it speaks just
// enough of the session protocol (hello, identify, resume, heartbeat,
// dispatch) to exercise trenchcord end to end, and lets you inject
// messages over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opResume       = 6
	opHello        = 10
	opHeartbeatACK = 11
)

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type emitReq struct {
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channelId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
}

type server struct {
	guildID   string
	channelID string

	mu      sync.Mutex
	conns   map[*websocket.Conn]*int64 // conn -> next sequence
	history []json.RawMessage          // emitted message payloads, newest first
	nextID  int64
}

func main() {
	var (
		addr      string
		guildID   string
		channelID string
	)
	flag.StringVar(&addr, "addr", ":9443", "HTTP listen address")
	flag.StringVar(&guildID, "guild", "dev-guild", "Guild id served in READY")
	flag.StringVar(&channelID, "channel", "dev-channel", "Channel id served in READY")
	flag.Parse()

	srv := &server{
		guildID:   guildID,
		channelID: channelID,
		conns:     make(map[*websocket.Conn]*int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", srv.handleGateway)
	mux.HandleFunc("POST /emit", srv.handleEmit)
	mux.HandleFunc("GET /channels/", srv.handleHistory)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	log.Printf("devgateway listening on %s (ws endpoint: /gateway)", addr)
	log.Printf("devgateway: point trenchcord at TRENCHCORD_GATEWAY_URL=ws://localhost%s/gateway TRENCHCORD_API_BASE=http://localhost%s", addr, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *server) handleGateway(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("devgateway: accept: %v", err)
		return
	}
	ctx := r.Context()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	hello, _ := json.Marshal(map[string]any{"heartbeat_interval": 15000})
	if err := writeFrame(ctx, conn, frame{Op: opHello, D: hello}); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Op {
		case opHeartbeat:
			_ = writeFrame(ctx, conn, frame{Op: opHeartbeatACK})
		case opIdentify, opResume:
			seq := new(int64)
			s.mu.Lock()
			s.conns[conn] = seq
			*seq++
			first := *seq
			s.mu.Unlock()
			if err := s.sendReady(ctx, conn, first, f.Op == opResume); err != nil {
				return
			}
		}
	}
}

func (s *server) sendReady(ctx context.Context, conn *websocket.Conn, seq int64, resumed bool) error {
	name := "READY"
	payload := map[string]any{
		"session_id": "dev-session",
		"guilds": []map[string]any{{
			"id":   s.guildID,
			"name": "Dev Guild",
			"channels": []map[string]any{
				{"id": s.channelID, "name": "general", "type": 0},
			},
		}},
	}
	if resumed {
		name = "RESUMED"
		payload = map[string]any{}
	}
	d, _ := json.Marshal(payload)
	return writeFrame(ctx, conn, frame{Op: opDispatch, D: d, S: &seq, T: name})
}

func (s *server) handleEmit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req emitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Text == "" {
		http.Error(w, "username and text required", http.StatusBadRequest)
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = s.channelID
	}

	s.mu.Lock()
	s.nextID++
	if req.ID == "" {
		req.ID = fmt.Sprintf("dev-%d", s.nextID)
	}
	payload, _ := json.Marshal(map[string]any{
		"id":         req.ID,
		"channel_id": req.ChannelID,
		"guild_id":   s.guildID,
		"content":    req.Text,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"author": map[string]any{
			"id":       "dev-" + req.Username,
			"username": req.Username,
		},
	})
	s.history = append([]json.RawMessage{payload}, s.history...)
	if len(s.history) > 200 {
		s.history = s.history[:200]
	}
	type target struct {
		conn *websocket.Conn
		seq  int64
	}
	targets := make([]target, 0, len(s.conns))
	for c, seq := range s.conns {
		*seq++
		targets = append(targets, target{conn: c, seq: *seq})
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	delivered := 0
	for _, t := range targets {
		seq := t.seq
		if err := writeFrame(ctx, t.conn, frame{Op: opDispatch, D: payload, S: &seq, T: "MESSAGE_CREATE"}); err == nil {
			delivered++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": req.ID, "sessions": delivered})
}

// handleHistory serves GET /channels/{id}/messages the way the real history
// endpoint does: newest first.
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "channels" || parts[2] != "messages" {
		http.NotFound(w, r)
		return
	}
	channelID := parts[1]

	s.mu.Lock()
	var out []json.RawMessage
	for _, raw := range s.history {
		var probe struct {
			ChannelID string `json:"channel_id"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.ChannelID == channelID {
			out = append(out, raw)
		}
	}
	s.mu.Unlock()

	if out == nil {
		out = []json.RawMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f frame) error {
	buf, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, buf)
}
