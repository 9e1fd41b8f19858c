// Package fanout pushes enriched events to subscribed websocket clients and
// serves the small read-only HTTP surface next to them.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

const clientQueueSize = 256

// LedgerReader is the slice of the contract ledger the HTTP surface needs.
type LedgerReader interface {
	Query(limit int, since time.Time) []core.ContractEntry
}

type Options struct {
	Addr           string
	RateLimitRPS   int
	RateLimitBurst int
	EnableMetrics  bool
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	ledger     LedgerReader
	metrics    *Metrics
	limiter    *ipRateLimiter

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// client is one websocket consumer. Its subscription set is guarded by its
// own mutex so reads during broadcast never contend with the server lock.
type client struct {
	send chan []byte

	mu    sync.Mutex
	rooms map[string]struct{}
	all   bool
}

func (c *client) setRoom(roomID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.rooms[roomID] = struct{}{}
	} else {
		delete(c.rooms, roomID)
	}
}

func (c *client) setAll() {
	c.mu.Lock()
	c.all = true
	c.mu.Unlock()
}

func (c *client) wants(roomIDs []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.all {
		return true
	}
	for _, id := range roomIDs {
		if _, ok := c.rooms[id]; ok {
			return true
		}
	}
	return false
}

func New(ledger LedgerReader, opts Options) *Server {
	srv := &Server{
		ledger:  ledger,
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		clients: make(map[*client]struct{}),
	}
	if opts.EnableMetrics {
		srv.metrics = newMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	mux.HandleFunc("/healthz", srv.limited(srv.handleHealthz))
	mux.HandleFunc("/contracts", srv.limited(srv.handleContracts))
	if srv.metrics != nil {
		mux.Handle("/metrics", srv.metrics.Handler())
	}
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Mux exposes the server's mux so the owner can mount extra routes before
// Start is called.
func (s *Server) Mux() *http.ServeMux { return s.mux }

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}

	entries := s.ledger.Query(limit, since)
	if entries == nil {
		entries = []core.ContractEntry{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("fanout: accept failed: %v", err)
		return
	}

	c := &client{
		send:  make(chan []byte, clientQueueSize),
		rooms: make(map[string]struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncClients(1)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.metrics.IncClients(-1)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx, conn, c)
	}()
	s.readLoop(ctx, conn, c)
	<-done
}

// readLoop consumes control frames until the connection drops. Malformed
// frames and unknown actions are ignored.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var ctl controlFrame
		if err := json.Unmarshal(data, &ctl); err != nil {
			continue
		}
		switch ctl.Action {
		case actionSubscribe:
			if ctl.RoomID != "" {
				c.setRoom(ctl.RoomID, true)
			}
		case actionUnsubscribe:
			if ctl.RoomID != "" {
				c.setRoom(ctl.RoomID, false)
			}
		case actionSubscribeAll:
			c.setAll()
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, buf)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// broadcast enqueues the encoded envelope on every interested client. A full
// client queue drops the event for that client only.
func (s *Server) broadcast(typ string, data any, roomIDs []string, scoped bool) {
	buf, err := encodeEnvelope(typ, data, roomIDs)
	if err != nil {
		log.Printf("fanout: encode %s envelope: %v", typ, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for c := range s.clients {
		if scoped && !c.wants(roomIDs) {
			continue
		}
		select {
		case c.send <- buf:
			s.metrics.IncSent(typ)
		default:
			s.metrics.IncDrops(typ)
		}
	}
}

// BroadcastMessage delivers an enriched message to clients subscribed to any
// of the given rooms (or to everything).
func (s *Server) BroadcastMessage(msg core.EnrichedMessage, roomIDs []string) {
	s.broadcast(TypeMessage, msg, roomIDs, true)
}

func (s *Server) BroadcastMessageUpdate(msg core.EnrichedMessage, roomIDs []string) {
	s.broadcast(TypeMessageUpdate, msg, roomIDs, true)
}

// The remaining broadcast kinds are low-volume and globally relevant, so
// they go to every open connection regardless of subscriptions.

func (s *Server) BroadcastAlert(msg core.EnrichedMessage) {
	s.broadcast(TypeAlert, msg, nil, false)
}

func (s *Server) BroadcastReactionUpdate(ev core.ReactionEvent) {
	s.broadcast(TypeReactionUpdate, ev, nil, false)
}

func (s *Server) BroadcastContract(entry core.ContractEntry) {
	s.broadcast(TypeContract, entry, nil, false)
}

func (s *Server) BroadcastChainUpdate(address, tag string) {
	s.broadcast(TypeChainUpdate, map[string]string{"address": address, "chainTag": tag}, nil, false)
}

func (s *Server) Start() error {
	log.Printf("fanout: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.send)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
