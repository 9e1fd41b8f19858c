package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

type Config struct {
	Token      string
	Tag        string // short label for logs and events
	GatewayURL string
	APIBase    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter // shared history-fetch pacing; nil disables
}

const (
	maxReconnectAttempts = 10
	dialTimeout          = 10 * time.Second
	writeTimeout         = 10 * time.Second
)

var (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second

	// invalidSessionWait returns the randomized pause before re-identifying.
	invalidSessionWait = func() time.Duration {
		return time.Second + time.Duration(rand.Intn(4000))*time.Millisecond
	}
)

var errReconnectRequested = errors.New("gateway: server requested reconnect")

// Session owns one credential's persistent gateway connection and the local
// directories built from its event stream.
type Session struct {
	cfg    Config
	handle core.Handler

	mu        sync.RWMutex
	conn      *websocket.Conn
	seq       int64
	hasSeq    bool
	sessionID string
	resumeURL string
	hbCancel  context.CancelFunc
	closed    bool

	channelGuild map[string]string
	channelName  map[string]string
	roleNames    map[string]string
	guilds       map[string]*core.GuildInfo
	dms          map[string]*core.DMChannel

	fatalOnce sync.Once
}

func New(cfg Config, h core.Handler) *Session {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Tag == "" && len(cfg.Token) >= 6 {
		cfg.Tag = "…" + cfg.Token[len(cfg.Token)-6:]
	}
	return &Session{
		cfg:          cfg,
		handle:       h,
		channelGuild: make(map[string]string),
		channelName:  make(map[string]string),
		roleNames:    make(map[string]string),
		guilds:       make(map[string]*core.GuildInfo),
		dms:          make(map[string]*core.DMChannel),
	}
}

func (s *Session) Tag() string { return s.cfg.Tag }

// Run drives the connection lifecycle until the context is cancelled, the
// session is disconnected, or the reconnect attempts are exhausted.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Token == "" {
		return errors.New("gateway: token is required")
	}

	backoff := baseBackoff
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isClosed() {
			return nil
		}

		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}
		if s.isClosed() {
			return nil
		}

		if connected {
			attempts = 0
			backoff = baseBackoff
		} else {
			attempts++
		}

		if attempts >= maxReconnectAttempts {
			fatal := fmt.Errorf("gateway[%s]: giving up after %d attempts: %w", s.cfg.Tag, attempts, err)
			s.fatalOnce.Do(func() {
				if s.handle != nil {
					s.handle(core.FatalEvent{SessionTag: s.cfg.Tag, Err: fatal})
				}
			})
			return fatal
		}

		if errors.Is(err, errReconnectRequested) {
			log.Printf("gateway[%s]: reconnect requested; reconnecting in %s", s.cfg.Tag, backoff)
		} else {
			log.Printf("gateway[%s]: disconnected: %v; reconnecting in %s", s.cfg.Tag, err, backoff)
		}

		if !sleepContext(ctx, backoff) {
			return ctx.Err()
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Disconnect stops the heartbeat timer and closes the transport. It is safe
// to call more than once and before Run has been started.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	if s.hbCancel != nil {
		s.hbCancel()
		s.hbCancel = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) runOnce(ctx context.Context) (connected bool, err error) {
	s.mu.RLock()
	endpoint := s.cfg.GatewayURL
	if s.resumeURL != "" {
		endpoint = s.resumeURL
	}
	resuming := s.sessionID != ""
	s.mu.RUnlock()

	log.Printf("gateway[%s]: connecting to %s (resume=%v)", s.cfg.Tag, endpoint, resuming)

	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, endpoint, nil)
	cancelDial()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return false, nil
	}
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.hbCancel != nil {
			s.hbCancel()
			s.hbCancel = nil
		}
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusInternalError, "")
	}()

	reconnect := false
	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			if reconnect {
				return connected, errReconnectRequested
			}
			return connected, fmt.Errorf("read: %w", readErr)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("gateway[%s]: malformed frame: %v", s.cfg.Tag, err)
			continue
		}

		switch f.Op {
		case opHello:
			var hello helloPayload
			if err := json.Unmarshal(f.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
				log.Printf("gateway[%s]: malformed hello: %v", s.cfg.Tag, err)
				continue
			}
			s.startHeartbeat(ctx, conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond)
			if err := s.sendHandshake(ctx, conn); err != nil {
				return connected, fmt.Errorf("handshake: %w", err)
			}

		case opHeartbeatACK:
			// liveness confirmed; no state change

		case opHeartbeat:
			if err := s.sendHeartbeat(ctx, conn); err != nil {
				log.Printf("gateway[%s]: heartbeat reply: %v", s.cfg.Tag, err)
			}

		case opReconnect:
			reconnect = true
			_ = conn.Close(websocket.StatusNormalClosure, "reconnect requested")

		case opInvalidSession:
			log.Printf("gateway[%s]: invalid session; re-identifying", s.cfg.Tag)
			s.clearSession()
			if !sleepContext(ctx, invalidSessionWait()) {
				return connected, ctx.Err()
			}
			if err := s.sendIdentify(ctx, conn); err != nil {
				return connected, fmt.Errorf("re-identify: %w", err)
			}

		case opDispatch:
			if f.S != nil {
				s.setSeq(*f.S)
			}
			connected = true
			s.dispatch(f.T, f.D)
		}
	}
}

// sendHandshake sends a Resume when a prior session id exists, otherwise a
// fresh Identify.
func (s *Session) sendHandshake(ctx context.Context, conn *websocket.Conn) error {
	s.mu.RLock()
	sessionID := s.sessionID
	seq := s.seq
	s.mu.RUnlock()

	if sessionID != "" {
		log.Printf("gateway[%s]: resuming session %s at seq %d", s.cfg.Tag, sessionID, seq)
		return s.send(ctx, conn, frame{Op: opResume}, resumePayload{
			Token:     s.cfg.Token,
			SessionID: sessionID,
			Seq:       seq,
		})
	}
	return s.sendIdentify(ctx, conn)
}

func (s *Session) sendIdentify(ctx context.Context, conn *websocket.Conn) error {
	return s.send(ctx, conn, frame{Op: opIdentify}, identifyPayload{
		Token: s.cfg.Token,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "chrome",
			Device:  "",
		},
	})
}

func (s *Session) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	s.mu.RLock()
	var d any
	if s.hasSeq {
		d = s.seq
	}
	s.mu.RUnlock()
	return s.send(ctx, conn, frame{Op: opHeartbeat}, d)
}

func (s *Session) send(ctx context.Context, conn *websocket.Conn, f frame, d any) error {
	if d != nil {
		raw, err := json.Marshal(d)
		if err != nil {
			return err
		}
		f.D = raw
	} else if f.Op == opHeartbeat {
		f.D = json.RawMessage("null")
	}

	buf, err := json.Marshal(f)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, buf)
}

// startHeartbeat fires the first beat immediately, then every interval, until
// the connection ends or Disconnect cancels it.
func (s *Session) startHeartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	hbCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.hbCancel != nil {
		s.hbCancel()
	}
	s.hbCancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := s.sendHeartbeat(hbCtx, conn); err != nil {
			log.Printf("gateway[%s]: heartbeat: %v", s.cfg.Tag, err)
		}
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := s.sendHeartbeat(hbCtx, conn); err != nil {
					log.Printf("gateway[%s]: heartbeat: %v", s.cfg.Tag, err)
					return
				}
			}
		}
	}()
}

func (s *Session) setSeq(seq int64) {
	s.mu.Lock()
	s.seq = seq
	s.hasSeq = true
	s.mu.Unlock()
}

// clearSession discards the resumable session identity. Called exactly on
// invalid-session signals, never on ordinary disconnects.
func (s *Session) clearSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.seq = 0
	s.hasSeq = false
	s.mu.Unlock()
}

func (s *Session) emit(ev core.Event) {
	if s.handle != nil {
		s.handle(ev)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
