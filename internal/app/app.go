// Package app owns the running coordinator and the event pipeline from
// gateway dispatch to fan-out broadcast.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/DanielHighETH/trenchcord-sub000/internal/config"
	"github.com/DanielHighETH/trenchcord-sub000/internal/coordinator"
	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
	"github.com/DanielHighETH/trenchcord-sub000/internal/enrich"
	"github.com/DanielHighETH/trenchcord-sub000/internal/fanout"
	"github.com/DanielHighETH/trenchcord-sub000/internal/gateway"
	"github.com/DanielHighETH/trenchcord-sub000/internal/ledger"
	"github.com/DanielHighETH/trenchcord-sub000/internal/notify"
	"github.com/DanielHighETH/trenchcord-sub000/internal/store"
)

const backfillLimit = 50

// Broadcaster is the slice of the fan-out server the pipeline drives.
type Broadcaster interface {
	BroadcastMessage(msg core.EnrichedMessage, roomIDs []string)
	BroadcastMessageUpdate(msg core.EnrichedMessage, roomIDs []string)
	BroadcastAlert(msg core.EnrichedMessage)
	BroadcastReactionUpdate(ev core.ReactionEvent)
	BroadcastContract(entry core.ContractEntry)
}

var _ Broadcaster = (*fanout.Server)(nil)

type App struct {
	cfg      config.Config
	store    *store.Store
	ledger   *ledger.Ledger
	fanout   Broadcaster
	pipeline *enrich.Pipeline
	notifier *notify.Client
	limiter  *rate.Limiter

	mu      sync.Mutex
	baseCtx context.Context
	coord   *coordinator.Coordinator
}

func New(cfg config.Config, st *store.Store, lg *ledger.Ledger, fo Broadcaster, notifier *notify.Client) *App {
	a := &App{
		cfg:      cfg,
		store:    st,
		ledger:   lg,
		fanout:   fo,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Gateway.HistoryRPS), cfg.Gateway.HistoryRPS),
		baseCtx:  context.Background(),
	}
	a.pipeline = enrich.New(a.enrichSettings)
	return a
}

// Start builds the first coordinator from the stored credentials. ctx bounds
// every session the app will ever run, including ones created by later
// reloads.
func (a *App) Start(ctx context.Context) (int, error) {
	a.mu.Lock()
	a.baseCtx = ctx
	a.mu.Unlock()
	return a.ReloadSessions()
}

// ReloadSessions replaces the running coordinator with one built from the
// current credential list and returns the new session count. Safe to call at
// any time; the old coordinator is disconnected first.
func (a *App) ReloadSessions() (int, error) {
	tokens, err := a.loadTokens()
	if err != nil {
		return 0, err
	}

	cfgs := make([]gateway.Config, 0, len(tokens))
	for _, token := range tokens {
		cfgs = append(cfgs, gateway.Config{
			Token:      token,
			GatewayURL: a.cfg.Gateway.URL,
			APIBase:    a.cfg.Gateway.APIBase,
			Limiter:    a.limiter,
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.coord != nil {
		a.coord.Disconnect()
		a.coord = nil
	}
	if len(cfgs) == 0 {
		log.Printf("app: no credentials configured, sessions stopped")
		return 0, nil
	}

	coord := coordinator.New(cfgs, a.onEvent)
	coord.Start(a.baseCtx)
	a.coord = coord
	log.Printf("app: started %d gateway session(s)", len(cfgs))
	return len(cfgs), nil
}

// loadTokens prefers the watched token file (one credential per line) and
// mirrors it into the store; otherwise the stored list is used.
func (a *App) loadTokens() ([]string, error) {
	if path := a.cfg.Gateway.TokenFile; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		var tokens []string
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			tokens = append(tokens, line)
		}
		if err := a.store.SetTokens(tokens); err != nil {
			log.Printf("app: mirror tokens to store: %v", err)
		}
		return tokens, nil
	}
	return a.store.Tokens()
}

func (a *App) ctx() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseCtx
}

// Coordinator returns the current coordinator, or nil when no sessions run.
func (a *App) Coordinator() *coordinator.Coordinator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.coord
}

func (a *App) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coord != nil {
		a.coord.Disconnect()
		a.coord = nil
	}
}

func (a *App) enrichSettings() enrich.Settings {
	cfg, err := a.store.Settings()
	if err != nil {
		log.Printf("app: read settings: %v", err)
		return enrich.Settings{}
	}
	return enrich.Settings{
		ContractDetection: cfg.ContractDetection,
		HighlightedUsers:  cfg.HighlightedUsers,
		Keywords:          cfg.Keywords,
	}
}
