package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DanielHighETH/trenchcord-sub000/internal/app"
	"github.com/DanielHighETH/trenchcord-sub000/internal/config"
	"github.com/DanielHighETH/trenchcord-sub000/internal/fanout"
	"github.com/DanielHighETH/trenchcord-sub000/internal/filestore"
	httpadmin "github.com/DanielHighETH/trenchcord-sub000/internal/http"
	"github.com/DanielHighETH/trenchcord-sub000/internal/ledger"
	"github.com/DanielHighETH/trenchcord-sub000/internal/notify"
	"github.com/DanielHighETH/trenchcord-sub000/internal/store"
	"github.com/DanielHighETH/trenchcord-sub000/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag  bool
		storePath    string
		gatewayURL   string
		apiBase      string
		tokenFile    string
		fanoutAddr   string
		rateRPS      int
		rateBurst    int
		metricsFlag  bool
		pushEndpoint string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&storePath, "store", "", "Path to the sqlite store (settings/rooms/tokens)")
	flag.StringVar(&gatewayURL, "gateway-url", "", "Gateway websocket endpoint")
	flag.StringVar(&apiBase, "api-base", "", "REST API base URL for history fetches")
	flag.StringVar(&tokenFile, "token-file", "", "Path to the credential file (one token per line)")
	flag.StringVar(&fanoutAddr, "fanout-addr", "", "Fan-out listen address (e.g., :8765)")
	flag.IntVar(&rateRPS, "fanout-rate-rps", 0, "Maximum HTTP requests per second per client")
	flag.IntVar(&rateBurst, "fanout-rate-burst", 0, "Burst size for the HTTP rate limiter")
	flag.BoolVar(&metricsFlag, "fanout-metrics", true, "Expose Prometheus metrics endpoint")
	flag.StringVar(&pushEndpoint, "push-endpoint", "", "Push-notification endpoint URL")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"trenchcord version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["store"] {
		cfg.Store.Path = strings.TrimSpace(storePath)
	}
	if overrides["gateway-url"] {
		cfg.Gateway.URL = strings.TrimSpace(gatewayURL)
	}
	if overrides["api-base"] {
		cfg.Gateway.APIBase = strings.TrimSpace(apiBase)
	}
	if overrides["token-file"] {
		cfg.Gateway.TokenFile = strings.TrimSpace(tokenFile)
	}
	if overrides["fanout-addr"] {
		cfg.Fanout.Addr = strings.TrimSpace(fanoutAddr)
	}
	if overrides["fanout-rate-rps"] {
		cfg.Fanout.RateLimitRPS = rateRPS
	}
	if overrides["fanout-rate-burst"] {
		cfg.Fanout.RateLimitBurst = rateBurst
	}
	if overrides["fanout-metrics"] {
		cfg.Fanout.EnableMetrics = metricsFlag
	}
	if overrides["push-endpoint"] {
		cfg.Notify.Endpoint = strings.TrimSpace(pushEndpoint)
	}

	log.Printf("trenchcord: starting with config:\n%s", cfg.RedactedJSON())

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("trenchcord: open store: %v", err)
	}
	defer st.Close()

	lg, err := ledger.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("trenchcord: open ledger: %v", err)
	}
	defer lg.Close()

	if _, err := filestore.New(cfg.Sounds.Dir); err != nil {
		log.Printf("trenchcord: sound store unavailable: %v", err)
	}

	srv := fanout.New(lg, fanout.Options{
		Addr:           cfg.Fanout.Addr,
		RateLimitRPS:   cfg.Fanout.RateLimitRPS,
		RateLimitBurst: cfg.Fanout.RateLimitBurst,
		EnableMetrics:  cfg.Fanout.EnableMetrics,
	})

	application := app.New(cfg, st, lg, srv, notify.New(cfg.Notify.Endpoint))
	httpadmin.New(application).Register(srv.Mux())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n, err := application.Start(ctx)
	if err != nil {
		log.Fatalf("trenchcord: start sessions: %v", err)
	}
	if n == 0 {
		log.Printf("trenchcord: no credentials yet; POST /admin/sessions/reload after adding some")
	}
	if err := application.WatchTokenFile(); err != nil {
		log.Printf("trenchcord: watch token file: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("trenchcord: fanout server: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	application.Shutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("trenchcord: fanout shutdown: %v", err)
	}
	cancelShutdown()

	// allow session goroutines to finish cleanly
	time.Sleep(100 * time.Millisecond)
	log.Printf("trenchcord: shutdown complete")
}
