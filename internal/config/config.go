package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Store   StoreConfig
	Gateway GatewayConfig
	Fanout  FanoutConfig
	Notify  NotifyConfig
	Sounds  SoundsConfig
}

type StoreConfig struct {
	Path string
}

type GatewayConfig struct {
	URL        string
	APIBase    string
	TokenFile  string
	HistoryRPS int
}

type FanoutConfig struct {
	Addr          string
	RateLimitRPS  int
	RateLimitBurst int
	EnableMetrics bool
}

type NotifyConfig struct {
	Endpoint string
}

type SoundsConfig struct {
	Dir string
}

const (
	defaultStorePath  = "trenchcord.db"
	defaultGatewayURL = "wss://gateway.discord.gg/?v=9&encoding=json"
	defaultAPIBase    = "https://discord.com/api/v9"
	defaultFanoutAddr = ":8765"
	defaultHistoryRPS = 2
	defaultRateRPS    = 20
	defaultRateBurst  = 40
	defaultSoundsDir  = "sounds"
)

func Load() Config {
	cfg := Config{}

	cfg.Store.Path = strings.TrimSpace(os.Getenv("TRENCHCORD_STORE_PATH"))
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath
	}

	cfg.Gateway.URL = strings.TrimSpace(os.Getenv("TRENCHCORD_GATEWAY_URL"))
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = defaultGatewayURL
	}
	cfg.Gateway.APIBase = strings.TrimSpace(os.Getenv("TRENCHCORD_API_BASE"))
	if cfg.Gateway.APIBase == "" {
		cfg.Gateway.APIBase = defaultAPIBase
	}
	cfg.Gateway.TokenFile = strings.TrimSpace(os.Getenv("TRENCHCORD_TOKEN_FILE"))
	cfg.Gateway.HistoryRPS = readInt("TRENCHCORD_HISTORY_RPS", defaultHistoryRPS)

	cfg.Fanout.Addr = strings.TrimSpace(os.Getenv("TRENCHCORD_FANOUT_ADDR"))
	if cfg.Fanout.Addr == "" {
		cfg.Fanout.Addr = defaultFanoutAddr
	}
	cfg.Fanout.RateLimitRPS = readInt("TRENCHCORD_FANOUT_RATE_RPS", defaultRateRPS)
	cfg.Fanout.RateLimitBurst = readInt("TRENCHCORD_FANOUT_RATE_BURST", defaultRateBurst)
	cfg.Fanout.EnableMetrics = readBool("TRENCHCORD_FANOUT_METRICS", true)

	cfg.Notify.Endpoint = strings.TrimSpace(os.Getenv("TRENCHCORD_PUSH_ENDPOINT"))

	cfg.Sounds.Dir = strings.TrimSpace(os.Getenv("TRENCHCORD_SOUNDS_DIR"))
	if cfg.Sounds.Dir == "" {
		cfg.Sounds.Dir = defaultSoundsDir
	}

	return cfg
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// Redacted returns a loggable view of the configuration with secret-bearing
// fields masked.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"store": map[string]any{
			"path": c.Store.Path,
		},
		"gateway": map[string]any{
			"url":         c.Gateway.URL,
			"api_base":    c.Gateway.APIBase,
			"token_file":  c.Gateway.TokenFile,
			"history_rps": c.Gateway.HistoryRPS,
		},
		"fanout": map[string]any{
			"addr":       c.Fanout.Addr,
			"rate_rps":   c.Fanout.RateLimitRPS,
			"rate_burst": c.Fanout.RateLimitBurst,
			"metrics":    c.Fanout.EnableMetrics,
		},
		"notify": map[string]any{
			"endpoint": redactString(c.Notify.Endpoint),
		},
		"sounds": map[string]any{
			"dir": c.Sounds.Dir,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
