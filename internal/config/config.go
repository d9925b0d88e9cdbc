package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	Gateway    GatewayConfig
	Auth       AuthConfig
	Ledger     LedgerConfig
	HTTP       HTTPConfig
}

type GatewayConfig struct {
	URL             string
	Username        string
	AutoConnect     bool
	ConnectDelayMS  int
	DialTimeoutSecs int
}

type AuthConfig struct {
	Token     string
	TokenFile string
}

type LedgerConfig struct {
	Path       string
	BatchSize  int
	FlushMaxMS int
}

type HTTPConfig struct {
	RateRPS   int
	RateBurst int
	Metrics   bool
}

const (
	defaultListenAddr   = ":21213"
	defaultGatewayURL   = "ws://127.0.0.1:21215/gateway"
	defaultConnectDelay = 1500
	defaultDialTimeout  = 10
	defaultBatchSize    = 1
	defaultFlushMS      = 0
	defaultRateRPS      = 20
	defaultRateBurst    = 40
)

func Load() Config {
	cfg := Config{}

	cfg.ListenAddr = strings.TrimSpace(os.Getenv("OVERLAY_LISTEN_ADDR"))
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}

	cfg.Gateway.URL = strings.TrimSpace(os.Getenv("OVERLAY_GATEWAY_URL"))
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = defaultGatewayURL
	}
	cfg.Gateway.Username = strings.TrimSpace(os.Getenv("OVERLAY_USERNAME"))
	cfg.Gateway.AutoConnect = cfg.Gateway.Username != ""
	cfg.Gateway.ConnectDelayMS = readInt("OVERLAY_AUTOCONNECT_DELAY_MS", defaultConnectDelay)
	cfg.Gateway.DialTimeoutSecs = readInt("OVERLAY_DIAL_TIMEOUT_SECS", defaultDialTimeout)

	cfg.Auth.Token = strings.TrimSpace(os.Getenv("OVERLAY_AUTH_TOKEN"))
	cfg.Auth.TokenFile = strings.TrimSpace(os.Getenv("OVERLAY_AUTH_TOKEN_FILE"))

	cfg.Ledger.Path = strings.TrimSpace(os.Getenv("OVERLAY_GIFT_LEDGER_PATH"))
	cfg.Ledger.BatchSize = readInt("OVERLAY_GIFT_LEDGER_BATCH_SIZE", defaultBatchSize)
	cfg.Ledger.FlushMaxMS = readInt("OVERLAY_GIFT_LEDGER_FLUSH_MAX_MS", defaultFlushMS)

	cfg.HTTP.RateRPS = readInt("OVERLAY_HTTP_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("OVERLAY_HTTP_RATE_BURST", defaultRateBurst)
	cfg.HTTP.Metrics = readBool("OVERLAY_HTTP_METRICS", true)

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

func (c Config) ConnectDelay() time.Duration {
	if c.Gateway.ConnectDelayMS <= 0 {
		return 0
	}
	return time.Duration(c.Gateway.ConnectDelayMS) * time.Millisecond
}

func (c Config) DialTimeout() time.Duration {
	if c.Gateway.DialTimeoutSecs <= 0 {
		return time.Duration(defaultDialTimeout) * time.Second
	}
	return time.Duration(c.Gateway.DialTimeoutSecs) * time.Second
}

func (c Config) FlushInterval() time.Duration {
	if c.Ledger.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Ledger.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Ledger.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Ledger.BatchSize
}

func (c Config) LedgerEnabled() bool {
	return c.Ledger.Path != ""
}

// Redacted returns a loggable view of the configuration with the auth token
// masked.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"listen_addr": c.ListenAddr,
		"gateway": map[string]any{
			"url":               c.Gateway.URL,
			"username":          c.Gateway.Username,
			"auto_connect":      c.Gateway.AutoConnect,
			"connect_delay_ms":  c.Gateway.ConnectDelayMS,
			"dial_timeout_secs": c.Gateway.DialTimeoutSecs,
		},
		"auth": map[string]any{
			"token":      redactString(c.Auth.Token),
			"token_file": c.Auth.TokenFile,
		},
		"ledger": map[string]any{
			"path":     c.Ledger.Path,
			"batch":    c.Ledger.BatchSize,
			"flush_ms": c.Ledger.FlushMaxMS,
		},
		"http": map[string]any{
			"rate_rps":   c.HTTP.RateRPS,
			"rate_burst": c.HTTP.RateBurst,
			"metrics":    c.HTTP.Metrics,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.Marshal(c.Redacted())
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
