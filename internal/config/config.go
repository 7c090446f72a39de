package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tradepit/internal/game"
)

const DefaultAdminSecret = "admin123"

type ServerConfig struct {
	Addr               string
	AdminSecret        string
	AdminSecretDefault bool
	TokenSecret        string
	TokenTTL           time.Duration
	ArchiveDatabaseURL string
	LogLevel           string
	Rules              game.Rules
}

type CLIConfig struct {
	ServerURL string
}

type BotsConfig struct {
	ServerURL  string
	Count      int
	TradeEvery time.Duration
	MaxQty     int
}

func LoadServerFromEnv() (ServerConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("PIT_ADDR", ":1236")
	}

	d := game.DefaultRules()
	cfg := ServerConfig{
		Addr:               addr,
		AdminSecret:        envDefault("PIT_ADMIN_SECRET", DefaultAdminSecret),
		TokenSecret:        strings.TrimSpace(os.Getenv("PIT_TOKEN_SECRET")),
		TokenTTL:           envDurationDefault("PIT_TOKEN_TTL", 12*time.Hour),
		ArchiveDatabaseURL: strings.TrimSpace(os.Getenv("PIT_ARCHIVE_DATABASE_URL")),
		LogLevel:           strings.ToLower(envDefault("PIT_LOG_LEVEL", "info")),
		Rules: game.Rules{
			SessionSeconds:   envIntDefault("PIT_SESSION_SECONDS", d.SessionSeconds),
			CountdownSeconds: envIntDefault("PIT_COUNTDOWN_SECONDS", d.CountdownSeconds),
			QuietAfter:       envIntDefault("PIT_QUIET_AFTER", d.QuietAfter),
			LossLimit:        int64(envIntDefault("PIT_LOSS_LIMIT", int(d.LossLimit))),
			HistoryCapacity:  envIntDefault("PIT_HISTORY_CAPACITY", d.HistoryCapacity),
			SnapshotHistory:  envIntDefault("PIT_SNAPSHOT_HISTORY", d.SnapshotHistory),
			TickEvery:        envDurationDefault("PIT_TICK_EVERY", d.TickEvery),
		},
	}
	cfg.AdminSecretDefault = cfg.AdminSecret == DefaultAdminSecret

	r := cfg.Rules
	if r.SessionSeconds <= 0 || r.CountdownSeconds <= 0 || r.LossLimit <= 0 || r.TickEvery <= 0 {
		return cfg, fmt.Errorf("session, countdown, loss limit and tick interval must be positive")
	}
	if r.QuietAfter <= 0 || r.QuietAfter > r.SessionSeconds {
		return cfg, fmt.Errorf("PIT_QUIET_AFTER must be between 1 and PIT_SESSION_SECONDS (%d)", r.SessionSeconds)
	}
	if r.HistoryCapacity <= 0 || r.SnapshotHistory <= 0 || r.SnapshotHistory > r.HistoryCapacity {
		return cfg, fmt.Errorf("PIT_SNAPSHOT_HISTORY must be between 1 and PIT_HISTORY_CAPACITY (%d)", r.HistoryCapacity)
	}
	if cfg.TokenTTL <= 0 {
		return cfg, fmt.Errorf("PIT_TOKEN_TTL must be positive")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return cfg, fmt.Errorf("PIT_LOG_LEVEL must be one of debug, info, warn, error")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		ServerURL: strings.TrimRight(envDefault("PIT_SERVER_URL", "http://localhost:1236"), "/"),
	}
}

func LoadBotsFromEnv() BotsConfig {
	cfg := BotsConfig{
		ServerURL:  strings.TrimRight(envDefault("PIT_SERVER_URL", "http://localhost:1236"), "/"),
		Count:      envIntDefault("PIT_BOTS", 20),
		TradeEvery: envDurationDefault("PIT_BOT_TRADE_EVERY", 3*time.Second),
		MaxQty:     envIntDefault("PIT_BOT_MAX_QTY", 10),
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.MaxQty <= 0 {
		cfg.MaxQty = 1
	}
	if cfg.TradeEvery <= 0 {
		cfg.TradeEvery = 3 * time.Second
	}
	return cfg
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
