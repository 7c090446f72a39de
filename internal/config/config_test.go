package config

import (
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "PIT_ADDR", "PIT_ADMIN_SECRET", "PIT_SESSION_SECONDS", "PIT_TICK_EVERY", "PIT_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	cfg, err := LoadServerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":1236" {
		t.Fatalf("addr got %q", cfg.Addr)
	}
	if !cfg.AdminSecretDefault || cfg.AdminSecret != DefaultAdminSecret {
		t.Fatalf("admin secret got %q default=%v", cfg.AdminSecret, cfg.AdminSecretDefault)
	}
	if cfg.Rules.SessionSeconds != 280 || cfg.Rules.QuietAfter != 270 || cfg.Rules.TickEvery != time.Second {
		t.Fatalf("rules got %+v", cfg.Rules)
	}
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PIT_ADMIN_SECRET", "hunter2")
	t.Setenv("PIT_SESSION_SECONDS", "60")
	t.Setenv("PIT_QUIET_AFTER", "50")
	t.Setenv("PIT_TICK_EVERY", "250ms")
	cfg, err := LoadServerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.AdminSecretDefault {
		t.Fatalf("cfg got %+v", cfg)
	}
	if cfg.Rules.SessionSeconds != 60 || cfg.Rules.QuietAfter != 50 || cfg.Rules.TickEvery != 250*time.Millisecond {
		t.Fatalf("rules got %+v", cfg.Rules)
	}
}

func TestLoadServerRejectsQuietAfterBeyondSession(t *testing.T) {
	t.Setenv("PIT_SESSION_SECONDS", "30")
	t.Setenv("PIT_QUIET_AFTER", "40")
	if _, err := LoadServerFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadServerRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("PIT_LOG_LEVEL", "verbose")
	if _, err := LoadServerFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadBotsClampsCounts(t *testing.T) {
	t.Setenv("PIT_BOTS", "0")
	t.Setenv("PIT_BOT_MAX_QTY", "-3")
	t.Setenv("PIT_SERVER_URL", "http://pit.local:1236/")
	cfg := LoadBotsFromEnv()
	if cfg.Count != 1 || cfg.MaxQty != 1 {
		t.Fatalf("cfg got %+v", cfg)
	}
	if cfg.ServerURL != "http://pit.local:1236" {
		t.Fatalf("server url got %q", cfg.ServerURL)
	}
}
