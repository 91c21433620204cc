package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.JWTExpiresIn != 7*24*time.Hour {
		t.Errorf("JWTExpiresIn = %s, want 168h", cfg.JWTExpiresIn)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTimeout != 90*time.Second {
		t.Errorf("HeartbeatTimeout = %s, want 90s", cfg.HeartbeatTimeout)
	}
	if len(cfg.STUNServers) != 2 {
		t.Errorf("STUNServers = %v, want two defaults", cfg.STUNServers)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", cfg.AllowedOrigins)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "too-short")
	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded with a short JWT_SECRET")
	}
}

func TestLoadDaySuffix(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_EXPIRES_IN", "7d")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWTExpiresIn != 7*24*time.Hour {
		t.Errorf("JWTExpiresIn = %s, want 168h", cfg.JWTExpiresIn)
	}
}

func TestLoadCollectsParseErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("HEARTBEAT_INTERVAL", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded with invalid values")
	}
	msg := err.Error()
	if !strings.Contains(msg, "PORT") || !strings.Contains(msg, "HEARTBEAT_INTERVAL") {
		t.Errorf("error should mention both invalid variables, got %q", msg)
	}
}

func TestLoadListParsing(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ALLOWED_ORIGINS", "https://app.peerdeck.dev, https://staging.peerdeck.dev")
	t.Setenv("STUN_SERVERS", "stun:stun.example.com:3478")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://staging.peerdeck.dev" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if len(cfg.STUNServers) != 1 || cfg.STUNServers[0] != "stun:stun.example.com:3478" {
		t.Errorf("STUNServers = %v", cfg.STUNServers)
	}
}

func TestLoadTimeoutOrdering(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HEARTBEAT_INTERVAL", "60s")
	t.Setenv("HEARTBEAT_TIMEOUT", "30s")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted a timeout shorter than the interval")
	}
}
