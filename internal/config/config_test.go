package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleConfig = `{
	"server": {"port": "9090", "environment": "test"},
	"database": {"dsn": "postgres://localhost/gateway"},
	"integrations": [
		{"name": "shopify", "base_url": "https://shop.example.com", "max_requests_per_second": 2, "burst_size": 10}
	],
	"webhooks": [
		{"source": "shopify", "secret": "file-secret"}
	]
}`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if len(cfg.Integrations) != 1 || cfg.Integrations[0].Name != "shopify" {
		t.Fatalf("expected one shopify integration, got %+v", cfg.Integrations)
	}
	if cfg.Integrations[0].MaxRequestsPerSecond != 2 {
		t.Errorf("expected rate 2, got %v", cfg.Integrations[0].MaxRequestsPerSecond)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port, got %s", cfg.Server.Port)
	}
	if cfg.Auth.ExpiryHours != 24 {
		t.Errorf("expected default token expiry, got %d", cfg.Auth.ExpiryHours)
	}
	if cfg.Idempotency.HeaderName != "Idempotency-Key" {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.HeaderName)
	}
	if cfg.Idempotency.TTL() != 24*time.Hour {
		t.Errorf("expected 24h TTL, got %v", cfg.Idempotency.TTL())
	}
	if cfg.Idempotency.MaxEntries != 10000 {
		t.Errorf("expected default cap, got %d", cfg.Idempotency.MaxEntries)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET", "env-jwt")
	t.Setenv("INTEGRATION_SHOPIFY_TOKEN", "env-token")
	t.Setenv("WEBHOOK_SHOPIFY_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected env port override, got %s", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "env-jwt" {
		t.Errorf("expected env jwt secret, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.Integrations[0].AuthToken != "env-token" {
		t.Errorf("expected env integration token, got %s", cfg.Integrations[0].AuthToken)
	}
	if cfg.Webhooks[0].Secret != "env-secret" {
		t.Errorf("expected env webhook secret, got %s", cfg.Webhooks[0].Secret)
	}
}

func TestKnownIntegrationRateDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"integrations": [
			{"name": "publer", "base_url": "https://api.publer.io"},
			{"name": "chatwoot", "base_url": "https://chat.example.com", "max_requests_per_second": 1},
			{"name": "custom", "base_url": "https://other.example.com"}
		]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	publer := cfg.Integrations[0]
	if publer.MaxRequestsPerSecond != 5 || publer.BurstSize != 15 {
		t.Errorf("expected publer defaults 5/s burst 15, got %v/%d",
			publer.MaxRequestsPerSecond, publer.BurstSize)
	}

	// An explicit value beats the known default
	if cfg.Integrations[1].MaxRequestsPerSecond != 1 {
		t.Errorf("expected configured rate kept, got %v", cfg.Integrations[1].MaxRequestsPerSecond)
	}
	if cfg.Integrations[1].BurstSize != 30 {
		t.Errorf("expected chatwoot burst default, got %d", cfg.Integrations[1].BurstSize)
	}

	// Unknown integrations keep their zero values for the limiter to default
	if cfg.Integrations[2].MaxRequestsPerSecond != 0 {
		t.Errorf("expected no default for unknown integration, got %v",
			cfg.Integrations[2].MaxRequestsPerSecond)
	}
}

func TestBodyHashingDefaultsOn(t *testing.T) {
	var cfg IdempotencyConfig
	if !cfg.BodyHashing() {
		t.Error("expected body hashing on by default")
	}

	off := false
	cfg.HashBody = &off
	if cfg.BodyHashing() {
		t.Error("expected body hashing off when disabled explicitly")
	}

	on := true
	cfg.HashBody = &on
	if !cfg.BodyHashing() {
		t.Error("expected body hashing on when enabled explicitly")
	}
}

func TestWebhookTolerance(t *testing.T) {
	w := WebhookConfig{}
	if w.Tolerance() != 5*time.Minute {
		t.Errorf("expected 5m default tolerance, got %v", w.Tolerance())
	}

	w.ToleranceSeconds = 60
	if w.Tolerance() != time.Minute {
		t.Errorf("expected 1m tolerance, got %v", w.Tolerance())
	}
}

func TestGetRedisAddr(t *testing.T) {
	r := RedisConfig{}
	if r.GetRedisAddr() != "localhost:6379" {
		t.Errorf("expected default addr, got %s", r.GetRedisAddr())
	}

	r = RedisConfig{Host: "cache.internal", Port: "6380"}
	if r.GetRedisAddr() != "cache.internal:6380" {
		t.Errorf("expected configured addr, got %s", r.GetRedisAddr())
	}
}

func TestEnvName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"shopify", "SHOPIFY"},
		{"my-integration", "MY_INTEGRATION"},
		{"svc2", "SVC2"},
	}

	for _, tt := range tests {
		if got := envName(tt.in); got != tt.want {
			t.Errorf("envName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
