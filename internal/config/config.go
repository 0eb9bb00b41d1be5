package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server       ServerConfig        `json:"server"`
	Database     DatabaseConfig      `json:"database"`
	Redis        RedisConfig         `json:"redis"`
	Auth         AuthConfig          `json:"auth"`
	Integrations []IntegrationConfig `json:"integrations"`
	Webhooks     []WebhookConfig     `json:"webhooks"`
	Idempotency  IdempotencyConfig   `json:"idempotency"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	ExpiryHours int    `json:"expiry_hours"`
}

// Describes one outbound third-party API
type IntegrationConfig struct {
	Name                 string  `json:"name"`
	BaseURL              string  `json:"base_url"`
	AuthType             string  `json:"auth_type"` // "bearer", "basic", "api-key"
	AuthToken            string  `json:"auth_token"`
	AuthHeader           string  `json:"auth_header"`
	TimeoutSeconds       int     `json:"timeout_seconds"`
	MaxRequestsPerSecond float64 `json:"max_requests_per_second"`
	BurstSize            int     `json:"burst_size"`
	FailureThreshold     int     `json:"failure_threshold"`
	RecoveryTimeoutMs    int     `json:"recovery_timeout_ms"`
	MonitoringPeriodMs   int     `json:"monitoring_period_ms"`
}

// Describes one inbound webhook source
type WebhookConfig struct {
	Source           string   `json:"source"`
	Secret           string   `json:"secret"`
	SignatureHeader  string   `json:"signature_header"`
	TimestampHeader  string   `json:"timestamp_header"`
	NonceHeader      string   `json:"nonce_header"`
	ToleranceSeconds int      `json:"tolerance_seconds"`
	AllowedIPs       []string `json:"allowed_ips"`
	RequestsPerMin   int      `json:"requests_per_minute"`
}

type IdempotencyConfig struct {
	HeaderName string `json:"header_name"`
	HashBody   *bool  `json:"hash_body"`
	TTLHours   int    `json:"ttl_hours"`
	MaxEntries int    `json:"max_entries"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

// Environment variables override file values for secrets
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}

	for i := range c.Integrations {
		key := fmt.Sprintf("INTEGRATION_%s_TOKEN", envName(c.Integrations[i].Name))
		if v := os.Getenv(key); v != "" {
			c.Integrations[i].AuthToken = v
		}
	}

	for i := range c.Webhooks {
		key := fmt.Sprintf("WEBHOOK_%s_SECRET", envName(c.Webhooks[i].Source))
		if v := os.Getenv(key); v != "" {
			c.Webhooks[i].Secret = v
		}
	}
}

// Rate limits published by the APIs we integrate with; used when the
// config file doesn't override them
var integrationRateDefaults = map[string]struct {
	rate  float64
	burst int
}{
	"shopify":  {rate: 2, burst: 10},
	"publer":   {rate: 5, burst: 15},
	"chatwoot": {rate: 10, burst: 30},
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	for i := range c.Integrations {
		d, ok := integrationRateDefaults[c.Integrations[i].Name]
		if !ok {
			continue
		}
		if c.Integrations[i].MaxRequestsPerSecond <= 0 {
			c.Integrations[i].MaxRequestsPerSecond = d.rate
		}
		if c.Integrations[i].BurstSize <= 0 {
			c.Integrations[i].BurstSize = d.burst
		}
	}
	if c.Auth.ExpiryHours <= 0 {
		c.Auth.ExpiryHours = 24
	}
	if c.Idempotency.HeaderName == "" {
		c.Idempotency.HeaderName = "Idempotency-Key"
	}
	if c.Idempotency.TTLHours <= 0 {
		c.Idempotency.TTLHours = 24
	}
	if c.Idempotency.MaxEntries <= 0 {
		c.Idempotency.MaxEntries = 10000
	}
}

// Body hashing is on unless explicitly disabled
func (c *IdempotencyConfig) BodyHashing() bool {
	return c.HashBody == nil || *c.HashBody
}

func (c *IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c *RedisConfig) GetRedisAddr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}

func (w *WebhookConfig) Tolerance() time.Duration {
	if w.ToleranceSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(w.ToleranceSeconds) * time.Second
}

func envName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			out = append(out, ch-32)
		case ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
