package config

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m mapBackend) SetString(key, val string) error  { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = strconv.Itoa(val); return nil }
func (m mapBackend) Delete(key string) error          { delete(m, key); return nil }

// clearEnv blanks every SHOPCHAT_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{err: errors.New("none")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Catalog.BaseURL != "http://localhost:8000" {
		t.Errorf("Catalog.BaseURL = %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.Timeout != 30*time.Second {
		t.Errorf("Catalog.Timeout = %s, want 30s", cfg.Catalog.Timeout)
	}
	if !cfg.Catalog.BreakerEnabled {
		t.Error("Catalog.BreakerEnabled = false, want true")
	}
	if cfg.Jobs.PollInterval != time.Second || cfg.Jobs.MaxAttempts != 20 {
		t.Errorf("Jobs = %+v, want 1s/20", cfg.Jobs)
	}
	if cfg.Session.KeyBase != "vc_chat_state_v1" || cfg.Session.Driver != DriverSQLite {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Catalog.Token != "" {
		t.Errorf("Catalog.Token = %q, want empty", cfg.Catalog.Token)
	}
}

// TestBackendValues verifies every non-secret key is read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := mapBackend{
		"catalog.base_url":        "https://api.example.vn",
		"catalog.timeout":         "5s",
		"catalog.breaker_enabled": "false",
		"jobs.poll_interval":      "250ms",
		"jobs.max_attempts":       "8",
		"session.key_base":        "shop",
		"session.driver":          "redis",
		"session.redis_addr":      "cache:6379",
		"session.redis_db":        "2",
		"storage.data_dir":        "/tmp/shopchat-test",
		"server.port":             "5100",
		"log.level":               "debug",
		"log.format":              "json",
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Catalog.BaseURL != "https://api.example.vn" || cfg.Catalog.Timeout != 5*time.Second || cfg.Catalog.BreakerEnabled {
		t.Errorf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.Jobs.PollInterval != 250*time.Millisecond || cfg.Jobs.MaxAttempts != 8 {
		t.Errorf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Session.KeyBase != "shop" || cfg.Session.Driver != "redis" || cfg.Session.RedisAddr != "cache:6379" || cfg.Session.RedisDB != 2 {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Storage.DataDir != "/tmp/shopchat-test" || cfg.Server.Port != 5100 {
		t.Errorf("Storage/Server = %+v %+v", cfg.Storage, cfg.Server)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOPCHAT_CATALOG_BASE_URL", "https://env.example.vn")
	t.Setenv("SHOPCHAT_JOBS_POLL_INTERVAL", "2s")
	t.Setenv("SHOPCHAT_JOBS_MAX_ATTEMPTS", "5")
	t.Setenv("SHOPCHAT_CATALOG_BREAKER_ENABLED", "false")
	t.Setenv("SHOPCHAT_CATALOG_TOKEN", "env-token")

	b := mapBackend{"catalog.base_url": "https://file.example.vn", "jobs.max_attempts": "9"}
	cfg, err := loadWith(b, mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Catalog.BaseURL != "https://env.example.vn" {
		t.Errorf("BaseURL = %q, want env value", cfg.Catalog.BaseURL)
	}
	if cfg.Jobs.PollInterval != 2*time.Second || cfg.Jobs.MaxAttempts != 5 {
		t.Errorf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Catalog.BreakerEnabled {
		t.Error("BreakerEnabled = true, want false")
	}
	if cfg.Catalog.Token != "env-token" {
		t.Errorf("Token = %q, want env-token", cfg.Catalog.Token)
	}
}

// TestUnparsableValuesKeepDefaults verifies bad values warn and fall back.
func TestUnparsableValuesKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOPCHAT_JOBS_POLL_INTERVAL", "soon")
	t.Setenv("SHOPCHAT_SERVER_PORT", "http")

	cfg, err := loadWith(mapBackend{"catalog.timeout": "-1s"}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Jobs.PollInterval != time.Second {
		t.Errorf("PollInterval = %s, want default", cfg.Jobs.PollInterval)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Port = %d, want default", cfg.Server.Port)
	}
	if cfg.Catalog.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want default", cfg.Catalog.Timeout)
	}
}

// TestKeychainFallback verifies the keychain is consulted when no token is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Catalog.Token != "keychain-secret" {
		t.Errorf("Token = %q, want %q", cfg.Catalog.Token, "keychain-secret")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no base url", func(c *Config) { c.Catalog.BaseURL = " " }, "catalog.base_url"},
		{"zero attempts", func(c *Config) { c.Jobs.MaxAttempts = 0 }, "jobs.max_attempts"},
		{"unknown driver", func(c *Config) { c.Session.Driver = "bolt" }, "unknown session.driver"},
		{"redis without addr", func(c *Config) { c.Session.Driver = DriverRedis }, "redis_addr"},
		{"redis with addr", func(c *Config) { c.Session.Driver = DriverRedis; c.Session.RedisAddr = "r:6379" }, ""},
		{"empty key base", func(c *Config) { c.Session.KeyBase = "" }, "key_base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	if err := setKey(b, "jobs.max_attempts", "12"); err != nil {
		t.Fatalf("setKey int: %v", err)
	}
	if b["jobs.max_attempts"] != "12" {
		t.Errorf("stored = %q", b["jobs.max_attempts"])
	}
	if err := setKey(b, "jobs.poll_interval", "500ms"); err != nil {
		t.Fatalf("setKey duration: %v", err)
	}
	if err := setKey(b, "jobs.poll_interval", "often"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, "catalog.breaker_enabled", "maybe"); err == nil {
		t.Error("expected error for bad bool")
	}
	if err := setKey(b, "catalog.token", "x"); err == nil || !strings.Contains(err.Error(), "SHOPCHAT_CATALOG_TOKEN") {
		t.Errorf("secret set err = %v", err)
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Catalog.Token = "abc"

	var sawToken bool
	for _, k := range ShowAll(cfg) {
		if k.Key == "catalog.token" {
			sawToken = true
			if k.Value == "abc" {
				t.Error("token printed in clear")
			}
		}
	}
	if !sawToken {
		t.Error("catalog.token missing from ShowAll")
	}
	for _, k := range ValidKeys() {
		if k == "catalog.token" || k == "session.redis_password" {
			t.Errorf("secret %s listed as settable", k)
		}
	}
}
