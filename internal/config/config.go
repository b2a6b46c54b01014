package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Catalog CatalogConfig
	Jobs    JobsConfig
	Session SessionConfig
	Storage StorageConfig
	Server  ServerConfig
	Log     LogConfig
}

type CatalogConfig struct {
	BaseURL        string
	Timeout        time.Duration
	Token          string
	BreakerEnabled bool
}

type JobsConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
}

type SessionConfig struct {
	KeyBase       string
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type StorageConfig struct {
	DataDir string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level  string
	Format string
}

// Session drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

func defaults() Config {
	return Config{
		Catalog: CatalogConfig{
			BaseURL:        "http://localhost:8000",
			Timeout:        30 * time.Second,
			BreakerEnabled: true,
		},
		Jobs: JobsConfig{
			PollInterval: time.Second,
			MaxAttempts:  20,
		},
		Session: SessionConfig{
			KeyBase: "vc_chat_state_v1",
			Driver:  DriverSQLite,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: com.shopchat.app) and the
// catalog token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/shopchat/config.json.
//
// Environment variables (SHOPCHAT_*) override backend values on all
// platforms. Variables already set in the process win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The catalog token is optional; guests browse without one.
	if cfg.Catalog.Token == "" {
		if tok, err := kc.Get("shopchat", "catalog_token"); err == nil && tok != "" {
			cfg.Catalog.Token = tok
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		return fmt.Errorf("missing required config: catalog.base_url (env SHOPCHAT_CATALOG_BASE_URL)")
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs.poll_interval must be positive, got %s", c.Jobs.PollInterval)
	}
	if c.Jobs.MaxAttempts <= 0 {
		return fmt.Errorf("jobs.max_attempts must be positive, got %d", c.Jobs.MaxAttempts)
	}
	switch c.Session.Driver {
	case DriverSQLite:
	case DriverRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.driver is redis but session.redis_addr is empty")
		}
	default:
		return fmt.Errorf("unknown session.driver %q (want %s or %s)", c.Session.Driver, DriverSQLite, DriverRedis)
	}
	if c.Session.KeyBase == "" {
		return fmt.Errorf("session.key_base must not be empty")
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
