package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "catalog.base_url", typ: kString, env: "SHOPCHAT_CATALOG_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Catalog.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.BaseURL },
	},
	{
		key: "catalog.timeout", typ: kDuration, env: "SHOPCHAT_CATALOG_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Catalog.Timeout },
	},
	{
		key: "catalog.token", typ: kString, env: "SHOPCHAT_CATALOG_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Catalog.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Token },
	},
	{
		key: "catalog.breaker_enabled", typ: kBool, env: "SHOPCHAT_CATALOG_BREAKER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Catalog.BreakerEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Catalog.BreakerEnabled },
	},
	{
		key: "jobs.poll_interval", typ: kDuration, env: "SHOPCHAT_JOBS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.PollInterval },
	},
	{
		key: "jobs.max_attempts", typ: kInt, env: "SHOPCHAT_JOBS_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Jobs.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.MaxAttempts },
	},
	{
		key: "session.key_base", typ: kString, env: "SHOPCHAT_SESSION_KEY_BASE",
		apply:   func(cfg *Config, v any) { cfg.Session.KeyBase = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.KeyBase },
	},
	{
		key: "session.driver", typ: kString, env: "SHOPCHAT_SESSION_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Session.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Driver },
	},
	{
		key: "session.redis_addr", typ: kString, env: "SHOPCHAT_SESSION_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Session.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.RedisAddr },
	},
	{
		key: "session.redis_password", typ: kString, env: "SHOPCHAT_SESSION_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Session.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.RedisPassword },
	},
	{
		key: "session.redis_db", typ: kInt, env: "SHOPCHAT_SESSION_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Session.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.RedisDB },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHOPCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.port", typ: kInt, env: "SHOPCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SHOPCHAT_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "SHOPCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "SHOPCHAT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		v, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (s.typ != kString && v == "") {
			continue
		}
		parsed, err := parseValue(s.typ, v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
			continue
		}
		s.apply(cfg, parsed)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration must be positive")
		}
		return d, nil
	default:
		return raw, nil
	}
}
