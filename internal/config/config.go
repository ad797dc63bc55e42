// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

// Package config loads runtime configuration from defaults, an optional
// YAML file, GRAMMATA_-prefixed environment variables, and command-line
// flags, in that order of precedence (later wins).
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// envPrefix namespaces environment variables, e.g. GRAMMATA_DATABASE__URL.
// A double underscore separates nesting levels so that keys may themselves
// contain single underscores.
const envPrefix = "GRAMMATA_"

// Config is the full runtime configuration tree.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Auth     AuthConfig     `koanf:"auth"`
	Notify   NotifyConfig   `koanf:"notify"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig configures the HTTP API and observability listeners.
type ServerConfig struct {
	Addr         string   `koanf:"addr"`
	MetricsAddr  string   `koanf:"metrics_addr"` // empty disables the observability server
	CORSOrigins  []string `koanf:"cors_origins"`
	CookieName   string   `koanf:"cookie_name"`
	CookieSecure bool     `koanf:"cookie_secure"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// RedisConfig configures the session store backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// AuthConfig configures credential and session policy.
type AuthConfig struct {
	LockoutThreshold   int           `koanf:"lockout_threshold"`
	LockoutDuration    time.Duration `koanf:"lockout_duration"`
	SessionIdleTTL     time.Duration `koanf:"session_idle_ttl"`
	SessionMaxDuration time.Duration `koanf:"session_max_duration"`
	ResetTokenValidity time.Duration `koanf:"reset_token_validity"`
}

// NotifyConfig configures password-reset delivery. Mode "log" writes
// reset links to the application log instead of sending mail.
type NotifyConfig struct {
	Mode     string `koanf:"mode"` // "smtp" or "log"
	SMTPAddr string `koanf:"smtp_addr"`
	From     string `koanf:"from"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	ResetURL string `koanf:"reset_url"` // base URL embedded in reset emails
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Format string `koanf:"format"` // "json" or "text"
	Level  string `koanf:"level"`
}

// defaults are development values; production deployments override them
// via file, environment, or flags.
func defaults() map[string]any {
	return map[string]any{
		"server.addr":               ":8080",
		"server.metrics_addr":       "127.0.0.1:9100",
		"server.cookie_name":        "grammata_session",
		"server.cookie_secure":      true,
		"database.auto_migrate":     true,
		"redis.addr":                "localhost:6379",
		"auth.lockout_threshold":    5,
		"auth.lockout_duration":     "15m",
		"auth.session_idle_ttl":     "30m",
		"auth.session_max_duration": "12h",
		"auth.reset_token_validity": "1h",
		"notify.mode":               "log",
		"log.format":                "json",
		"log.level":                 "info",
	}
}

// Load builds a Config. path may be empty (no file overlay); flags may be
// nil (no flag overlay).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envToKey maps GRAMMATA_AUTH__SESSION_IDLE_TTL to auth.session_idle_ttl.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks cross-field constraints before anything starts.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("server.addr is required")
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	if c.Redis.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("redis.addr is required")
	}
	if c.Auth.LockoutThreshold <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.lockout_threshold must be positive, got %d", c.Auth.LockoutThreshold)
	}
	if c.Auth.LockoutDuration <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.lockout_duration must be positive, got %s", c.Auth.LockoutDuration)
	}
	if c.Auth.SessionIdleTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.session_idle_ttl must be positive, got %s", c.Auth.SessionIdleTTL)
	}
	if c.Auth.SessionMaxDuration < c.Auth.SessionIdleTTL {
		return oops.Code("CONFIG_INVALID").Errorf(
			"auth.session_max_duration (%s) must be at least auth.session_idle_ttl (%s)",
			c.Auth.SessionMaxDuration, c.Auth.SessionIdleTTL)
	}
	if c.Auth.ResetTokenValidity <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.reset_token_validity must be positive, got %s", c.Auth.ResetTokenValidity)
	}
	switch c.Notify.Mode {
	case "smtp":
		if c.Notify.SMTPAddr == "" || c.Notify.From == "" {
			return oops.Code("CONFIG_INVALID").Errorf("notify.smtp_addr and notify.from are required in smtp mode")
		}
	case "log":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("notify.mode must be 'smtp' or 'log', got %q", c.Notify.Mode)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}
