// Package config loads gatekeeper settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/logger"
	"github.com/go-training/oauth-gatekeeper/pkg/store"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	Addr string `env:"GATEKEEPER_ADDR" envDefault:":8080"`
	// BaseURL is the public URL callbacks are built from.
	BaseURL string `env:"GATEKEEPER_BASE_URL" envDefault:"http://localhost:8080"`

	Store         string        `env:"GATEKEEPER_STORE" envDefault:"memory"`
	StorePath     string        `env:"GATEKEEPER_STORE_PATH"`
	RedisAddr     string        `env:"GATEKEEPER_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"GATEKEEPER_REDIS_PASSWORD"`
	RedisDB       int           `env:"GATEKEEPER_REDIS_DB" envDefault:"0"`
	RedisTTL      time.Duration `env:"GATEKEEPER_REDIS_TTL" envDefault:"0s"`

	// StateSecret signs the OAuth state parameter. When empty a random
	// secret is used and pending flows do not survive a restart.
	StateSecret string `env:"GATEKEEPER_STATE_SECRET"`
	// Providers is the path of the TOML provider file.
	Providers     string `env:"GATEKEEPER_PROVIDERS" envDefault:"providers.toml"`
	UserAgent     string `env:"GATEKEEPER_USER_AGENT" envDefault:"oauth-gatekeeper"`
	SessionCookie string `env:"GATEKEEPER_SESSION_COOKIE" envDefault:"gatekeeper_session"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that flags may have overridden as well.
func (c *Config) Validate() error {
	st := store.StoreType(strings.ToLower(c.Store))
	if !st.IsValid() {
		return fmt.Errorf("GATEKEEPER_STORE %q is not one of memory, redis, bolt, file, sqlite", c.Store)
	}
	if st.NeedsPath() && c.StorePath == "" {
		return fmt.Errorf("GATEKEEPER_STORE_PATH is required for the %s store", st)
	}
	if st == store.StoreTypeRedis && c.RedisAddr == "" {
		return fmt.Errorf("GATEKEEPER_REDIS_ADDR is required for the redis store")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("GATEKEEPER_REDIS_DB must not be negative")
	}
	if c.LogLevel != "" {
		if _, ok := logger.ParseLevel(c.LogLevel); !ok {
			return fmt.Errorf("LOG_LEVEL %q is not one of DEBUG, INFO, WARN, ERROR", c.LogLevel)
		}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GATEKEEPER_BASE_URL %q must be an absolute URL", c.BaseURL)
	}
	if c.SessionCookie == "" {
		return fmt.Errorf("GATEKEEPER_SESSION_COOKIE cannot be empty")
	}
	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StoreConfig converts the store settings for store.NewStore.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Type: store.ParseStoreType(c.Store),
		Path: c.StorePath,
		Redis: store.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			TTL:      c.RedisTTL,
		},
	}
}

// CallbackURL returns the callback URL of a provider served by this host.
func (c *Config) CallbackURL(providerID string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/" + url.PathEscape(providerID) + "/callback"
}
