// Package config loads the engine's YAML configuration: per-venue
// credentials (overridable by environment variables so secrets never sit
// in a committed file), strategy thresholds, and the optional mail and
// Postgres audit-trail settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ybangaru/fundingarb/internal/persistence/postgres"
)

// Config is the root configuration document.
type Config struct {
	Venues   map[string]VenueConfig `yaml:"venues"`
	Strategy StrategyConfig         `yaml:"strategy"`
	Mail     MailConfig             `yaml:"mail"`
	Postgres PostgresConfig         `yaml:"postgres"`
}

// VenueConfig holds one venue's signing credentials. Each field falls
// back to an environment variable so a config file can be committed
// without secrets: <VENUE>_API_KEY, <VENUE>_API_SECRET, <VENUE>_PASSPHRASE.
type VenueConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// StrategyConfig holds the strategy settings. AccountValueFraction is
// passed to the scheduler's trade sizing. EntryThresholdPct is validated
// here, but the entry gate compares against the spread package's own
// EntryThresholdPct constant, not this value.
type StrategyConfig struct {
	EntryThresholdPct    float64 `yaml:"entry_threshold_pct"`
	AccountValueFraction float64 `yaml:"account_value_fraction"`
	Deploy               bool    `yaml:"deploy"` // reported at startup only; it does not gate order placement
}

// MailConfig mirrors notify.SMTPConfig with YAML tags.
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// PostgresConfig mirrors the optional audit-trail database connection.
// Enabled defaults to false: the engine's real resume state always lives
// in the local trades.json file, never in Postgres.
type PostgresConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_secs"`
}

// DefaultConfig returns conservative defaults: everything optional is
// disabled, and Deploy is false (which does not stop orders being placed).
func DefaultConfig() Config {
	return Config{
		Strategy: StrategyConfig{
			EntryThresholdPct:    0.02,
			AccountValueFraction: 0.8,
			Deploy:               false,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
	}
}

// Load reads and parses a YAML config file, then applies environment
// variable overrides over every venue's credentials.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg.Venues)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(venues map[string]VenueConfig) {
	for name, v := range venues {
		upper := envPrefix(name)
		if key := os.Getenv(upper + "_API_KEY"); key != "" {
			v.APIKey = key
		}
		if secret := os.Getenv(upper + "_API_SECRET"); secret != "" {
			v.APISecret = secret
		}
		if pass := os.Getenv(upper + "_PASSPHRASE"); pass != "" {
			v.Passphrase = pass
		}
		venues[name] = v
	}
}

func envPrefix(venueName string) string {
	out := make([]byte, len(venueName))
	for i := 0; i < len(venueName); i++ {
		c := venueName[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Validate ensures the strategy thresholds are sane and every configured
// venue carries non-empty credentials.
func (c Config) Validate() error {
	if c.Strategy.EntryThresholdPct <= 0 {
		return fmt.Errorf("strategy.entry_threshold_pct must be positive, got %f", c.Strategy.EntryThresholdPct)
	}
	if c.Strategy.AccountValueFraction <= 0 || c.Strategy.AccountValueFraction > 1 {
		return fmt.Errorf("strategy.account_value_fraction must be in (0, 1], got %f", c.Strategy.AccountValueFraction)
	}
	for name, v := range c.Venues {
		if v.APIKey == "" || v.APISecret == "" {
			return fmt.Errorf("venue %s: api_key and api_secret are required", name)
		}
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres.enabled is true")
	}
	return nil
}

func (c PostgresConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// ToPostgresConfig builds the connection-manager config this engine's
// audit-trail wiring expects, filling in the pool-tuning defaults the YAML
// document doesn't expose.
func (c PostgresConfig) ToPostgresConfig() postgres.Config {
	base := postgres.DefaultConfig()
	base.Enabled = c.Enabled
	base.DSN = c.DSN
	if c.MaxOpenConns > 0 {
		base.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		base.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		base.ConnMaxLifetime = c.ConnMaxLifetimeDuration()
	}
	return base
}
