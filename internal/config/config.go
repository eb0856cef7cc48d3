// Package config loads process configuration from the environment and the
// optional game math file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/odds"
)

// Config is the process configuration.
type Config struct {
	Port        string `env:"PORT"         envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`
	OddsFile    string `env:"ODDS_FILE"`

	StartingBalance decimal.Decimal `env:"STARTING_BALANCE" envDefault:"1000"`
	TopUpAmount     decimal.Decimal `env:"TOP_UP_AMOUNT"    envDefault:"100"`
	MinStake        decimal.Decimal `env:"MIN_STAKE"        envDefault:"0.01"`
	MaxStake        decimal.Decimal `env:"MAX_STAKE"        envDefault:"10000"`

	TickInterval    time.Duration `env:"TICK_INTERVAL"     envDefault:"50ms"`
	SessionTTL      time.Duration `env:"SESSION_TTL"       envDefault:"24h"`
	CacheTTL        time.Duration `env:"CACHE_TTL"         envDefault:"30s"`
	PersistMaxTries uint          `env:"PERSIST_MAX_TRIES" envDefault:"3"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks money amounts and intervals.
func (c Config) Validate() error {
	var errs []error
	if c.StartingBalance.IsNegative() {
		errs = append(errs, errors.New("STARTING_BALANCE must not be negative"))
	}
	if !c.TopUpAmount.IsPositive() {
		errs = append(errs, errors.New("TOP_UP_AMOUNT must be positive"))
	}
	for name, v := range map[string]decimal.Decimal{
		"STARTING_BALANCE": c.StartingBalance,
		"TOP_UP_AMOUNT":    c.TopUpAmount,
		"MIN_STAKE":        c.MinStake,
		"MAX_STAKE":        c.MaxStake,
	} {
		if !v.Equal(v.Truncate(model.MoneyScale)) {
			errs = append(errs, fmt.Errorf("%s must not have fractional cents", name))
		}
	}
	if !c.MinStake.IsPositive() {
		errs = append(errs, errors.New("MIN_STAKE must be positive"))
	}
	if c.MaxStake.IsPositive() && c.MaxStake.LessThan(c.MinStake) {
		errs = append(errs, errors.New("MAX_STAKE must not be below MIN_STAKE"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if c.PersistMaxTries == 0 {
		errs = append(errs, errors.New("PERSIST_MAX_TRIES must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadOdds reads game math overrides from path on top of the defaults. An
// empty path returns the defaults.
func LoadOdds(path string) (odds.Config, error) {
	if path == "" {
		return odds.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return odds.Config{}, fmt.Errorf("read odds file: %w", err)
	}
	return ParseOdds(data)
}

// ParseOdds decodes YAML overrides. Keys absent from the document keep their
// default values; unknown keys are rejected.
func ParseOdds(data []byte) (odds.Config, error) {
	cfg := odds.DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return odds.Config{}, fmt.Errorf("decode odds file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return odds.Config{}, fmt.Errorf("odds file: %w", err)
	}
	return cfg, nil
}
