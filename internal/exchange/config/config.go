// Package config loads the exchange core's configuration: the ambient
// per-subsystem settings plus every environment knob enumerated by the
// exchange's external-interface contract.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Config is the exchange core's root configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" validate:"required"`
	Matching MatchingConfig `yaml:"matching" validate:"required"`
	Exchange ExchangeConfig `yaml:"exchange" validate:"required"`
	Database DatabaseConfig `yaml:"database"`
}

// LoggingConfig controls the zap-backed logging factory.
type LoggingConfig struct {
	Level    string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"required,oneof=json console"`
}

// MatchingConfig carries ring-buffer size and shard count settings;
// nothing in this module reads them (the matching engine serializes
// submissions under its own mutex).
type MatchingConfig struct {
	RingBufferSize int `yaml:"ring_buffer_size" validate:"required,min=64"`
	Shards         int `yaml:"shards" validate:"required,min=1"`
}

// DatabaseConfig is the opaque persistence-layer DSN; the core never
// inspects it beyond passing it to the repository constructors (§6).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ExchangeConfig carries every "Environment knob" enumerated in spec §6.
type ExchangeConfig struct {
	MaxPositionSize               int64         `yaml:"max_position_size_raw" validate:"required,min=1"`
	MaxNotionalPerUser            int64         `yaml:"max_notional_per_user_micro" validate:"required,min=1"`
	MaxOpenPositions              int           `yaml:"max_open_positions" validate:"required,min=1"`
	MaxOpenInterestPerProduct     int64         `yaml:"max_open_interest_per_product_raw" validate:"required,min=1"`
	MaxFundingRate                int64         `yaml:"max_funding_rate_scaled" validate:"required,min=0"`
	InsuranceContributionFraction int64         `yaml:"insurance_contribution_fraction_scaled" validate:"min=0"`
	VATRate                       int64         `yaml:"vat_rate_scaled" validate:"min=0"`
	HedgeThresholdUSD             int64         `yaml:"hedge_threshold_usd_micro" validate:"min=0"`
	HedgeCheckInterval            time.Duration `yaml:"hedge_check_interval" validate:"required"`
	LedgerDir                     string        `yaml:"ledger_dir" validate:"required"`
	DataDir                       string        `yaml:"data_dir" validate:"required"`

	ReconciliationEvery int           `yaml:"reconciliation_every" validate:"required,min=1"`
	FundingInterval     time.Duration `yaml:"funding_interval" validate:"required"`
}

var validate = validator.New()

// Load reads and validates a YAML config file. A malformed or
// schema-invalid config refuses startup rather than running with
// silently-defaulted values, per the ambient-stack contract.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns development-friendly defaults, used by tests and by
// `cmd/exchange` when no config file is supplied.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Encoding: "console"},
		Matching: MatchingConfig{RingBufferSize: 4096, Shards: 1},
		Exchange: ExchangeConfig{
			MaxPositionSize:               1_000_000_000_00,
			MaxNotionalPerUser:            50_000_000_000_000,
			MaxOpenPositions:              50,
			MaxOpenInterestPerProduct:     10_000_000_000_00,
			MaxFundingRate:                1_000, // 0.001 at RateScale 1e6
			InsuranceContributionFraction: 50_000, // 0.05
			VATRate:                       100_000, // 0.10
			HedgeThresholdUSD:             5_000_000_000,
			HedgeCheckInterval:            time.Minute,
			LedgerDir:                     "./data/ledger",
			DataDir:                       "./data",
			ReconciliationEvery:           100,
			FundingInterval:               8 * time.Hour,
		},
	}
}
