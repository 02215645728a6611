package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "90s" or "1h" in both
// TOML and YAML files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// MarshalYAML writes the duration as a string scalar.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Market carries the engine parameters applied on first start. Once the
// parameters are persisted, on-chain updates through the admin operations win.
type Market struct {
	Admin              string   `toml:"Admin" yaml:"admin"`
	FeeRecipient       string   `toml:"FeeRecipient" yaml:"feeRecipient"`
	FeeRateBps         uint32   `toml:"FeeRateBps" yaml:"feeRateBps"`
	MinAuctionDuration Duration `toml:"MinAuctionDuration" yaml:"minAuctionDuration"`
	MaxAuctionDuration Duration `toml:"MaxAuctionDuration" yaml:"maxAuctionDuration"`
	GraceWindow        Duration `toml:"GraceWindow" yaml:"graceWindow"`
}

// Auth configures bearer token validation for the HTTP facade.
type Auth struct {
	Enabled       bool     `toml:"Enabled" yaml:"enabled"`
	HMACSecret    string   `toml:"HMACSecret" yaml:"hmacSecret"`
	HMACSecretEnv string   `toml:"HMACSecretEnv" yaml:"hmacSecretEnv"`
	Issuer        string   `toml:"Issuer" yaml:"issuer"`
	Audience      string   `toml:"Audience" yaml:"audience"`
	ClockSkew     Duration `toml:"ClockSkew" yaml:"clockSkew"`
}

// RateLimit defines the per-client request budget.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
}

// Log configures the optional rotating log file.
type Log struct {
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Pauses lists modules halted by the operator. The flags are applied on top of
// the administrator pause stored in state and cannot be lifted through the API.
type Pauses struct {
	Market bool `toml:"Market" yaml:"market"`
}

// IsPaused implements common.PauseView.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "market":
		return p.Market
	default:
		return false
	}
}

// Storage backends understood by marketd.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)
