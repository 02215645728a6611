package config

import (
	"fmt"
	"strings"
	"time"

	"nhbmarket/crypto"
	"nhbmarket/native/fees"
)

var (
	MinAuctionDurationFloor = time.Minute
)

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data dir required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLevelDB, BackendBolt:
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	m := cfg.Market
	if _, err := crypto.ParseAccount(m.Admin); err != nil {
		return fmt.Errorf("market: admin: %w", err)
	}
	if strings.TrimSpace(m.FeeRecipient) != "" {
		if _, err := crypto.ParseAccount(m.FeeRecipient); err != nil {
			return fmt.Errorf("market: fee recipient: %w", err)
		}
	}
	if err := fees.ValidateRate(m.FeeRateBps); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if m.MinAuctionDuration.Duration < MinAuctionDurationFloor {
		return fmt.Errorf("market: min auction duration too small")
	}
	if m.MinAuctionDuration.Duration > m.MaxAuctionDuration.Duration {
		return fmt.Errorf("market: min auction duration > max auction duration")
	}
	if m.GraceWindow.Duration < 0 {
		return fmt.Errorf("market: negative grace window")
	}
	if m.GraceWindow.Duration > m.MinAuctionDuration.Duration {
		return fmt.Errorf("market: grace window exceeds min auction duration")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth: hmac secret required when auth is enabled")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: negative limits")
	}
	return nil
}
