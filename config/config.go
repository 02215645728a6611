package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"nhbmarket/crypto"
	"nhbmarket/native/market"
)

type Config struct {
	ListenAddress string    `toml:"ListenAddress" yaml:"listen"`
	DataDir       string    `toml:"DataDir" yaml:"dataDir"`
	Backend       string    `toml:"Backend" yaml:"backend"`
	Environment   string    `toml:"Environment" yaml:"environment"`
	AdminKeyPath  string    `toml:"AdminKeyPath" yaml:"adminKeyPath"`
	DevFaucet     bool      `toml:"DevFaucet" yaml:"devFaucet"`
	StreamOrigins []string  `toml:"StreamOrigins" yaml:"streamOrigins"`
	ReadTimeout   Duration  `toml:"ReadTimeout" yaml:"readTimeout"`
	WriteTimeout  Duration  `toml:"WriteTimeout" yaml:"writeTimeout"`
	Market        Market    `toml:"market" yaml:"market"`
	Auth          Auth      `toml:"auth" yaml:"auth"`
	RateLimit     RateLimit `toml:"ratelimit" yaml:"rateLimit"`
	Telemetry     Telemetry `toml:"telemetry" yaml:"telemetry"`
	Log           Log       `toml:"log" yaml:"log"`
	Pauses        Pauses    `toml:"pauses" yaml:"pauses"`
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are decoded as YAML; anything else is TOML. A missing TOML file is
// created with defaults and a freshly generated admin key.
func Load(path string) (*Config, error) {
	if isYAML(path) {
		return loadYAML(path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := defaults()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finalize(cfg *Config) error {
	if env := strings.TrimSpace(cfg.Auth.HMACSecretEnv); env != "" {
		if secret := strings.TrimSpace(os.Getenv(env)); secret != "" {
			cfg.Auth.HMACSecret = secret
		}
	}
	return ValidateConfig(cfg)
}

func defaults() *Config {
	params := market.DefaultParams([20]byte{})
	return &Config{
		ListenAddress: ":8095",
		DataDir:       "./market-data",
		Backend:       BackendLevelDB,
		ReadTimeout:   Duration{15 * time.Second},
		WriteTimeout:  Duration{15 * time.Second},
		Market: Market{
			FeeRateBps:         params.FeeRateBps,
			MinAuctionDuration: Duration{params.MinDuration},
			MaxAuctionDuration: Duration{params.MaxDuration},
			GraceWindow:        Duration{params.GraceWindow},
		},
		Auth: Auth{
			HMACSecretEnv: "NHB_MARKET_JWT_SECRET",
			ClockSkew:     Duration{2 * time.Minute},
		},
		RateLimit: RateLimit{RequestsPerMinute: 120, Burst: 20},
		Telemetry: Telemetry{Insecure: true},
		Log:       Log{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	keyPath := defaultAdminKeyPath(path)
	if err := ethcrypto.SaveECDSA(keyPath, key); err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	cfg := defaults()
	admin := ethcrypto.PubkeyToAddress(key.PublicKey)
	cfg.AdminKeyPath = keyPath
	cfg.Market.Admin = crypto.FormatAccount(admin)
	cfg.Auth.HMACSecret = hex.EncodeToString(secret)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultAdminKeyPath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.key")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// MarketParams converts the market section into engine parameters. An empty
// fee recipient routes fees to the administrator.
func (c *Config) MarketParams() (market.Params, error) {
	admin, err := crypto.ParseAccount(c.Market.Admin)
	if err != nil {
		return market.Params{}, fmt.Errorf("market admin: %w", err)
	}
	params := market.Params{
		FeeRateBps:   c.Market.FeeRateBps,
		MinDuration:  c.Market.MinAuctionDuration.Duration,
		MaxDuration:  c.Market.MaxAuctionDuration.Duration,
		GraceWindow:  c.Market.GraceWindow.Duration,
		Admin:        admin,
		FeeRecipient: admin,
	}
	if strings.TrimSpace(c.Market.FeeRecipient) != "" {
		recipient, err := crypto.ParseAccount(c.Market.FeeRecipient)
		if err != nil {
			return market.Params{}, fmt.Errorf("market fee recipient: %w", err)
		}
		params.FeeRecipient = recipient
	}
	if err := params.Validate(); err != nil {
		return market.Params{}, err
	}
	return params, nil
}
