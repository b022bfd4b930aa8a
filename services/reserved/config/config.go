package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"fiatreserve/native/lending"
	"fiatreserve/native/reserve/strategy"
)

const (
	// EnvJWTSecret overrides auth.jwt_secret when set.
	EnvJWTSecret = "RESERVED_JWT_SECRET"
	// EnvWebhookSecret overrides webhook.secret when set.
	EnvWebhookSecret = "RESERVED_WEBHOOK_SECRET"
)

var maxAllocation = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
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

// UnmarshalText parses a duration such as "30s" or "5m".
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

// Config captures runtime configuration for reserved.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Environment   string          `yaml:"environment" toml:"environment"`
	DatabasePath  string          `yaml:"database" toml:"database"`
	Log           LogConfig       `yaml:"log" toml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	State         StateConfig     `yaml:"state" toml:"state"`
	Idempotency   IdemConfig      `yaml:"idempotency" toml:"idempotency"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Tokens        TokensConfig    `yaml:"tokens" toml:"tokens"`
	Market        lending.Config  `yaml:"market" toml:"market"`
	Reserve       ReserveConfig   `yaml:"reserve" toml:"reserve"`
	Genesis       GenesisConfig   `yaml:"genesis" toml:"genesis"`
	Scheduler     SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Webhook       WebhookConfig   `yaml:"webhook" toml:"webhook"`
}

// LogConfig tunes the structured logger and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// StateConfig selects the ledger storage backend.
type StateConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
	// AllowMigrate tolerates a schema version mismatch for manual migrations.
	AllowMigrate bool `yaml:"allow_migrate" toml:"allow_migrate"`
}

// IdemConfig configures the idempotency cache.
type IdemConfig struct {
	Path string   `yaml:"path" toml:"path"`
	TTL  Duration `yaml:"ttl" toml:"ttl"`
}

// AuthConfig configures bearer authentication. Disabled is only honoured in
// the dev environment.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer    string   `yaml:"issuer" toml:"issuer"`
	Audience  string   `yaml:"audience" toml:"audience"`
	ClockSkew Duration `yaml:"clock_skew" toml:"clock_skew"`
	Disabled  bool     `yaml:"disabled" toml:"disabled"`
}

// RateLimitConfig throttles mutating requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// TokenConfig describes a token registered at genesis.
type TokenConfig struct {
	Symbol   string `yaml:"symbol" toml:"symbol"`
	Name     string `yaml:"name" toml:"name"`
	Decimals uint8  `yaml:"decimals" toml:"decimals"`
}

// TokensConfig names the collateral and stable tokens.
type TokensConfig struct {
	Fiat   TokenConfig `yaml:"fiat" toml:"fiat"`
	Stable TokenConfig `yaml:"stable" toml:"stable"`
}

// ReserveConfig carries the reserve bootstrap parameters. Allocation is an
// 18-decimal fixed point string.
type ReserveConfig struct {
	Strategy    string `yaml:"strategy" toml:"strategy"`
	Operator    string `yaml:"operator" toml:"operator"`
	Coordinator string `yaml:"coordinator" toml:"coordinator"`
	Allocation  string `yaml:"allocation" toml:"allocation"`
}

// GenesisBalance funds an account with fiat at genesis.
type GenesisBalance struct {
	Address string `yaml:"address" toml:"address"`
	Fiat    string `yaml:"fiat" toml:"fiat"`
}

// GenesisConfig seeds a fresh ledger.
type GenesisConfig struct {
	Balances []GenesisBalance `yaml:"balances" toml:"balances"`
}

// SchedulerConfig holds cron expressions (with seconds) for background jobs.
// Empty expressions disable the job.
type SchedulerConfig struct {
	Accrue   string `yaml:"accrue" toml:"accrue"`
	Snapshot string `yaml:"snapshot" toml:"snapshot"`
}

// WebhookConfig forwards committed events to an HTTP endpoint.
type WebhookConfig struct {
	Endpoint    string   `yaml:"endpoint" toml:"endpoint"`
	Secret      string   `yaml:"secret" toml:"secret"`
	MaxAttempts int      `yaml:"max_attempts" toml:"max_attempts"`
	MinBackoff  Duration `yaml:"min_backoff" toml:"min_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff" toml:"max_backoff"`
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secret := strings.TrimSpace(os.Getenv(EnvWebhookSecret)); secret != "" {
		cfg.Webhook.Secret = secret
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/reserved.sqlite"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "leveldb"
	}
	if cfg.State.Path == "" && cfg.State.Backend != "memory" {
		cfg.State.Path = "/var/data/reserved-state"
	}
	if cfg.Idempotency.Path == "" {
		cfg.Idempotency.Path = "/var/data/reserved-idem.db"
	}
	if cfg.Idempotency.TTL.Duration == 0 {
		cfg.Idempotency.TTL.Duration = 24 * time.Hour
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Tokens.Fiat.Symbol == "" {
		cfg.Tokens.Fiat = TokenConfig{Symbol: "USDC", Name: "USD Coin", Decimals: 6}
	}
	if cfg.Tokens.Stable.Symbol == "" {
		cfg.Tokens.Stable = TokenConfig{Symbol: "USDX", Name: "Reserve Dollar", Decimals: 18}
	}
	defaults := lending.DefaultConfig()
	if cfg.Market.Kind == "" {
		cfg.Market.Kind = defaults.Kind
	}
	if cfg.Market.Name == "" {
		cfg.Market.Name = cfg.Market.Kind
	}
	if cfg.Market.BaseRateBps == 0 && cfg.Market.Slope1Bps == 0 && cfg.Market.Slope2Bps == 0 && cfg.Market.KinkBps == 0 {
		cfg.Market.BaseRateBps = defaults.BaseRateBps
		cfg.Market.Slope1Bps = defaults.Slope1Bps
		cfg.Market.Slope2Bps = defaults.Slope2Bps
		cfg.Market.KinkBps = defaults.KinkBps
	}
	if cfg.Reserve.Allocation == "" {
		cfg.Reserve.Allocation = "0"
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Webhook.MinBackoff.Duration == 0 {
		cfg.Webhook.MinBackoff.Duration = 2 * time.Second
	}
	if cfg.Webhook.MaxBackoff.Duration == 0 {
		cfg.Webhook.MaxBackoff.Duration = 30 * time.Second
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if cfg.Auth.Disabled {
		if cfg.Environment != "dev" {
			return fmt.Errorf("auth.disabled requires environment dev")
		}
	} else if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret (or %s) required", EnvJWTSecret)
	}
	switch cfg.State.Backend {
	case "memory", "leveldb", "bolt", "bbolt":
	default:
		return fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
	if cfg.Tokens.Fiat.Decimals > cfg.Tokens.Stable.Decimals {
		return fmt.Errorf("fiat decimals %d exceed stable decimals %d", cfg.Tokens.Fiat.Decimals, cfg.Tokens.Stable.Decimals)
	}
	if strings.EqualFold(cfg.Tokens.Fiat.Symbol, cfg.Tokens.Stable.Symbol) {
		return fmt.Errorf("fiat and stable symbols must differ")
	}
	if err := cfg.Market.Validate(); err != nil {
		return err
	}
	kind, err := strategy.ParseKind(cfg.Reserve.Strategy)
	if err != nil {
		return err
	}
	if kind != strategy.KindNoop && string(kind) != strings.ToLower(cfg.Market.Kind) {
		return fmt.Errorf("strategy %s requires market kind %s, got %s", kind, kind, cfg.Market.Kind)
	}
	if _, err := ParseAddress("reserve.operator", cfg.Reserve.Operator); err != nil {
		return err
	}
	if cfg.Reserve.Coordinator != "" {
		if _, err := ParseAddress("reserve.coordinator", cfg.Reserve.Coordinator); err != nil {
			return err
		}
	}
	if _, err := ParseAllocation(cfg.Reserve.Allocation); err != nil {
		return err
	}
	for i, bal := range cfg.Genesis.Balances {
		if _, err := ParseAddress(fmt.Sprintf("genesis.balances[%d].address", i), bal.Address); err != nil {
			return err
		}
		if _, err := ParseAmount(bal.Fiat); err != nil {
			return fmt.Errorf("genesis.balances[%d].fiat: %w", i, err)
		}
	}
	if cfg.Webhook.Endpoint != "" && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return fmt.Errorf("webhook.secret (or %s) required when webhook.endpoint is set", EnvWebhookSecret)
	}
	return nil
}

// ParseAddress decodes a non-zero hex address.
func ParseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// ParseAmount decodes a non-negative base-10 integer.
func ParseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", value)
	}
	return amount, nil
}

// ParseAllocation decodes an allocation in [0, 1e18].
func ParseAllocation(value string) (*big.Int, error) {
	allocation, err := ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("reserve.allocation: %w", err)
	}
	if allocation.Cmp(maxAllocation) > 0 {
		return nil, fmt.Errorf("reserve.allocation: %s exceeds 1e18", allocation)
	}
	return allocation, nil
}
