package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const yamlConfig = `
listen: ":9000"
environment: test
state:
  backend: memory
auth:
  jwt_secret: from-file
  clock_skew: 30s
market:
  kind: comet
reserve:
  strategy: lending-market-b
  operator: "0x00000000000000000000000000000000000000aa"
  allocation: "500000000000000000"
genesis:
  balances:
    - address: "0x00000000000000000000000000000000000000a1"
      fiat: "1000000000"
scheduler:
  accrue: "0 * * * * *"
`

const tomlConfig = `
listen = ":9001"

[state]
backend = "memory"

[auth]
jwt_secret = "toml-secret"

[idempotency]
ttl = "1h"

[reserve]
strategy = "pool"
operator = "0x00000000000000000000000000000000000000aa"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "reserved.yaml", yamlConfig))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, "comet", cfg.Market.Name)
	require.Equal(t, uint64(200), cfg.Market.BaseRateBps)
	require.Equal(t, "USDC", cfg.Tokens.Fiat.Symbol)
	require.Equal(t, uint8(18), cfg.Tokens.Stable.Decimals)
	require.Len(t, cfg.Genesis.Balances, 1)
	require.Equal(t, 24*time.Hour, cfg.Idempotency.TTL.Duration)

	allocation, err := ParseAllocation(cfg.Reserve.Allocation)
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", allocation.String())
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "reserved.toml", tomlConfig))
	require.NoError(t, err)
	require.Equal(t, ":9001", cfg.ListenAddress)
	require.Equal(t, "toml-secret", cfg.Auth.JWTSecret)
	require.Equal(t, time.Hour, cfg.Idempotency.TTL.Duration)
	require.Equal(t, "pool", cfg.Market.Kind)
	require.Equal(t, "0", cfg.Reserve.Allocation)
}

func TestLoadEnvOverridesSecret(t *testing.T) {
	t.Setenv(EnvJWTSecret, "from-env")
	cfg, err := Load(writeConfig(t, "reserved.yaml", yamlConfig))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestValidateRejects(t *testing.T) {
	base := func() Config {
		cfg, err := Load(writeConfig(t, "reserved.yaml", yamlConfig))
		require.NoError(t, err)
		return cfg
	}
	cases := map[string]func(*Config){
		"missing secret":      func(c *Config) { c.Auth.JWTSecret = "" },
		"auth disabled":       func(c *Config) { c.Auth.Disabled = true },
		"bad backend":         func(c *Config) { c.State.Backend = "cassandra" },
		"allocation too high": func(c *Config) { c.Reserve.Allocation = "1000000000000000001" },
		"zero operator":       func(c *Config) { c.Reserve.Operator = "0x0000000000000000000000000000000000000000" },
		"strategy mismatch":   func(c *Config) { c.Reserve.Strategy = "pool" },
		"same symbols":        func(c *Config) { c.Tokens.Stable.Symbol = "usdc" },
		"fiat decimals":       func(c *Config) { c.Tokens.Fiat.Decimals = 24 },
		"negative genesis":    func(c *Config) { c.Genesis.Balances[0].Fiat = "-1" },
		"webhook secret":      func(c *Config) { c.Webhook.Endpoint = "http://hooks"; c.Webhook.Secret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, validate(cfg))
		})
	}

	cfg := base()
	cfg.Environment = "dev"
	cfg.Auth.Disabled = true
	require.NoError(t, validate(cfg))
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	require.Error(t, d.UnmarshalText([]byte("soon")))
	require.NoError(t, d.UnmarshalText([]byte("")))
	require.Zero(t, d.Duration)
}
