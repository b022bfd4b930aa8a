package lending

import (
	"fmt"
	"strings"
)

const (
	// KindPool selects the pool/receipt-token market.
	KindPool = "pool"
	// KindComet selects the share/exchange-rate market.
	KindComet = "comet"
)

// Config captures the runtime configuration for a simulated lending market.
type Config struct {
	Kind             string `yaml:"kind" toml:"kind"`
	Name             string `yaml:"name" toml:"name"`
	BaseRateBps      uint64 `yaml:"base_rate_bps" toml:"base_rate_bps"`
	Slope1Bps        uint64 `yaml:"slope1_bps" toml:"slope1_bps"`
	Slope2Bps        uint64 `yaml:"slope2_bps" toml:"slope2_bps"`
	KinkBps          uint64 `yaml:"kink_bps" toml:"kink_bps"`
	ReserveFactorBps uint64 `yaml:"reserve_factor_bps" toml:"reserve_factor_bps"`
}

// DefaultConfig mirrors DefaultInterestModel.
func DefaultConfig() Config {
	return Config{
		Kind:        KindPool,
		Name:        "pool",
		BaseRateBps: 200,
		Slope1Bps:   1500,
		Slope2Bps:   6000,
		KinkBps:     8000,
	}
}

// InterestModel builds the model described by the config.
func (c Config) InterestModel() *InterestModel {
	return NewInterestModelBps(c.BaseRateBps, c.Slope1Bps, c.Slope2Bps, c.KinkBps)
}

// Validate checks the configured kind and basis point bounds.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case KindPool, KindComet:
	default:
		return fmt.Errorf("lending: unknown market kind %q", c.Kind)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("lending: market name required")
	}
	if c.KinkBps > 10_000 {
		return fmt.Errorf("lending: kink_bps must be <= 10000")
	}
	if c.ReserveFactorBps > 10_000 {
		return fmt.Errorf("lending: reserve_factor_bps must be <= 10000")
	}
	return nil
}
