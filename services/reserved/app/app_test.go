package app

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"fiatreserve/native/lending"
	"fiatreserve/services/reserved/config"
	"fiatreserve/storage"
)

var (
	operator    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	coordinator = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	holder      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func baseConfig() config.Config {
	market := lending.DefaultConfig()
	market.Kind = lending.KindComet
	market.Name = "comet"
	return config.Config{
		Tokens: config.TokensConfig{
			Fiat:   config.TokenConfig{Symbol: "USDC", Name: "USD Coin", Decimals: 6},
			Stable: config.TokenConfig{Symbol: "USDX", Name: "Reserve Dollar", Decimals: 18},
		},
		Market: market,
		Reserve: config.ReserveConfig{
			Strategy:    "comet",
			Operator:    operator.Hex(),
			Coordinator: coordinator.Hex(),
			Allocation:  "500000000000000000",
		},
		Genesis: config.GenesisConfig{Balances: []config.GenesisBalance{
			{Address: holder.Hex(), Fiat: "5000000"},
		}},
	}
}

func TestBuildRunsGenesis(t *testing.T) {
	a, err := Build(context.Background(), baseConfig(), storage.NewMemDB(), nil)
	require.NoError(t, err)

	err = a.Runtime.View(func() error {
		initialized, err := a.Reserve.Initialized()
		require.NoError(t, err)
		require.True(t, initialized)

		owner, err := a.Reserve.Owner()
		require.NoError(t, err)
		require.Equal(t, operator, owner)

		got, err := a.Reserve.Coordinator()
		require.NoError(t, err)
		require.Equal(t, coordinator, got)

		allocation, err := a.Reserve.Allocation()
		require.NoError(t, err)
		require.Zero(t, allocation.Cmp(big.NewInt(500000000000000000)))

		bal, err := a.Fiat.BalanceOf(holder)
		require.NoError(t, err)
		require.Zero(t, bal.Cmp(big.NewInt(5_000_000)))

		stableOwner, err := a.Stable.Owner()
		require.NoError(t, err)
		require.Equal(t, ReserveAddress, stableOwner)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "comet", a.Reserve.Strategy().Name())
	require.Equal(t, "comet", a.Market.Name())

	tok, ok := a.Token("usdc")
	require.True(t, ok)
	require.Equal(t, a.Fiat.Address(), tok.Address())
	_, ok = a.Token("DOGE")
	require.False(t, ok)
}

func TestRebuildKeepsLedgerState(t *testing.T) {
	db := storage.NewMemDB()
	cfg := baseConfig()
	first, err := Build(context.Background(), cfg, db, nil)
	require.NoError(t, err)

	_, err = first.Runtime.Execute(context.Background(), "transfer", func() error {
		return first.Fiat.Transfer(holder, coordinator, big.NewInt(1_000_000))
	})
	require.NoError(t, err)
	seq, err := first.Runtime.Sequence()
	require.NoError(t, err)

	// Genesis must not run twice, so balances and roles survive.
	cfg.Reserve.Allocation = "0"
	second, err := Build(context.Background(), cfg, db, nil)
	require.NoError(t, err)
	err = second.Runtime.View(func() error {
		bal, err := second.Fiat.BalanceOf(holder)
		require.NoError(t, err)
		require.Zero(t, bal.Cmp(big.NewInt(4_000_000)))

		allocation, err := second.Reserve.Allocation()
		require.NoError(t, err)
		require.Zero(t, allocation.Cmp(big.NewInt(500000000000000000)))
		return nil
	})
	require.NoError(t, err)

	// The boot-time initialize is a committed no-op.
	next, err := second.Runtime.Sequence()
	require.NoError(t, err)
	require.Equal(t, seq, next)
}

func TestBuildRejectsBadOperator(t *testing.T) {
	cfg := baseConfig()
	cfg.Reserve.Operator = "not-an-address"
	_, err := Build(context.Background(), cfg, storage.NewMemDB(), nil)
	require.Error(t, err)
}

func TestPoolMarketSelection(t *testing.T) {
	cfg := baseConfig()
	cfg.Market = lending.DefaultConfig()
	cfg.Reserve.Strategy = "pool"
	a, err := Build(context.Background(), cfg, storage.NewMemDB(), nil)
	require.NoError(t, err)
	require.Equal(t, "pool", a.Reserve.Strategy().Name())
}
