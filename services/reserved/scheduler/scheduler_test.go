package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"fiatreserve/native/lending"
	"fiatreserve/services/reserved/app"
	"fiatreserve/services/reserved/config"
	"fiatreserve/services/reserved/storage"
	statestore "fiatreserve/storage"
)

type fakePruner struct {
	calls int
	err   error
}

func (p *fakePruner) Prune() (int, error) {
	p.calls++
	return 1, p.err
}

func buildApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Config{
		Tokens: config.TokensConfig{
			Fiat:   config.TokenConfig{Symbol: "USDC", Name: "USD Coin", Decimals: 6},
			Stable: config.TokenConfig{Symbol: "USDX", Name: "Reserve Dollar", Decimals: 18},
		},
		Market:  lending.DefaultConfig(),
		Reserve: config.ReserveConfig{Strategy: "pool", Operator: common.HexToAddress("0xa1").Hex(), Allocation: "0"},
	}
	a, err := app.Build(context.Background(), cfg, statestore.NewMemDB(), nil)
	require.NoError(t, err)
	return a
}

func TestRegisterSkipsEmptyExpressions(t *testing.T) {
	s := New(context.Background(), buildApp(t), nil, nil, nil)
	require.NoError(t, s.Register(config.SchedulerConfig{Accrue: "*/30 * * * * *"}))
	require.Equal(t, 1, s.Jobs())

	withPrune := New(context.Background(), buildApp(t), nil, &fakePruner{}, nil)
	require.NoError(t, withPrune.Register(config.SchedulerConfig{Accrue: "0 * * * * *", Snapshot: "0 */5 * * * *"}))
	require.Equal(t, 3, withPrune.Jobs())
}

func TestRegisterRejectsBadExpression(t *testing.T) {
	s := New(context.Background(), buildApp(t), nil, nil, nil)
	require.Error(t, s.Register(config.SchedulerConfig{Snapshot: "every minute"}))
}

func TestSnapshotPersistsPosition(t *testing.T) {
	store, err := storage.Open(storage.MemoryDSN())
	require.NoError(t, err)
	defer store.Close()

	s := New(context.Background(), buildApp(t), store, nil, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixed }

	pos, err := s.Snapshot()
	require.NoError(t, err)
	require.True(t, pos.Collateralized())

	latest, err := store.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.True(t, fixed.Equal(latest.RecordedAt), "recorded at %s", latest.RecordedAt)
	require.Zero(t, latest.Supply.Sign())
}

func TestAccrueCommitsWithoutEvents(t *testing.T) {
	a := buildApp(t)
	s := New(context.Background(), a, nil, nil, nil)
	before, err := a.Runtime.Sequence()
	require.NoError(t, err)
	require.NoError(t, s.Accrue())
	after, err := a.Runtime.Sequence()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestPruneTaskToleratesErrors(t *testing.T) {
	p := &fakePruner{err: errors.New("disk gone")}
	s := New(context.Background(), buildApp(t), nil, p, nil)
	s.pruneTask()
	s.pruneTask()
	require.Equal(t, 2, p.calls)
}

func TestStartStop(t *testing.T) {
	s := New(context.Background(), buildApp(t), nil, nil, nil)
	require.NoError(t, s.Register(config.SchedulerConfig{Accrue: "0 0 0 1 1 *"}))
	s.Start()
	s.Stop()
}
