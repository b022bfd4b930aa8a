package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/runtime"
	"fiatreserve/core/state"
	"fiatreserve/core/types"
	nativecommon "fiatreserve/native/common"
	"fiatreserve/native/lending"
	"fiatreserve/native/reserve"
	"fiatreserve/native/reserve/strategy"
	"fiatreserve/native/token"
	"fiatreserve/services/reserved/config"
	"fiatreserve/storage"
)

// Market is the surface of a simulated lending market the service drives
// directly: accrual, stats and the borrow/repay simulation hooks.
type Market interface {
	Name() string
	Address() common.Address
	Accrue() error
	Stats() (lending.Stats, error)
	Borrow(caller common.Address, amount *big.Int) error
	Repay(caller common.Address, amount *big.Int) error
}

// App is the assembled reserve world: ledger, tokens, market, strategy and
// reserve, all mutated through a single runtime.
type App struct {
	Config   config.Config
	Runtime  *runtime.Runtime
	Ledger   *state.Ledger
	Fiat     *token.Token
	Stable   *token.Stable
	Market   Market
	Reserve  *reserve.Reserve
	Pauses   *nativecommon.PauseSet
	Operator common.Address

	tokens map[string]*token.Token
	db     storage.Database
	logger *slog.Logger
}

// ReserveAddress is the ledger identity of the reserve.
var ReserveAddress = types.DeriveAddress("reserve")

// genesisDeployer owns the stable token between genesis and reserve
// initialization.
var genesisDeployer = types.DeriveAddress("genesis")

// Build opens the ledger on db, runs genesis on a fresh store and binds the
// reserve. The reserve is initialized with the configured operator.
func Build(ctx context.Context, cfg config.Config, db storage.Database, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	operator, err := config.ParseAddress("reserve.operator", cfg.Reserve.Operator)
	if err != nil {
		return nil, err
	}
	ledger := state.NewLedger(db)
	if err := state.EnsureStateVersion(ledger, cfg.State.AllowMigrate); err != nil {
		return nil, err
	}
	a := &App{
		Config:   cfg,
		Runtime:  runtime.New(ledger),
		Ledger:   ledger,
		Pauses:   nativecommon.NewPauseSet(),
		Operator: operator,
		tokens:   make(map[string]*token.Token),
		db:       db,
		logger:   logger,
	}
	a.Runtime.SetLogger(logger)

	meta, err := ledger.Token(cfg.Tokens.Fiat.Symbol)
	if err != nil {
		return nil, err
	}
	fresh := meta == nil
	if fresh {
		if _, err := a.Runtime.Execute(ctx, "genesis", a.genesis); err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
	} else if err := a.openTokens(); err != nil {
		return nil, err
	}

	if err := a.bindReserve(); err != nil {
		return nil, err
	}

	if _, err := a.Runtime.Execute(ctx, "initialize", func() error {
		return a.Reserve.Initialize(operator)
	}); err != nil {
		return nil, fmt.Errorf("initialize reserve: %w", err)
	}
	if fresh {
		if err := a.configureRoles(ctx); err != nil {
			return nil, err
		}
	}
	logger.Info("reserve ready",
		slog.String("reserve", ReserveAddress.Hex()),
		slog.String("strategy", a.Reserve.Strategy().Name()),
		slog.Bool("genesis", fresh))
	return a, nil
}

func (a *App) genesis() error {
	fiat, err := token.Register(a.Ledger, a.Config.Tokens.Fiat.Symbol, a.Config.Tokens.Fiat.Name, a.Config.Tokens.Fiat.Decimals)
	if err != nil {
		return err
	}
	stableTok, err := token.Register(a.Ledger, a.Config.Tokens.Stable.Symbol, a.Config.Tokens.Stable.Name, a.Config.Tokens.Stable.Decimals)
	if err != nil {
		return err
	}
	a.setTokens(fiat, stableTok)
	if err := a.Stable.SetOwner(genesisDeployer); err != nil {
		return err
	}
	for i, bal := range a.Config.Genesis.Balances {
		addr, err := config.ParseAddress(fmt.Sprintf("genesis.balances[%d].address", i), bal.Address)
		if err != nil {
			return err
		}
		amount, err := config.ParseAmount(bal.Fiat)
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := fiat.Mint(addr, amount); err != nil {
			return fmt.Errorf("fund %s: %w", addr.Hex(), err)
		}
	}
	// Nominate the reserve so Initialize can take over mint authority.
	return a.Stable.TransferOwnership(genesisDeployer, ReserveAddress)
}

func (a *App) openTokens() error {
	fiat, err := token.Open(a.Ledger, a.Config.Tokens.Fiat.Symbol)
	if err != nil {
		return err
	}
	stableTok, err := token.Open(a.Ledger, a.Config.Tokens.Stable.Symbol)
	if err != nil {
		return err
	}
	a.setTokens(fiat, stableTok)
	return nil
}

func (a *App) setTokens(fiat, stableTok *token.Token) {
	a.Fiat = fiat
	a.Stable = token.NewStable(stableTok)
	a.tokens[fiat.Symbol()] = fiat
	a.tokens[stableTok.Symbol()] = stableTok
}

func (a *App) bindReserve() error {
	kind, err := strategy.ParseKind(a.Config.Reserve.Strategy)
	if err != nil {
		return err
	}
	deps := strategy.Deps{Fiat: a.Fiat, Holder: ReserveAddress}
	mcfg := a.Config.Market
	switch strings.ToLower(mcfg.Kind) {
	case lending.KindComet:
		comet := lending.NewComet(mcfg.Name, a.Fiat, a.Ledger)
		comet.SetInterestModel(mcfg.InterestModel())
		comet.SetReserveFactor(mcfg.ReserveFactorBps)
		comet.SetPauses(a.Pauses)
		deps.Comet = comet
		a.Market = comet
	default:
		pool := lending.NewPool(mcfg.Name, a.Fiat, a.Ledger)
		pool.SetInterestModel(mcfg.InterestModel())
		pool.SetReserveFactor(mcfg.ReserveFactorBps)
		pool.SetPauses(a.Pauses)
		deps.Pool = pool
		a.Market = pool
	}
	strat, err := strategy.Build(kind, deps)
	if err != nil {
		return err
	}
	res, err := reserve.New(ReserveAddress, a.Stable, a.Fiat, strat, a.Ledger)
	if err != nil {
		return err
	}
	res.SetPauses(a.Pauses)
	res.SetLogger(a.logger)
	a.Reserve = res
	return nil
}

// configureRoles applies the configured coordinator and allocation on a fresh
// ledger. Later boots keep whatever governance has set since.
func (a *App) configureRoles(ctx context.Context) error {
	if strings.TrimSpace(a.Config.Reserve.Coordinator) == "" {
		return nil
	}
	coordinator, err := config.ParseAddress("reserve.coordinator", a.Config.Reserve.Coordinator)
	if err != nil {
		return err
	}
	allocation, err := config.ParseAllocation(a.Config.Reserve.Allocation)
	if err != nil {
		return err
	}
	_, err = a.Runtime.Execute(ctx, "configure", func() error {
		if err := a.Reserve.UpdateCoordinator(a.Operator, coordinator); err != nil {
			return err
		}
		if allocation.Sign() == 0 {
			return nil
		}
		return a.Reserve.UpdateAllocation(coordinator, allocation)
	})
	if err != nil {
		return fmt.Errorf("configure reserve roles: %w", err)
	}
	return nil
}

// Token returns a registered token by symbol.
func (a *App) Token(symbol string) (*token.Token, bool) {
	tok, ok := a.tokens[state.NormalizeSymbol(symbol)]
	return tok, ok
}

// Close releases the ledger database.
func (a *App) Close() {
	if a == nil || a.db == nil {
		return
	}
	a.db.Close()
}
