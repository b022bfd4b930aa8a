package reserve

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/events"
	nativecommon "fiatreserve/native/common"
	"fiatreserve/native/reserve/scale"
	"fiatreserve/native/reserve/strategy"
)

const moduleName = "reserve"

var (
	coordinatorKey = []byte("reserve/coordinator")
	allocationKey  = []byte("reserve/allocation")
)

// Reserve mints the stable token against fiat collateral 1:1 by value and
// keeps a configurable fraction of that collateral deployed in a strategy.
// Token and strategy bindings are fixed at construction. Calls must be
// serialized by the caller; each one is atomic against the ledger.
type Reserve struct {
	address  common.Address
	stable   StableToken
	fiat     FiatToken
	strategy strategy.Strategy
	conv     *scale.Converter
	ledger   Ledger
	access   *nativecommon.Ownable
	pauses   nativecommon.PauseView
	logger   *slog.Logger
}

// New binds a reserve at address to its tokens, strategy and ledger. The
// strategy must already hold its position on behalf of address.
func New(address common.Address, stable StableToken, fiat FiatToken, strat strategy.Strategy, ledger Ledger) (*Reserve, error) {
	if stable == nil || fiat == nil || ledger == nil {
		return nil, fmt.Errorf("reserve: stable token, fiat token and ledger required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("reserve: address required")
	}
	if strat == nil {
		strat = strategy.Noop{}
	}
	conv, err := scale.New(fiat.Decimals())
	if err != nil {
		return nil, err
	}
	access := nativecommon.NewOwnable(moduleName, ledger)
	access.SetEmitter(ledger)
	return &Reserve{
		address:  address,
		stable:   stable,
		fiat:     fiat,
		strategy: strat,
		conv:     conv,
		ledger:   ledger,
		access:   access,
		logger:   slog.Default(),
	}, nil
}

// SetPauses wires the pause view consulted before state-changing calls.
func (r *Reserve) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetLogger configures the structured logger.
func (r *Reserve) SetLogger(logger *slog.Logger) {
	if r == nil || logger == nil {
		return
	}
	r.logger = logger.With("module", moduleName)
}

func (r *Reserve) Address() common.Address     { return r.address }
func (r *Reserve) Stable() StableToken         { return r.stable }
func (r *Reserve) Fiat() FiatToken             { return r.fiat }
func (r *Reserve) Strategy() strategy.Strategy { return r.strategy }
func (r *Reserve) Converter() *scale.Converter { return r.conv }

// MintPrice is the stable price of one stable token in fiat, fixed at parity.
func (r *Reserve) MintPrice() *big.Int { return scale.One() }

// RedeemPrice is fixed at parity.
func (r *Reserve) RedeemPrice() *big.Int { return scale.One() }

// atomic runs fn inside a ledger snapshot and reverts on failure.
func (r *Reserve) atomic(op string, fn func() error) error {
	snap := r.ledger.Snapshot()
	err := fn()
	if err == nil {
		return nil
	}
	if rerr := r.ledger.RevertToSnapshot(snap); rerr != nil {
		err = errors.Join(err, fmt.Errorf("reserve: revert %s: %w", op, rerr))
	}
	r.logger.Warn("reserve operation failed", "op", op, "kind", string(KindOf(err)), "error", err)
	return err
}

func (r *Reserve) guard() error {
	return nativecommon.Guard(r.pauses, moduleName)
}

func (r *Reserve) requireCustody() error {
	owner, err := r.stable.Owner()
	if err != nil {
		return err
	}
	if owner != r.address {
		return ErrNotInitialized
	}
	return nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Mint pulls the fiat equivalent of stableAmount from caller, rounding up,
// tops the strategy up to its allocation target and mints stableAmount to
// caller. It returns the fiat amount pulled.
func (r *Reserve) Mint(caller common.Address, stableAmount *big.Int) (*big.Int, error) {
	var pulled *big.Int
	err := r.atomic("mint", func() error {
		if err := r.guard(); err != nil {
			return err
		}
		if err := requirePositive(stableAmount); err != nil {
			return err
		}
		if err := r.requireCustody(); err != nil {
			return err
		}
		fiatAmount, err := r.conv.ToFiat(stableAmount, scale.RoundUp)
		if err != nil {
			return err
		}
		if err := r.fiat.TransferFrom(r.address, caller, r.address, fiatAmount); err != nil {
			return fmt.Errorf("%w: pull fiat: %w", ErrTransferFailed, err)
		}
		if err := r.rebalance(); err != nil {
			return err
		}
		if err := r.stable.Mint(r.address, caller, stableAmount); err != nil {
			return fmt.Errorf("%w: mint stable: %w", ErrTransferFailed, err)
		}
		r.ledger.Emit(events.ReserveMint{
			Caller:       caller,
			StableAmount: new(big.Int).Set(stableAmount),
			FiatAmount:   new(big.Int).Set(fiatAmount),
		})
		pulled = fiatAmount
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("reserve mint", "caller", caller.Hex(), "stable", stableAmount.String(), "fiat", pulled.String())
	return pulled, nil
}

// rebalance deposits idle fiat until the deployed balance reaches
// floor((idle + deployed) * allocation / 1e18). It never withdraws.
func (r *Reserve) rebalance() error {
	allocation, err := r.Allocation()
	if err != nil {
		return err
	}
	if allocation.Sign() == 0 {
		return nil
	}
	idle, deployed, err := r.balances()
	if err != nil {
		return err
	}
	target, err := scale.MulDiv(new(big.Int).Add(idle, deployed), allocation, scale.One(), scale.RoundDown)
	if err != nil {
		return err
	}
	if target.Cmp(deployed) <= 0 {
		return nil
	}
	amount := new(big.Int).Sub(target, deployed)
	snap := r.ledger.Snapshot()
	if err := r.strategy.Deposit(amount); err != nil {
		if !errors.Is(err, strategy.ErrDustDeposit) {
			return err
		}
		// Too small to buy a share: the top-up stays idle.
		r.logger.Debug("reserve rebalance skipped", "amount", amount.String(), "error", err)
		return r.ledger.RevertToSnapshot(snap)
	}
	after, err := r.strategy.Balance()
	if err != nil {
		return err
	}
	if after.Cmp(deployed) == 0 {
		return nil
	}
	r.ledger.Emit(events.StrategyRebalanced{
		Strategy:  r.strategy.Name(),
		Direction: events.RebalanceDeposit,
		Amount:    amount,
		Deployed:  after,
	})
	return nil
}

// Redeem burns stableAmount taken from caller and pays the fiat equivalent,
// rounded down. A shortfall in idle fiat is withdrawn from the strategy,
// exactly and no more. It returns the fiat amount paid.
func (r *Reserve) Redeem(caller common.Address, stableAmount *big.Int) (*big.Int, error) {
	var paid *big.Int
	err := r.atomic("redeem", func() error {
		if err := r.guard(); err != nil {
			return err
		}
		if err := requirePositive(stableAmount); err != nil {
			return err
		}
		if err := r.requireCustody(); err != nil {
			return err
		}
		if err := r.stable.TransferFrom(r.address, caller, r.address, stableAmount); err != nil {
			return fmt.Errorf("%w: pull stable: %w", ErrTransferFailed, err)
		}
		if err := r.stable.Burn(r.address, stableAmount); err != nil {
			return fmt.Errorf("%w: burn stable: %w", ErrTransferFailed, err)
		}
		fiatAmount, err := r.conv.ToFiat(stableAmount, scale.RoundDown)
		if err != nil {
			return err
		}
		if fiatAmount.Sign() > 0 {
			if err := r.cover(fiatAmount); err != nil {
				return err
			}
			if err := r.fiat.Transfer(r.address, caller, fiatAmount); err != nil {
				return fmt.Errorf("%w: pay fiat: %w", ErrTransferFailed, err)
			}
		}
		r.ledger.Emit(events.ReserveRedeem{
			Caller:       caller,
			StableAmount: new(big.Int).Set(stableAmount),
			FiatAmount:   new(big.Int).Set(fiatAmount),
		})
		paid = fiatAmount
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("reserve redeem", "caller", caller.Hex(), "stable", stableAmount.String(), "fiat", paid.String())
	return paid, nil
}

// cover withdraws from the strategy whatever idle fiat lacks to pay amount.
func (r *Reserve) cover(amount *big.Int) error {
	idle, err := r.fiat.BalanceOf(r.address)
	if err != nil {
		return err
	}
	if idle.Cmp(amount) >= 0 {
		return nil
	}
	shortfall := new(big.Int).Sub(amount, idle)
	if err := r.strategy.Withdraw(shortfall); err != nil {
		return err
	}
	deployed, err := r.strategy.Balance()
	if err != nil {
		return err
	}
	r.ledger.Emit(events.StrategyRebalanced{
		Strategy:  r.strategy.Name(),
		Direction: events.RebalanceWithdraw,
		Amount:    shortfall,
		Deployed:  deployed,
	})
	return nil
}

// Issue mints stableAmount to the owner without a deposit. It is allowed only
// while assets cover the supply including the new tokens.
func (r *Reserve) Issue(caller common.Address, stableAmount *big.Int) error {
	err := r.atomic("issue", func() error {
		if err := r.guard(); err != nil {
			return err
		}
		if err := r.access.RequireOwner(caller); err != nil {
			return err
		}
		if err := requirePositive(stableAmount); err != nil {
			return err
		}
		if err := r.requireCustody(); err != nil {
			return err
		}
		assets, err := r.Assets()
		if err != nil {
			return err
		}
		supply, err := r.stable.TotalSupply()
		if err != nil {
			return err
		}
		required := new(big.Int).Add(supply, stableAmount)
		if assets.Cmp(required) < 0 {
			return fmt.Errorf("%w: assets %s, required %s", ErrInsufficientAssets, assets, required)
		}
		if err := r.stable.Mint(r.address, caller, stableAmount); err != nil {
			return fmt.Errorf("%w: mint stable: %w", ErrTransferFailed, err)
		}
		r.ledger.Emit(events.ReserveIssue{Recipient: caller, Amount: new(big.Int).Set(stableAmount)})
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("reserve issue", "owner", caller.Hex(), "stable", stableAmount.String())
	return nil
}

func (r *Reserve) balances() (idle, deployed *big.Int, err error) {
	idle, err = r.fiat.BalanceOf(r.address)
	if err != nil {
		return nil, nil, err
	}
	deployed, err = r.strategy.Balance()
	if err != nil {
		return nil, nil, err
	}
	return idle, deployed, nil
}

// Assets returns idle plus deployed fiat expressed in stable units.
func (r *Reserve) Assets() (*big.Int, error) {
	idle, deployed, err := r.balances()
	if err != nil {
		return nil, err
	}
	return r.conv.ToStable(new(big.Int).Add(idle, deployed))
}

// Position reports the reserve's current backing.
func (r *Reserve) Position() (Position, error) {
	idle, deployed, err := r.balances()
	if err != nil {
		return Position{}, err
	}
	total := new(big.Int).Add(idle, deployed)
	assets, err := r.conv.ToStable(total)
	if err != nil {
		return Position{}, err
	}
	supply, err := r.stable.TotalSupply()
	if err != nil {
		return Position{}, err
	}
	allocation, err := r.Allocation()
	if err != nil {
		return Position{}, err
	}
	target, err := scale.MulDiv(total, allocation, scale.One(), scale.RoundDown)
	if err != nil {
		return Position{}, err
	}
	return Position{
		Idle:       idle,
		Deployed:   deployed,
		Total:      total,
		Target:     target,
		Assets:     assets,
		Supply:     supply,
		Allocation: allocation,
	}, nil
}
