// Package strategy adapts lending markets into the yield strategy the reserve
// deploys idle fiat into.
package strategy

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/native/lending"
)

var (
	// ErrInvalidMarket is returned at construction when the market does not
	// serve the reserve's fiat asset.
	ErrInvalidMarket = errors.New("strategy: market does not list the fiat asset")
	// ErrStrategyFailed wraps every market-side failure during deposit or
	// withdrawal.
	ErrStrategyFailed = errors.New("strategy: operation failed")
	// ErrDustDeposit is returned when a deposit is too small to buy a single
	// market share. Nothing moves; the caller may keep the amount idle.
	ErrDustDeposit = errors.New("strategy: deposit too small for the market")
	// ErrInvalidAmount is returned for nil or non-positive amounts.
	ErrInvalidAmount = errors.New("strategy: amount must be positive")
)

// Strategy is the yield venue for deployed fiat. Amounts are in fiat units.
type Strategy interface {
	Name() string
	Balance() (*big.Int, error)
	Deposit(amount *big.Int) error
	Withdraw(amount *big.Int) error
}

// Approver is the fiat token surface the strategies need.
type Approver interface {
	Address() common.Address
	Approve(caller, spender common.Address, amount *big.Int) error
}

func failed(name, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStrategyFailed, name, op, err)
}

func depositFailed(name string, err error) error {
	if errors.Is(err, lending.ErrDustDeposit) {
		return fmt.Errorf("%w: %s: %w", ErrDustDeposit, name, err)
	}
	return failed(name, "deposit", err)
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// approveAndCall grants spender exactly amount, runs call and resets the
// approval to zero so no allowance outlives the operation.
func approveAndCall(fiat Approver, holder, spender common.Address, amount *big.Int, call func() error) error {
	if err := fiat.Approve(holder, spender, amount); err != nil {
		return err
	}
	if err := call(); err != nil {
		return err
	}
	return fiat.Approve(holder, spender, big.NewInt(0))
}

// Noop keeps everything idle.
type Noop struct{}

func (Noop) Name() string               { return string(KindNoop) }
func (Noop) Balance() (*big.Int, error) { return big.NewInt(0), nil }
func (Noop) Deposit(*big.Int) error     { return nil }
func (Noop) Withdraw(*big.Int) error    { return nil }
