package strategy

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// Comet is the share/exchange-rate market surface.
type Comet interface {
	Address() common.Address
	BaseToken() common.Address
	Supply(caller, asset common.Address, amount *big.Int) error
	Withdraw(caller, asset common.Address, amount *big.Int) error
	SharesOf(holder common.Address) (*big.Int, error)
	ExchangeRate() (*big.Int, error)
}

// CometStrategy supplies fiat as the comet base asset. The position is valued
// at shares * exchangeRate / 1e18 rounded down; the truncated remainder is an
// accepted loss on the strategy side.
type CometStrategy struct {
	comet  Comet
	fiat   Approver
	holder common.Address
}

// NewComet requires the market's base token to be the fiat asset.
func NewComet(comet Comet, fiat Approver, holder common.Address) (*CometStrategy, error) {
	if comet == nil || fiat == nil {
		return nil, fmt.Errorf("strategy: comet and fiat token required")
	}
	if comet.BaseToken() != fiat.Address() {
		return nil, ErrInvalidMarket
	}
	return &CometStrategy{comet: comet, fiat: fiat, holder: holder}, nil
}

func (s *CometStrategy) Name() string { return string(KindComet) }

func (s *CometStrategy) Balance() (*big.Int, error) {
	shares, err := s.comet.SharesOf(s.holder)
	if err != nil {
		return nil, failed(s.Name(), "balance", err)
	}
	rate, err := s.comet.ExchangeRate()
	if err != nil {
		return nil, failed(s.Name(), "balance", err)
	}
	value := new(big.Int).Mul(shares, rate)
	return value.Quo(value, wad), nil
}

func (s *CometStrategy) Deposit(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	err := approveAndCall(s.fiat, s.holder, s.comet.Address(), amount, func() error {
		return s.comet.Supply(s.holder, s.fiat.Address(), amount)
	})
	if err != nil {
		return depositFailed(s.Name(), err)
	}
	return nil
}

func (s *CometStrategy) Withdraw(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := s.comet.Withdraw(s.holder, s.fiat.Address(), amount); err != nil {
		return failed(s.Name(), "withdraw", err)
	}
	return nil
}
