package strategy

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/native/lending"
)

// Pool is the pool-style market surface.
type Pool interface {
	Address() common.Address
	ReserveData(asset common.Address) (lending.ReserveData, error)
	Supply(caller, asset common.Address, amount *big.Int, onBehalfOf common.Address) error
	Withdraw(caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	ReceiptBalance(receipt, holder common.Address) (*big.Int, error)
}

// PoolStrategy supplies fiat to a pool and values the position by its
// receipt-token balance, which tracks the underlying 1:1.
type PoolStrategy struct {
	pool    Pool
	fiat    Approver
	holder  common.Address
	receipt common.Address
}

// NewPool validates that pool lists the fiat asset and binds the position to
// holder.
func NewPool(pool Pool, fiat Approver, holder common.Address) (*PoolStrategy, error) {
	if pool == nil || fiat == nil {
		return nil, fmt.Errorf("strategy: pool and fiat token required")
	}
	data, err := pool.ReserveData(fiat.Address())
	if err != nil {
		return nil, fmt.Errorf("strategy: read reserve data: %w", err)
	}
	if data.ReceiptToken == (common.Address{}) {
		return nil, ErrInvalidMarket
	}
	return &PoolStrategy{pool: pool, fiat: fiat, holder: holder, receipt: data.ReceiptToken}, nil
}

func (s *PoolStrategy) Name() string { return string(KindPool) }

// ReceiptToken returns the receipt token resolved at construction.
func (s *PoolStrategy) ReceiptToken() common.Address { return s.receipt }

func (s *PoolStrategy) Balance() (*big.Int, error) {
	balance, err := s.pool.ReceiptBalance(s.receipt, s.holder)
	if err != nil {
		return nil, failed(s.Name(), "balance", err)
	}
	return balance, nil
}

func (s *PoolStrategy) Deposit(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	err := approveAndCall(s.fiat, s.holder, s.pool.Address(), amount, func() error {
		return s.pool.Supply(s.holder, s.fiat.Address(), amount, s.holder)
	})
	if err != nil {
		return depositFailed(s.Name(), err)
	}
	return nil
}

func (s *PoolStrategy) Withdraw(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	withdrawn, err := s.pool.Withdraw(s.holder, s.fiat.Address(), amount, s.holder)
	if err != nil {
		return failed(s.Name(), "withdraw", err)
	}
	if withdrawn == nil || withdrawn.Cmp(amount) != 0 {
		return failed(s.Name(), "withdraw", fmt.Errorf("withdrew %v, requested %s", withdrawn, amount))
	}
	return nil
}
