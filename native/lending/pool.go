package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/types"
)

// ReserveData describes how a pool lists an asset. A zero ReceiptToken means
// the asset is not listed.
type ReserveData struct {
	ReceiptToken   common.Address
	LiquidityIndex *big.Int
	LastUpdate     uint64
}

// Pool is a pool-style lending market: suppliers receive a receipt position
// that tracks the underlying 1:1 and grows with the liquidity index (ray).
type Pool struct {
	*market
	receipt common.Address
}

// NewPool lists asset in a new pool named name.
func NewPool(name string, asset Asset, store KVStore) *Pool {
	return &Pool{
		market:  newMarket(name, asset, store, ray),
		receipt: types.DeriveAddress("receipt:" + name),
	}
}

// ReceiptToken returns the address of the pool's receipt token.
func (p *Pool) ReceiptToken() common.Address { return p.receipt }

// ReserveData reports the listing for asset.
func (p *Pool) ReserveData(asset common.Address) (ReserveData, error) {
	if asset != p.asset.Address() {
		return ReserveData{}, nil
	}
	b, err := p.loadBook()
	if err != nil {
		return ReserveData{}, err
	}
	return ReserveData{
		ReceiptToken:   p.receipt,
		LiquidityIndex: cloneInt(b.Index),
		LastUpdate:     b.LastAccrual,
	}, nil
}

// Supply pulls amount of asset from caller and credits onBehalfOf.
func (p *Pool) Supply(caller, asset common.Address, amount *big.Int, onBehalfOf common.Address) error {
	if asset != p.asset.Address() {
		return fmt.Errorf("%w: %s", ErrAssetNotListed, asset.Hex())
	}
	return p.deposit(caller, onBehalfOf, amount)
}

// Withdraw redeems amount of asset from caller's position and sends it to to.
// It returns the amount actually withdrawn.
func (p *Pool) Withdraw(caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if asset != p.asset.Address() {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotListed, asset.Hex())
	}
	return p.redeem(caller, to, amount)
}

// ReceiptBalance is balanceOf on the receipt token.
func (p *Pool) ReceiptBalance(receipt, holder common.Address) (*big.Int, error) {
	if receipt != p.receipt {
		return nil, fmt.Errorf("lending %s: unknown receipt token %s", p.name, receipt.Hex())
	}
	return p.positionOf(holder)
}
