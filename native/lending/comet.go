package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Comet is a single-asset market where suppliers hold shares converted to
// the base token through an exchange rate scaled by 1e18.
type Comet struct {
	*market
}

// NewComet creates a market whose base token is asset.
func NewComet(name string, asset Asset, store KVStore) *Comet {
	return &Comet{market: newMarket(name, asset, store, wad)}
}

// BaseToken returns the address of the lent asset.
func (c *Comet) BaseToken() common.Address { return c.asset.Address() }

// Supply pulls amount of asset from caller into caller's position.
func (c *Comet) Supply(caller, asset common.Address, amount *big.Int) error {
	if asset != c.BaseToken() {
		return fmt.Errorf("%w: %s", ErrAssetNotListed, asset.Hex())
	}
	return c.deposit(caller, caller, amount)
}

// Withdraw returns amount of asset from caller's position to caller.
func (c *Comet) Withdraw(caller, asset common.Address, amount *big.Int) error {
	if asset != c.BaseToken() {
		return fmt.Errorf("%w: %s", ErrAssetNotListed, asset.Hex())
	}
	_, err := c.redeem(caller, caller, amount)
	return err
}

// SharesOf returns the raw share balance of holder.
func (c *Comet) SharesOf(holder common.Address) (*big.Int, error) {
	return c.shares(holder)
}

// ExchangeRate returns base tokens per share scaled by 1e18.
func (c *Comet) ExchangeRate() (*big.Int, error) {
	b, err := c.loadBook()
	if err != nil {
		return nil, err
	}
	return cloneInt(b.Index), nil
}

// BalanceOf values holder's shares in base token units, rounding down.
func (c *Comet) BalanceOf(holder common.Address) (*big.Int, error) {
	return c.positionOf(holder)
}
