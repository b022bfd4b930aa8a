package reserve

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/events"
)

// FiatToken is the collateral token surface the reserve consumes.
type FiatToken interface {
	Address() common.Address
	Decimals() uint8
	BalanceOf(addr common.Address) (*big.Int, error)
	Transfer(caller, to common.Address, amount *big.Int) error
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
	Approve(caller, spender common.Address, amount *big.Int) error
}

// StableToken is the stable token surface the reserve consumes. Mint and
// Burn are restricted to the token owner.
type StableToken interface {
	Address() common.Address
	TotalSupply() (*big.Int, error)
	BalanceOf(addr common.Address) (*big.Int, error)
	Transfer(caller, to common.Address, amount *big.Int) error
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
	Mint(caller, to common.Address, amount *big.Int) error
	Burn(caller common.Address, amount *big.Int) error
	Owner() (common.Address, error)
	AcceptOwnership(caller common.Address) error
}

// Ledger is the journaled state the reserve keeps its own fields in. Every
// operation runs inside a snapshot and reverts it on failure.
type Ledger interface {
	events.Emitter
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Snapshot() int
	RevertToSnapshot(id int) error
}

// Position is a point-in-time view of the reserve's backing. Fiat amounts are
// in the fiat token's decimals; Assets and Supply are in stable units.
type Position struct {
	Idle       *big.Int
	Deployed   *big.Int
	Total      *big.Int
	Target     *big.Int
	Assets     *big.Int
	Supply     *big.Int
	Allocation *big.Int
}

// Collateralized reports whether assets cover the stable supply.
func (p Position) Collateralized() bool {
	if p.Assets == nil || p.Supply == nil {
		return false
	}
	return p.Assets.Cmp(p.Supply) >= 0
}
