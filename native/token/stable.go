package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "fiatreserve/native/common"
)

// Stable is a token whose mint and burn authority belongs to a single owner.
// Ownership moves through a two-step handshake so the reserve can take custody
// only after it has been nominated.
type Stable struct {
	*Token
	ownership *nativecommon.Ownable
}

// NewStable wraps tok with ownership stored in the same ledger.
func NewStable(tok *Token) *Stable {
	own := nativecommon.NewOwnable("token:"+tok.Symbol(), tok.ledger)
	own.SetEmitter(tok.ledger)
	return &Stable{Token: tok, ownership: own}
}

// Mint creates amount for to. Only the owner may mint.
func (s *Stable) Mint(caller, to common.Address, amount *big.Int) error {
	if err := s.ownership.RequireOwner(caller); err != nil {
		return err
	}
	return s.Token.Mint(to, amount)
}

// Burn destroys amount from the caller's own balance. Only the owner may burn.
func (s *Stable) Burn(caller common.Address, amount *big.Int) error {
	if err := s.ownership.RequireOwner(caller); err != nil {
		return err
	}
	return s.Token.Burn(caller, amount)
}

func (s *Stable) Owner() (common.Address, error)        { return s.ownership.Owner() }
func (s *Stable) PendingOwner() (common.Address, error) { return s.ownership.PendingOwner() }

// SetOwner assigns the owner directly. Used at genesis only.
func (s *Stable) SetOwner(owner common.Address) error {
	return s.ownership.SetOwner(owner)
}

// TransferOwnership nominates next as the pending owner.
func (s *Stable) TransferOwnership(caller, next common.Address) error {
	return s.ownership.TransferOwnership(caller, next)
}

// AcceptOwnership completes the handshake for the nominated caller.
func (s *Stable) AcceptOwnership(caller common.Address) error {
	return s.ownership.AcceptOwnership(caller)
}
