package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/types"
)

const (
	// TypeTransfer is emitted for every token balance movement.
	TypeTransfer = "token.transfer"
	// TypeApproval is emitted whenever an allowance is set.
	TypeApproval = "token.approval"
)

// Transfer captures a balance movement between two accounts. Mints use the
// zero address as the source and burns use it as the destination.
type Transfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = formatAddress(e.From)
	attrs["to"] = formatAddress(e.To)
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

// Approval captures an allowance update.
type Approval struct {
	Asset   string
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	attrs := map[string]string{
		"owner":   formatAddress(e.Owner),
		"spender": formatAddress(e.Spender),
		"amount":  formatAmount(e.Amount),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypeApproval, Attributes: attrs}
}
