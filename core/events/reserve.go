package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/types"
)

const (
	// TypeReserveMint is emitted when fiat is exchanged for newly minted stable tokens.
	TypeReserveMint = "reserve.mint"
	// TypeReserveRedeem is emitted when stable tokens are burned for fiat.
	TypeReserveRedeem = "reserve.redeem"
	// TypeReserveIssue is emitted when the coordinator issues unbacked-by-deposit supply.
	TypeReserveIssue = "reserve.issue"
	// TypeReserveAllocationUpdated is emitted when the deployment ratio changes.
	TypeReserveAllocationUpdated = "reserve.allocation_updated"
	// TypeReserveCoordinatorUpdated is emitted when the coordinator changes.
	TypeReserveCoordinatorUpdated = "reserve.coordinator_updated"
	// TypeOwnerUpdated is emitted when ownership of a contract-like component moves.
	TypeOwnerUpdated = "ownership.owner_updated"
	// TypePendingOwnerUpdated is emitted when a two-step ownership handover starts.
	TypePendingOwnerUpdated = "ownership.pending_owner_updated"
	// TypeStrategyRebalanced is emitted when the reserve moves fiat into or out of
	// the yield venue.
	TypeStrategyRebalanced = "reserve.strategy_rebalanced"
)

// ReserveMint records stable tokens minted against fiat pulled from Caller.
type ReserveMint struct {
	Caller       common.Address
	StableAmount *big.Int
	FiatAmount   *big.Int
}

func (ReserveMint) EventType() string { return TypeReserveMint }

func (e ReserveMint) Event() *types.Event {
	return &types.Event{Type: TypeReserveMint, Attributes: map[string]string{
		"caller":       formatAddress(e.Caller),
		"stableAmount": formatAmount(e.StableAmount),
		"fiatAmount":   formatAmount(e.FiatAmount),
	}}
}

// ReserveRedeem records stable tokens burned and the fiat paid to Caller.
type ReserveRedeem struct {
	Caller       common.Address
	StableAmount *big.Int
	FiatAmount   *big.Int
}

func (ReserveRedeem) EventType() string { return TypeReserveRedeem }

func (e ReserveRedeem) Event() *types.Event {
	return &types.Event{Type: TypeReserveRedeem, Attributes: map[string]string{
		"caller":       formatAddress(e.Caller),
		"stableAmount": formatAmount(e.StableAmount),
		"fiatAmount":   formatAmount(e.FiatAmount),
	}}
}

// ReserveIssue records a coordinator issuance to Recipient.
type ReserveIssue struct {
	Recipient common.Address
	Amount    *big.Int
}

func (ReserveIssue) EventType() string { return TypeReserveIssue }

func (e ReserveIssue) Event() *types.Event {
	return &types.Event{Type: TypeReserveIssue, Attributes: map[string]string{
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
	}}
}

// AllocationUpdated records a new deployment ratio scaled by 1e18.
type AllocationUpdated struct {
	Allocation *big.Int
}

func (AllocationUpdated) EventType() string { return TypeReserveAllocationUpdated }

func (e AllocationUpdated) Event() *types.Event {
	return &types.Event{Type: TypeReserveAllocationUpdated, Attributes: map[string]string{
		"allocation": formatAmount(e.Allocation),
	}}
}

// CoordinatorUpdated records a coordinator change.
type CoordinatorUpdated struct {
	Coordinator common.Address
}

func (CoordinatorUpdated) EventType() string { return TypeReserveCoordinatorUpdated }

func (e CoordinatorUpdated) Event() *types.Event {
	return &types.Event{Type: TypeReserveCoordinatorUpdated, Attributes: map[string]string{
		"coordinator": formatAddress(e.Coordinator),
	}}
}

// OwnerUpdated records an ownership change of the named subject.
type OwnerUpdated struct {
	Subject  string
	Previous common.Address
	Owner    common.Address
}

func (OwnerUpdated) EventType() string { return TypeOwnerUpdated }

func (e OwnerUpdated) Event() *types.Event {
	attrs := map[string]string{
		"previous": formatAddress(e.Previous),
		"owner":    formatAddress(e.Owner),
	}
	if subject := strings.TrimSpace(e.Subject); subject != "" {
		attrs["subject"] = subject
	}
	return &types.Event{Type: TypeOwnerUpdated, Attributes: attrs}
}

// PendingOwnerUpdated records the nomination of a pending owner.
type PendingOwnerUpdated struct {
	Subject      string
	PendingOwner common.Address
}

func (PendingOwnerUpdated) EventType() string { return TypePendingOwnerUpdated }

func (e PendingOwnerUpdated) Event() *types.Event {
	attrs := map[string]string{"pendingOwner": formatAddress(e.PendingOwner)}
	if subject := strings.TrimSpace(e.Subject); subject != "" {
		attrs["subject"] = subject
	}
	return &types.Event{Type: TypePendingOwnerUpdated, Attributes: attrs}
}

const (
	// RebalanceDeposit marks fiat moved into the strategy.
	RebalanceDeposit = "deposit"
	// RebalanceWithdraw marks fiat pulled back from the strategy.
	RebalanceWithdraw = "withdraw"
)

// StrategyRebalanced records a movement of idle fiat into or out of the
// configured strategy.
type StrategyRebalanced struct {
	Strategy  string
	Direction string
	Amount    *big.Int
	Deployed  *big.Int
}

func (StrategyRebalanced) EventType() string { return TypeStrategyRebalanced }

func (e StrategyRebalanced) Event() *types.Event {
	return &types.Event{Type: TypeStrategyRebalanced, Attributes: map[string]string{
		"strategy":  strings.TrimSpace(e.Strategy),
		"direction": e.Direction,
		"amount":    formatAmount(e.Amount),
		"deployed":  formatAmount(e.Deployed),
	}}
}
