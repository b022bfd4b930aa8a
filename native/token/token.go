package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/events"
	"fiatreserve/core/state"
	"fiatreserve/core/types"
)

var (
	ErrInvalidAmount  = errors.New("token: invalid amount")
	ErrZeroAddress    = errors.New("token: zero address")
	ErrUnknownToken   = errors.New("token: not registered")
	ErrDecimalsTooBig = errors.New("token: decimals exceed 77")
)

// Token is a fungible token whose balances, allowances and supply live in the
// shared ledger. Events flow through the ledger so they are dropped with any
// reverted operation.
type Token struct {
	symbol   string
	name     string
	decimals uint8
	address  common.Address
	ledger   *state.Ledger
	emitter  events.Emitter
}

// Register creates the token in the ledger and returns a handle. Registering an
// existing symbol fails.
func Register(ledger *state.Ledger, symbol, name string, decimals uint8) (*Token, error) {
	if ledger == nil {
		return nil, fmt.Errorf("token: ledger required")
	}
	if decimals > 77 {
		return nil, ErrDecimalsTooBig
	}
	if err := ledger.RegisterToken(symbol, name, decimals); err != nil {
		return nil, err
	}
	return Open(ledger, symbol)
}

// Open returns a handle for an already registered token.
func Open(ledger *state.Ledger, symbol string) (*Token, error) {
	if ledger == nil {
		return nil, fmt.Errorf("token: ledger required")
	}
	meta, err := ledger.Token(symbol)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, state.NormalizeSymbol(symbol))
	}
	return &Token{
		symbol:   meta.Symbol,
		name:     meta.Name,
		decimals: meta.Decimals,
		address:  types.DeriveAddress("token:" + meta.Symbol),
		ledger:   ledger,
		emitter:  ledger,
	}, nil
}

// SetEmitter overrides where token events are sent. Nil restores the ledger.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if t == nil {
		return
	}
	if emitter == nil {
		t.emitter = t.ledger
		return
	}
	t.emitter = emitter
}

func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Name() string            { return t.name }
func (t *Token) Decimals() uint8         { return t.decimals }
func (t *Token) Address() common.Address { return t.address }

func (t *Token) BalanceOf(addr common.Address) (*big.Int, error) {
	return t.ledger.Balance(t.symbol, addr)
}

func (t *Token) TotalSupply() (*big.Int, error) {
	return t.ledger.TokenSupply(t.symbol)
}

func (t *Token) Allowance(owner, spender common.Address) (*big.Int, error) {
	return t.ledger.Allowance(t.symbol, owner, spender)
}

// Transfer moves amount from caller to to.
func (t *Token) Transfer(caller, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := t.ledger.Transfer(t.symbol, caller, to, amount); err != nil {
		return fmt.Errorf("%s transfer: %w", t.symbol, err)
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, From: caller, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Approve sets the allowance caller grants spender. Zero revokes.
func (t *Token) Approve(caller, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := t.ledger.SetAllowance(t.symbol, caller, spender, amount); err != nil {
		return fmt.Errorf("%s approve: %w", t.symbol, err)
	}
	t.emitter.Emit(events.Approval{Asset: t.symbol, Owner: caller, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferFrom moves amount from from to to, spending the allowance from
// granted caller.
func (t *Token) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := t.ledger.SpendAllowance(t.symbol, from, caller, amount); err != nil {
		return fmt.Errorf("%s transferFrom: %w", t.symbol, err)
	}
	if err := t.ledger.Transfer(t.symbol, from, to, amount); err != nil {
		return fmt.Errorf("%s transferFrom: %w", t.symbol, err)
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint credits to without any authority check. The service uses it for
// genesis funding; the stable token wraps it behind ownership.
func (t *Token) Mint(to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	total, err := t.ledger.Mint(t.symbol, to, amount)
	if err != nil {
		return fmt.Errorf("%s mint: %w", t.symbol, err)
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, To: to, Amount: new(big.Int).Set(amount)})
	t.emitter.Emit(events.TokenSupply{Token: t.symbol, Total: total, Delta: new(big.Int).Set(amount), Reason: events.SupplyReasonMint})
	return nil
}

// Burn destroys amount held by from.
func (t *Token) Burn(from common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	total, err := t.ledger.Burn(t.symbol, from, amount)
	if err != nil {
		return fmt.Errorf("%s burn: %w", t.symbol, err)
	}
	t.emitter.Emit(events.Transfer{Asset: t.symbol, From: from, Amount: new(big.Int).Set(amount)})
	t.emitter.Emit(events.TokenSupply{Token: t.symbol, Total: total, Delta: new(big.Int).Neg(amount), Reason: events.SupplyReasonBurn})
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
