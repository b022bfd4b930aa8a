package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/events"
	"fiatreserve/core/state"
	nativecommon "fiatreserve/native/common"
)

var (
	alice = common.HexToAddress("0x0a")
	bob   = common.HexToAddress("0x0b")
	carol = common.HexToAddress("0x0c")
)

func newFiat(t *testing.T) (*state.Ledger, *Token) {
	t.Helper()
	ledger := state.NewLedger(nil)
	tok, err := Register(ledger, "usdc", "USD Coin", 6)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return ledger, tok
}

func TestTokenTransferFrom(t *testing.T) {
	ledger, tok := newFiat(t)
	if tok.Symbol() != "USDC" || tok.Decimals() != 6 {
		t.Fatalf("unexpected metadata %s/%d", tok.Symbol(), tok.Decimals())
	}
	if err := tok.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.TransferFrom(bob, alice, carol, big.NewInt(10)); !errors.Is(err, state.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if err := tok.Approve(alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tok.TransferFrom(bob, alice, carol, big.NewInt(200)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := tok.Allowance(alice, bob)
	if remaining.Int64() != 100 {
		t.Fatalf("unexpected allowance %s", remaining)
	}
	carolBal, _ := tok.BalanceOf(carol)
	if carolBal.Int64() != 200 {
		t.Fatalf("unexpected carol balance %s", carolBal)
	}
	transfers := 0
	for _, evt := range ledger.PendingEvents() {
		if evt.EventType() == events.TypeTransfer {
			transfers++
		}
	}
	if transfers != 2 {
		t.Fatalf("expected mint+transferFrom transfer events, got %d", transfers)
	}
	if err := tok.Transfer(alice, common.Address{}, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
}

func TestOpenUnknownToken(t *testing.T) {
	if _, err := Open(state.NewLedger(nil), "nope"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestStableOwnerGatedMintBurn(t *testing.T) {
	ledger := state.NewLedger(nil)
	tok, err := Register(ledger, "usdx", "Stable Dollar", 18)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	stable := NewStable(tok)
	if err := stable.Mint(alice, alice, big.NewInt(1)); !errors.Is(err, nativecommon.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner before owner set, got %v", err)
	}
	if err := stable.SetOwner(alice); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if err := stable.Mint(alice, bob, big.NewInt(50)); err != nil {
		t.Fatalf("owner mint: %v", err)
	}
	if err := stable.Burn(bob, big.NewInt(1)); !errors.Is(err, nativecommon.ErrNotOwner) {
		t.Fatalf("non-owner burn must fail, got %v", err)
	}
	if err := stable.TransferOwnership(alice, bob); err != nil {
		t.Fatalf("nominate: %v", err)
	}
	if err := stable.AcceptOwnership(bob); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := stable.Burn(bob, big.NewInt(20)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	supply, _ := stable.TotalSupply()
	if supply.Int64() != 30 {
		t.Fatalf("unexpected supply %s", supply)
	}
}
