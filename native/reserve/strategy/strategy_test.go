package strategy

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/state"
	"fiatreserve/native/lending"
	"fiatreserve/native/token"
)

var (
	holder   = common.HexToAddress("0x4e5e")
	borrower = common.HexToAddress("0xb0")
)

type fixture struct {
	ledger *state.Ledger
	fiat   *token.Token
	other  *token.Token
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := state.NewLedger(nil)
	fiat, err := token.Register(ledger, "usdc", "USD Coin", 6)
	if err != nil {
		t.Fatalf("register fiat: %v", err)
	}
	other, err := token.Register(ledger, "dai", "Dai", 18)
	if err != nil {
		t.Fatalf("register other: %v", err)
	}
	if err := fiat.Mint(holder, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return &fixture{ledger: ledger, fiat: fiat, other: other}
}

func fixedClock() func() time.Time {
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time { return now }
}

func TestPoolStrategyLifecycle(t *testing.T) {
	fx := newFixture(t)
	pool := lending.NewPool("pool", fx.fiat, fx.ledger)
	pool.SetNowFunc(fixedClock())

	s, err := NewPool(pool, fx.fiat, holder)
	if err != nil {
		t.Fatalf("new pool strategy: %v", err)
	}
	if s.ReceiptToken() != pool.ReceiptToken() {
		t.Fatalf("unexpected receipt token")
	}
	if err := s.Deposit(big.NewInt(400_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	allowance, _ := fx.fiat.Allowance(holder, pool.Address())
	if allowance.Sign() != 0 {
		t.Fatalf("approval must be reset, got %s", allowance)
	}
	balance, err := s.Balance()
	if err != nil || balance.Int64() != 400_000 {
		t.Fatalf("unexpected balance %s err=%v", balance, err)
	}
	if err := s.Withdraw(big.NewInt(150_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	idle, _ := fx.fiat.BalanceOf(holder)
	if idle.Int64() != 750_000 {
		t.Fatalf("unexpected idle balance %s", idle)
	}

	if err := pool.Borrow(borrower, big.NewInt(250_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	err = s.Withdraw(big.NewInt(1))
	if !errors.Is(err, ErrStrategyFailed) || !errors.Is(err, lending.ErrInsufficientLiquidity) {
		t.Fatalf("expected wrapped illiquidity, got %v", err)
	}
	if err := s.Deposit(big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPoolStrategyRejectsUnlistedAsset(t *testing.T) {
	fx := newFixture(t)
	pool := lending.NewPool("pool", fx.other, fx.ledger)
	if _, err := NewPool(pool, fx.fiat, holder); !errors.Is(err, ErrInvalidMarket) {
		t.Fatalf("expected ErrInvalidMarket, got %v", err)
	}
}

func TestCometStrategyLifecycle(t *testing.T) {
	fx := newFixture(t)
	comet := lending.NewComet("comet", fx.fiat, fx.ledger)
	comet.SetNowFunc(fixedClock())

	if _, err := NewComet(lending.NewComet("wrong", fx.other, fx.ledger), fx.fiat, holder); !errors.Is(err, ErrInvalidMarket) {
		t.Fatalf("expected ErrInvalidMarket, got %v", err)
	}
	s, err := NewComet(comet, fx.fiat, holder)
	if err != nil {
		t.Fatalf("new comet strategy: %v", err)
	}
	if err := s.Deposit(big.NewInt(300_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	allowance, _ := fx.fiat.Allowance(holder, comet.Address())
	if allowance.Sign() != 0 {
		t.Fatalf("approval must be reset, got %s", allowance)
	}
	balance, _ := s.Balance()
	if balance.Int64() != 300_000 {
		t.Fatalf("unexpected balance %s", balance)
	}
	if err := s.Withdraw(big.NewInt(300_001)); !errors.Is(err, ErrStrategyFailed) {
		t.Fatalf("expected ErrStrategyFailed, got %v", err)
	}
	if err := s.Withdraw(big.NewInt(300_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
}

func TestBuildRegistry(t *testing.T) {
	fx := newFixture(t)
	kind, err := ParseKind("lending-market-b")
	if err != nil || kind != KindComet {
		t.Fatalf("unexpected kind %q err=%v", kind, err)
	}
	if _, err := ParseKind("vault"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	s, err := Build(KindNoop, Deps{})
	if err != nil || s.Name() != "noop" {
		t.Fatalf("noop build: %v", err)
	}
	if _, err := Build(KindPool, Deps{Fiat: fx.fiat, Holder: holder}); err == nil {
		t.Fatalf("expected missing pool error")
	}
	s, err = Build(KindComet, Deps{Fiat: fx.fiat, Holder: holder, Comet: lending.NewComet("comet", fx.fiat, fx.ledger)})
	if err != nil || s.Name() != "comet" {
		t.Fatalf("comet build: %v", err)
	}
}

func TestDustDepositIsNotAStrategyFailure(t *testing.T) {
	fx := newFixture(t)
	now := time.Unix(1_700_000_000, 0)
	comet := lending.NewComet("comet", fx.fiat, fx.ledger)
	comet.SetNowFunc(func() time.Time { return now })
	s, err := NewComet(comet, fx.fiat, holder)
	if err != nil {
		t.Fatalf("new comet strategy: %v", err)
	}
	if err := s.Deposit(big.NewInt(400_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := comet.Borrow(borrower, big.NewInt(200_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	now = now.Add(365 * 24 * time.Hour)
	if err := comet.Accrue(); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	err = s.Deposit(big.NewInt(1))
	if !errors.Is(err, ErrDustDeposit) {
		t.Fatalf("expected ErrDustDeposit, got %v", err)
	}
	if errors.Is(err, ErrStrategyFailed) {
		t.Fatalf("dust deposit must not read as a strategy failure: %v", err)
	}
}
