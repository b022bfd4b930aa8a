package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/state"
	"fiatreserve/native/token"
)

var (
	supplier = common.HexToAddress("0x5a")
	borrower = common.HexToAddress("0xb0")
	other    = common.HexToAddress("0x0c")
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func yearSeconds() time.Duration { return secondsPerYear * time.Second }

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func newAsset(t *testing.T) (*state.Ledger, *token.Token) {
	t.Helper()
	ledger := state.NewLedger(nil)
	fiat, err := token.Register(ledger, "usdc", "USD Coin", 6)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return ledger, fiat
}

func fund(t *testing.T, fiat *token.Token, holder, spender common.Address, amount int64) {
	t.Helper()
	if err := fiat.Mint(holder, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := fiat.Approve(holder, spender, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestPoolSupplyAccrueWithdraw(t *testing.T) {
	ledger, fiat := newAsset(t)
	clk := newClock()
	pool := NewPool("pool", fiat, ledger)
	pool.SetNowFunc(clk.Now)

	fund(t, fiat, supplier, pool.Address(), 1_000_000)
	if err := pool.Supply(supplier, fiat.Address(), big.NewInt(1_000_000), supplier); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := pool.Borrow(borrower, big.NewInt(500_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	clk.advance(yearSeconds())
	if err := pool.Accrue(); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	balance, err := pool.ReceiptBalance(pool.ReceiptToken(), supplier)
	if err != nil {
		t.Fatalf("receipt balance: %v", err)
	}
	// U = 0.5, borrow APR = 2% + 15%*0.5 = 9.5%, supply APY = 4.75%.
	if balance.Cmp(big.NewInt(1_047_500)) != 0 {
		t.Fatalf("unexpected receipt balance: %s", balance)
	}
	stats, err := pool.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Borrowed.Cmp(big.NewInt(547_500)) != 0 {
		t.Fatalf("unexpected debt: %s", stats.Borrowed)
	}

	if _, err := pool.Withdraw(supplier, fiat.Address(), big.NewInt(1_047_500), supplier); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected illiquidity, got %v", err)
	}

	fund(t, fiat, borrower, pool.Address(), 47_500)
	if err := fiat.Approve(borrower, pool.Address(), big.NewInt(547_500)); err != nil {
		t.Fatalf("approve repay: %v", err)
	}
	if err := pool.Repay(borrower, big.NewInt(547_500)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	withdrawn, err := pool.Withdraw(supplier, fiat.Address(), MaxAmount, supplier)
	if err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(1_047_500)) != 0 {
		t.Fatalf("unexpected withdrawn amount: %s", withdrawn)
	}
	remaining, _ := pool.ReceiptBalance(pool.ReceiptToken(), supplier)
	if remaining.Sign() != 0 {
		t.Fatalf("expected empty position, got %s", remaining)
	}
}

func TestPoolReserveDataListing(t *testing.T) {
	ledger, fiat := newAsset(t)
	pool := NewPool("pool", fiat, ledger)
	data, err := pool.ReserveData(fiat.Address())
	if err != nil {
		t.Fatalf("reserve data: %v", err)
	}
	if data.ReceiptToken != pool.ReceiptToken() || data.LiquidityIndex.Cmp(ray) != 0 {
		t.Fatalf("unexpected listing %+v", data)
	}
	unlisted, err := pool.ReserveData(other)
	if err != nil {
		t.Fatalf("reserve data: %v", err)
	}
	if unlisted.ReceiptToken != (common.Address{}) {
		t.Fatalf("expected unlisted asset to have zero receipt token")
	}
	if err := pool.Supply(supplier, other, big.NewInt(1), supplier); !errors.Is(err, ErrAssetNotListed) {
		t.Fatalf("expected ErrAssetNotListed, got %v", err)
	}
	if _, err := pool.ReceiptBalance(other, supplier); err == nil {
		t.Fatalf("expected unknown receipt token error")
	}
}

func TestCometExchangeRateRounding(t *testing.T) {
	ledger, fiat := newAsset(t)
	clk := newClock()
	comet := NewComet("comet", fiat, ledger)
	comet.SetNowFunc(clk.Now)

	if comet.BaseToken() != fiat.Address() {
		t.Fatalf("unexpected base token")
	}
	fund(t, fiat, supplier, comet.Address(), 1_000_000)
	if err := comet.Supply(supplier, fiat.Address(), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := comet.Borrow(borrower, big.NewInt(500_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	clk.advance(yearSeconds() / 2)
	if err := comet.Accrue(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	rate, _ := comet.ExchangeRate()
	if rate.Cmp(mustBigInt("1023750000000000000")) != 0 {
		t.Fatalf("unexpected exchange rate: %s", rate)
	}
	balance, _ := comet.BalanceOf(supplier)
	if balance.Cmp(big.NewInt(1_023_750)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}

	fund(t, fiat, other, comet.Address(), 3)
	if err := comet.Supply(other, fiat.Address(), big.NewInt(3)); err != nil {
		t.Fatalf("supply dust: %v", err)
	}
	shares, _ := comet.SharesOf(other)
	if shares.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected 2 shares, got %s", shares)
	}
	dust, _ := comet.BalanceOf(other)
	if dust.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected rounded-down balance 2, got %s", dust)
	}
	if err := comet.Withdraw(other, fiat.Address(), big.NewInt(3)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestInterestModelKink(t *testing.T) {
	model := NewInterestModelBps(200, 1500, 6000, 8000)
	apr := model.BorrowAPR(big.NewInt(90), big.NewInt(100))
	// 2% + 15%*0.8 + 60%*0.1 = 20%
	if apr.Cmp(big.NewRat(1, 5)) != 0 {
		t.Fatalf("unexpected borrow APR %s", apr.RatString())
	}
	if u := model.Utilisation(big.NewInt(200), big.NewInt(100)); u.Cmp(big.NewRat(1, 1)) != 0 {
		t.Fatalf("utilisation must cap at 1, got %s", u.RatString())
	}
	if apy := model.SupplyAPY(big.NewInt(0), big.NewInt(100), 0); apy.Sign() != 0 {
		t.Fatalf("idle market must not pay interest")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.Kind = "amm"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
