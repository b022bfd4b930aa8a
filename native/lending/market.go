package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/types"
	nativecommon "fiatreserve/native/common"
)

var (
	ErrInvalidAmount         = errors.New("lending: amount must be positive")
	ErrInsufficientBalance   = errors.New("lending: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrAssetNotListed        = errors.New("lending: asset not listed")
	ErrDustDeposit           = errors.New("lending: deposit rounds to zero shares")
)

// MaxAmount requests a full withdrawal of the caller's position.
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const moduleName = "lending"

// Asset is the token a market lends out.
type Asset interface {
	Address() common.Address
	BalanceOf(addr common.Address) (*big.Int, error)
	Transfer(caller, to common.Address, amount *big.Int) error
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
}

// KVStore is where the market keeps its book and share balances.
type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Book is the persisted accounting state of a market. Index converts shares
// to underlying in the market's fixed-point unit.
type Book struct {
	Index       *big.Int
	Borrowed    *big.Int
	TotalShares *big.Int
	LastAccrual uint64
}

// Stats is a read-only summary of a market.
type Stats struct {
	Name      string
	Cash      *big.Int
	Borrowed  *big.Int
	Supplied  *big.Int
	Index     *big.Int
	SupplyAPY *big.Rat
	BorrowAPR *big.Rat
}

// market implements the accounting shared by both market styles: a cash
// balance held in the asset token, simulated borrows that earn the kinked
// interest model, and holder shares priced by a monotonically increasing
// index.
type market struct {
	name             string
	address          common.Address
	asset            Asset
	store            KVStore
	unit             *big.Int
	model            *InterestModel
	reserveFactorBps uint64
	pauses           nativecommon.PauseView
	now              func() time.Time
}

func newMarket(name string, asset Asset, store KVStore, unit *big.Int) *market {
	return &market{
		name:    name,
		address: types.DeriveAddress("market:" + name),
		asset:   asset,
		store:   store,
		unit:    unit,
		model:   DefaultInterestModel.Clone(),
		now:     time.Now,
	}
}

// SetInterestModel configures the interest rate model used on accrual.
func (m *market) SetInterestModel(model *InterestModel) {
	if model == nil {
		m.model = nil
		return
	}
	m.model = model.Clone()
}

// SetReserveFactor wires the reserve factor basis points used when accruing interest.
func (m *market) SetReserveFactor(bps uint64) { m.reserveFactorBps = bps }

// SetNowFunc overrides the clock used for accrual.
func (m *market) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.now = now
}

func (m *market) SetPauses(p nativecommon.PauseView) { m.pauses = p }

// Name returns the market label.
func (m *market) Name() string { return m.name }

// Address is the account holding the market's cash.
func (m *market) Address() common.Address { return m.address }

func (m *market) bookKey() []byte { return []byte("lending/" + m.name + "/book") }

func (m *market) sharesKey(holder common.Address) []byte {
	return append([]byte("lending/"+m.name+"/shares/"), holder.Bytes()...)
}

func (m *market) loadBook() (*Book, error) {
	b := new(Book)
	ok, err := m.store.KVGet(m.bookKey(), b)
	if err != nil {
		return nil, fmt.Errorf("lending %s: load book: %w", m.name, err)
	}
	if !ok || b.Index == nil || b.Index.Sign() == 0 {
		b.Index = new(big.Int).Set(m.unit)
	}
	if b.Borrowed == nil {
		b.Borrowed = big.NewInt(0)
	}
	if b.TotalShares == nil {
		b.TotalShares = big.NewInt(0)
	}
	return b, nil
}

func (m *market) saveBook(b *Book) error {
	return m.store.KVPut(m.bookKey(), b)
}

func (m *market) shares(holder common.Address) (*big.Int, error) {
	out := new(big.Int)
	if _, err := m.store.KVGet(m.sharesKey(holder), out); err != nil {
		return nil, fmt.Errorf("lending %s: load shares: %w", m.name, err)
	}
	return out, nil
}

func (m *market) setShares(holder common.Address, value *big.Int) error {
	return m.store.KVPut(m.sharesKey(holder), value)
}

func (m *market) supplied(b *Book) *big.Int {
	return mulDivDown(b.TotalShares, b.Index, m.unit)
}

// accrue advances the index and the outstanding debt to the current clock.
// The first call only records the timestamp.
func (m *market) accrue(b *Book) {
	now := uint64(m.now().Unix())
	if b.LastAccrual == 0 || now <= b.LastAccrual {
		if b.LastAccrual == 0 {
			b.LastAccrual = now
		}
		return
	}
	elapsed := now - b.LastAccrual
	b.LastAccrual = now
	if m.model == nil || b.Borrowed.Sign() == 0 {
		return
	}
	supplied := m.supplied(b)
	borrowAPR := m.model.BorrowAPR(b.Borrowed, supplied)
	supplyAPY := m.model.SupplyAPY(b.Borrowed, supplied, m.reserveFactorBps)
	b.Index = mulDivDown(b.Index, rateFactor(supplyAPY, elapsed, m.unit), m.unit)
	b.Borrowed = mulDivUp(b.Borrowed, rateFactor(borrowAPR, elapsed, m.unit), m.unit)
}

func (m *market) guard() error {
	return nativecommon.Guard(m.pauses, moduleName)
}

// Accrue brings the market's index up to date.
func (m *market) Accrue() error {
	b, err := m.loadBook()
	if err != nil {
		return err
	}
	m.accrue(b)
	return m.saveBook(b)
}

// Cash reports the asset balance the market can pay out.
func (m *market) Cash() (*big.Int, error) {
	return m.asset.BalanceOf(m.address)
}

// Stats summarises the market from the stored book.
func (m *market) Stats() (Stats, error) {
	b, err := m.loadBook()
	if err != nil {
		return Stats{}, err
	}
	cash, err := m.Cash()
	if err != nil {
		return Stats{}, err
	}
	supplied := m.supplied(b)
	stats := Stats{
		Name:      m.name,
		Cash:      cash,
		Borrowed:  cloneInt(b.Borrowed),
		Supplied:  supplied,
		Index:     cloneInt(b.Index),
		SupplyAPY: new(big.Rat),
		BorrowAPR: new(big.Rat),
	}
	if m.model != nil {
		stats.BorrowAPR = m.model.BorrowAPR(b.Borrowed, supplied)
		stats.SupplyAPY = m.model.SupplyAPY(b.Borrowed, supplied, m.reserveFactorBps)
	}
	return stats, nil
}

// Borrow lends cash to caller without collateral. It exists to drive
// utilisation, and with it interest and illiquidity, in simulations.
func (m *market) Borrow(caller common.Address, amount *big.Int) error {
	if err := m.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b, err := m.loadBook()
	if err != nil {
		return err
	}
	m.accrue(b)
	cash, err := m.Cash()
	if err != nil {
		return err
	}
	if cash.Cmp(amount) < 0 {
		return fmt.Errorf("%w: cash %s, requested %s", ErrInsufficientLiquidity, cash, amount)
	}
	if err := m.asset.Transfer(m.address, caller, amount); err != nil {
		return err
	}
	b.Borrowed.Add(b.Borrowed, amount)
	return m.saveBook(b)
}

// Repay returns borrowed cash. Overpayment beyond the outstanding debt is
// rejected.
func (m *market) Repay(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b, err := m.loadBook()
	if err != nil {
		return err
	}
	m.accrue(b)
	if amount.Cmp(b.Borrowed) > 0 {
		return fmt.Errorf("lending %s: repay %s exceeds debt %s", m.name, amount, b.Borrowed)
	}
	if err := m.asset.TransferFrom(m.address, caller, m.address, amount); err != nil {
		return err
	}
	b.Borrowed.Sub(b.Borrowed, amount)
	return m.saveBook(b)
}

// deposit pulls amount from caller and credits shares to holder.
func (m *market) deposit(caller, holder common.Address, amount *big.Int) error {
	if err := m.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b, err := m.loadBook()
	if err != nil {
		return err
	}
	m.accrue(b)
	minted := mulDivDown(amount, m.unit, b.Index)
	if minted.Sign() == 0 {
		return ErrDustDeposit
	}
	if err := m.asset.TransferFrom(m.address, caller, m.address, amount); err != nil {
		return err
	}
	current, err := m.shares(holder)
	if err != nil {
		return err
	}
	if err := m.setShares(holder, current.Add(current, minted)); err != nil {
		return err
	}
	b.TotalShares.Add(b.TotalShares, minted)
	return m.saveBook(b)
}

// redeem pays amount of underlying from holder's position to to. MaxAmount
// withdraws everything. Shares are burned rounding up so the market never
// pays out more than a position is worth.
func (m *market) redeem(holder, to common.Address, amount *big.Int) (*big.Int, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	b, err := m.loadBook()
	if err != nil {
		return nil, err
	}
	m.accrue(b)
	held, err := m.shares(holder)
	if err != nil {
		return nil, err
	}
	balance := mulDivDown(held, b.Index, m.unit)
	if amount.Cmp(MaxAmount) == 0 {
		amount = balance
	}
	if amount.Sign() == 0 || amount.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: position %s, requested %s", ErrInsufficientBalance, balance, amount)
	}
	cash, err := m.Cash()
	if err != nil {
		return nil, err
	}
	if cash.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: cash %s, requested %s", ErrInsufficientLiquidity, cash, amount)
	}
	burned := mulDivUp(amount, m.unit, b.Index)
	if burned.Cmp(held) > 0 {
		burned = held
	}
	if err := m.asset.Transfer(m.address, to, amount); err != nil {
		return nil, err
	}
	if err := m.setShares(holder, new(big.Int).Sub(held, burned)); err != nil {
		return nil, err
	}
	b.TotalShares.Sub(b.TotalShares, burned)
	if err := m.saveBook(b); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// positionOf values holder's shares at the stored index, rounding down.
func (m *market) positionOf(holder common.Address) (*big.Int, error) {
	b, err := m.loadBook()
	if err != nil {
		return nil, err
	}
	held, err := m.shares(holder)
	if err != nil {
		return nil, err
	}
	return mulDivDown(held, b.Index, m.unit), nil
}
