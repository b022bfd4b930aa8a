package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// TokenMetadata describes a token registered with the ledger.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix       = []byte("token:")
	tokenListKey      = []byte("token-list")
	balancePrefix     = []byte("balance:")
	allowancePrefix   = []byte("allowance:")
	tokenSupplyPrefix = []byte("token/supply/")
)

// NormalizeSymbol upper-cases and trims a token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func tokenMetadataKey(symbol string) []byte {
	return append(append([]byte(nil), tokenPrefix...), symbol...)
}

func balanceKey(symbol string, addr common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	return append(buf, addr.Bytes()...)
}

func allowanceKey(symbol string, owner, spender common.Address) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(symbol)+1+2*common.AddressLength)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner.Bytes()...)
	return append(buf, spender.Bytes()...)
}

func tokenSupplyKey(symbol string) []byte {
	return append(append([]byte(nil), tokenSupplyPrefix...), symbol...)
}

func (l *Ledger) readAmount(key []byte) (*uint256.Int, error) {
	data, err := l.load(hashKey(key))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return new(uint256.Int), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func (l *Ledger) writeAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return l.store(hashKey(key), nil)
	}
	encoded, err := rlp.EncodeToBytes(amount.ToBig())
	if err != nil {
		return err
	}
	return l.store(hashKey(key), encoded)
}

func (l *Ledger) loadTokenList() ([]string, error) {
	data, err := l.load(hashKey(tokenListKey))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (l *Ledger) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := l.load(hashKey(tokenMetadataKey(symbol)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (l *Ledger) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, err := l.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	list, err := l.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	encodedList, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	if err := l.store(hashKey(tokenListKey), encodedList); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals})
	if err != nil {
		return err
	}
	return l.store(hashKey(tokenMetadataKey(normalized)), encoded)
}

// Token retrieves metadata for a registered token. A nil result means the
// token is unknown.
func (l *Ledger) Token(symbol string) (*TokenMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadTokenMetadata(NormalizeSymbol(symbol))
}

// TokenList returns all registered token symbols in sorted order.
func (l *Ledger) TokenList() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadTokenList()
}

// Balance returns the balance held by addr.
func (l *Ledger) Balance(symbol string, addr common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, err := l.readAmount(balanceKey(NormalizeSymbol(symbol), addr))
	if err != nil {
		return nil, err
	}
	return amount.ToBig(), nil
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(symbol string, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, err := l.readAmount(allowanceKey(NormalizeSymbol(symbol), owner, spender))
	if err != nil {
		return nil, err
	}
	return amount.ToBig(), nil
}

// SetAllowance overwrites the allowance granted by owner to spender.
func (l *Ledger) SetAllowance(symbol string, owner, spender common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeAmount(allowanceKey(NormalizeSymbol(symbol), owner, spender), value)
}

// SpendAllowance decrements the allowance granted by owner to spender.
func (l *Ledger) SpendAllowance(symbol string, owner, spender common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey(NormalizeSymbol(symbol), owner, spender)
	current, err := l.readAmount(key)
	if err != nil {
		return err
	}
	if current.Lt(value) {
		return fmt.Errorf("%w: have %s want %s", ErrInsufficientAllowance, current.Dec(), value.Dec())
	}
	return l.writeAmount(key, new(uint256.Int).Sub(current, value))
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(symbol string, from, to common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	normalized := NormalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(normalized, from, value); err != nil {
		return err
	}
	return l.credit(normalized, to, value)
}

// Mint credits addr and increases the token supply.
func (l *Ledger) Mint(symbol string, addr common.Address, amount *big.Int) (*big.Int, error) {
	value, err := toUint256(amount)
	if err != nil {
		return nil, err
	}
	normalized := NormalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, err := l.readAmount(tokenSupplyKey(normalized))
	if err != nil {
		return nil, err
	}
	total, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return nil, fmt.Errorf("token %s supply: %w", normalized, ErrOverflow)
	}
	if err := l.credit(normalized, addr, value); err != nil {
		return nil, err
	}
	if err := l.writeAmount(tokenSupplyKey(normalized), total); err != nil {
		return nil, err
	}
	return total.ToBig(), nil
}

// Burn debits addr and decreases the token supply.
func (l *Ledger) Burn(symbol string, addr common.Address, amount *big.Int) (*big.Int, error) {
	value, err := toUint256(amount)
	if err != nil {
		return nil, err
	}
	normalized := NormalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(normalized, addr, value); err != nil {
		return nil, err
	}
	supply, err := l.readAmount(tokenSupplyKey(normalized))
	if err != nil {
		return nil, err
	}
	if supply.Lt(value) {
		return nil, fmt.Errorf("token %s supply underflow", normalized)
	}
	total := new(uint256.Int).Sub(supply, value)
	if err := l.writeAmount(tokenSupplyKey(normalized), total); err != nil {
		return nil, err
	}
	return total.ToBig(), nil
}

func (l *Ledger) debit(symbol string, addr common.Address, value *uint256.Int) error {
	key := balanceKey(symbol, addr)
	current, err := l.readAmount(key)
	if err != nil {
		return err
	}
	if current.Lt(value) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, addr.Hex(), current.Dec(), symbol, value.Dec())
	}
	return l.writeAmount(key, new(uint256.Int).Sub(current, value))
}

func (l *Ledger) credit(symbol string, addr common.Address, value *uint256.Int) error {
	key := balanceKey(symbol, addr)
	current, err := l.readAmount(key)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(current, value)
	if overflow {
		return fmt.Errorf("balance of %s: %w", addr.Hex(), ErrOverflow)
	}
	return l.writeAmount(key, updated)
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("state: negative amount %s", amount)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}
