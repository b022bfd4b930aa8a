package state

import (
	"fmt"
	"math/big"
)

// TokenSupply returns the persisted total supply for the provided token. Missing
// entries default to zero.
func (l *Ledger) TokenSupply(symbol string) (*big.Int, error) {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("token symbol required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	total, err := l.readAmount(tokenSupplyKey(normalized))
	if err != nil {
		return nil, err
	}
	return total.ToBig(), nil
}
