package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DeriveAddress returns a deterministic address for an in-process component
// (token, market, reserve) from its label. The address is the last 20 bytes
// of keccak256("component:" + label).
func DeriveAddress(label string) common.Address {
	normalized := strings.ToLower(strings.TrimSpace(label))
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("component:" + normalized)))
}

// ParseAddress validates a 0x-prefixed hex address.
func ParseAddress(value string) (common.Address, bool) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, false
	}
	return common.HexToAddress(trimmed), true
}
