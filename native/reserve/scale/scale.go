// Package scale converts amounts between the fiat token's native decimals and
// the 18-decimal stable unit.
package scale

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// StableDecimals is the precision of the stable token.
const StableDecimals = 18

// Rounding selects the direction of a lossy conversion.
type Rounding uint8

const (
	// RoundDown floors the result. Used when the reserve pays out.
	RoundDown Rounding = iota
	// RoundUp ceils the result. Used when the reserve collects.
	RoundUp
)

func (r Rounding) String() string {
	if r == RoundUp {
		return "up"
	}
	return "down"
}

var (
	ErrDecimalsTooLarge = errors.New("scale: fiat decimals exceed 18")
	ErrNegativeAmount   = errors.New("scale: negative amount")
	ErrOverflow         = errors.New("scale: uint256 overflow")
	ErrDivisionByZero   = errors.New("scale: division by zero")
)

var one = uint256.NewInt(1_000_000_000_000_000_000)

// One returns the 1e18 fixed-point unit.
func One() *big.Int { return one.ToBig() }

// Converter holds the scale factor 10^(18-d) for a fiat token with d decimals.
type Converter struct {
	decimals uint8
	factor   *uint256.Int
}

// New builds a converter for a fiat token with the supplied decimals.
func New(fiatDecimals uint8) (*Converter, error) {
	if fiatDecimals > StableDecimals {
		return nil, fmt.Errorf("%w: %d", ErrDecimalsTooLarge, fiatDecimals)
	}
	factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(StableDecimals-fiatDecimals)))
	return &Converter{decimals: fiatDecimals, factor: factor}, nil
}

// Decimals returns the fiat precision.
func (c *Converter) Decimals() uint8 { return c.decimals }

// Factor returns 10^(18-d).
func (c *Converter) Factor() *big.Int { return c.factor.ToBig() }

// ToStable converts a fiat amount to stable units. The conversion is exact.
func (c *Converter) ToStable(fiat *big.Int) (*big.Int, error) {
	x, err := fromBig(fiat)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulOverflow(x, c.factor)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// ToFiat converts a stable amount to fiat units, rounding as requested.
func (c *Converter) ToFiat(stable *big.Int, mode Rounding) (*big.Int, error) {
	x, err := fromBig(stable)
	if err != nil {
		return nil, err
	}
	q, r := new(uint256.Int).DivMod(x, c.factor, new(uint256.Int))
	if mode == RoundUp && !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q.ToBig(), nil
}

// MulDiv computes x*y/d with a 512-bit intermediate, rounding as requested.
// The result must fit in 256 bits.
func MulDiv(x, y, d *big.Int, mode Rounding) (*big.Int, error) {
	ux, err := fromBig(x)
	if err != nil {
		return nil, err
	}
	uy, err := fromBig(y)
	if err != nil {
		return nil, err
	}
	ud, err := fromBig(d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return nil, ErrDivisionByZero
	}
	q, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrOverflow
	}
	if mode == RoundUp {
		rem := new(uint256.Int).MulMod(ux, uy, ud)
		if !rem.IsZero() {
			if q.Eq(maxUint256) {
				return nil, ErrOverflow
			}
			q.AddUint64(q, 1)
		}
	}
	return q.ToBig(), nil
}

var maxUint256 = new(uint256.Int).SetAllOne()

func fromBig(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	out, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
