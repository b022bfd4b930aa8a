package lending

import (
	"math/big"
)

const secondsPerYear = 31_536_000

var (
	ray = mustBigInt("1000000000000000000000000000") // 1e27 precision
	wad = mustBigInt("1000000000000000000")          // 1e18, comet exchange-rate precision
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// mulDivDown computes floor(a*b/d).
func mulDivDown(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, d)
}

// mulDivUp computes ceil(a*b/d).
func mulDivUp(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(product, d, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func ratToUnit(r *big.Rat, unit *big.Int) *big.Int {
	if r == nil {
		return new(big.Int).Set(unit)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(unit))
	num := scaled.Num()
	den := scaled.Denom()
	result := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if result.Sign() == 0 {
		return new(big.Int).Set(unit)
	}
	return result
}

// rateFactor returns 1 + rate*elapsed/year in the supplied fixed-point unit
// (simple interest over the elapsed window).
func rateFactor(rate *big.Rat, elapsed uint64, unit *big.Int) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(unit)
	}
	perPeriod := new(big.Rat).Set(rate)
	perPeriod.Quo(perPeriod, new(big.Rat).SetUint64(secondsPerYear))
	perPeriod.Mul(perPeriod, new(big.Rat).SetUint64(elapsed))
	factor := new(big.Rat).Add(big.NewRat(1, 1), perPeriod)
	return ratToUnit(factor, unit)
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(x)
}
