package scale

import (
	"errors"
	"math/big"
	"testing"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad integer %q", s)
	}
	return v
}

func TestConverterSixDecimals(t *testing.T) {
	conv, err := New(6)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	stable, err := conv.ToStable(big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("to stable: %v", err)
	}
	if stable.Cmp(mustBig(t, "1000000000000000000")) != 0 {
		t.Fatalf("unexpected stable amount %s", stable)
	}

	odd := mustBig(t, "10000000000000000001") // 10e18 + 1
	down, _ := conv.ToFiat(odd, RoundDown)
	up, _ := conv.ToFiat(odd, RoundUp)
	if down.Int64() != 10_000_000 || up.Int64() != 10_000_001 {
		t.Fatalf("unexpected rounding down=%s up=%s", down, up)
	}
	exact, _ := conv.ToFiat(mustBig(t, "10000000000000000000"), RoundUp)
	if exact.Int64() != 10_000_000 {
		t.Fatalf("exact amount must not round up: %s", exact)
	}
}

func TestConverterRoundTrip(t *testing.T) {
	for _, decimals := range []uint8{0, 6, 8, 18} {
		conv, err := New(decimals)
		if err != nil {
			t.Fatalf("new(%d): %v", decimals, err)
		}
		for _, fiat := range []int64{0, 1, 7, 123_456_789} {
			stable, err := conv.ToStable(big.NewInt(fiat))
			if err != nil {
				t.Fatalf("to stable: %v", err)
			}
			for _, mode := range []Rounding{RoundDown, RoundUp} {
				back, err := conv.ToFiat(stable, mode)
				if err != nil {
					t.Fatalf("to fiat: %v", err)
				}
				if back.Int64() != fiat {
					t.Fatalf("decimals=%d mode=%s round trip %d -> %s", decimals, mode, fiat, back)
				}
			}
		}
	}
}

func TestConverterErrors(t *testing.T) {
	if _, err := New(19); !errors.Is(err, ErrDecimalsTooLarge) {
		t.Fatalf("expected ErrDecimalsTooLarge, got %v", err)
	}
	conv, _ := New(6)
	if _, err := conv.ToStable(big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := conv.ToStable(huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv(t *testing.T) {
	half := mustBig(t, "500000000000000000")
	got, err := MulDiv(big.NewInt(101), half, One(), RoundDown)
	if err != nil || got.Int64() != 50 {
		t.Fatalf("floor: got %s err=%v", got, err)
	}
	got, err = MulDiv(big.NewInt(101), half, One(), RoundUp)
	if err != nil || got.Int64() != 51 {
		t.Fatalf("ceil: got %s err=%v", got, err)
	}
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	got, err = MulDiv(max, One(), One(), RoundDown)
	if err != nil || got.Cmp(max) != 0 {
		t.Fatalf("512-bit intermediate: got %s err=%v", got, err)
	}
	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), RoundDown); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}
