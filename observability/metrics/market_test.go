package metrics

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fiatreserve/native/lending"
)

func TestMarketsRecordStats(t *testing.T) {
	m := Markets()
	m.RecordStats(lending.Stats{
		Name:      "Pool",
		Cash:      big.NewInt(500),
		Borrowed:  big.NewInt(500),
		Supplied:  big.NewInt(1000),
		SupplyAPY: big.NewRat(475, 10000),
		BorrowAPR: big.NewRat(1, 10),
	})
	if got := testutil.ToFloat64(m.supplied.WithLabelValues("pool")); got != 1000 {
		t.Fatalf("supplied gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.supplyAPY.WithLabelValues("pool")); got != 0.0475 {
		t.Fatalf("supply apy gauge = %v", got)
	}
}

func TestMarketsRecordAccrual(t *testing.T) {
	m := Markets()
	before := testutil.ToFloat64(m.accruals.WithLabelValues("comet", "error"))
	m.RecordAccrual("comet", errors.New("paused"))
	if got := testutil.ToFloat64(m.accruals.WithLabelValues("comet", "error")); got != before+1 {
		t.Fatalf("accrual counter = %v", got)
	}
}
