package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fiatreserve/core/events"
	"fiatreserve/core/types"
)

func TestReserveOperationObserver(t *testing.T) {
	m := Reserve()
	observer := m.OperationObserver(func(error) string { return "validation" })

	beforeOK := testutil.ToFloat64(m.operations.WithLabelValues("mint", "success"))
	beforeErr := testutil.ToFloat64(m.failures.WithLabelValues("mint", "validation"))

	observer.ObserveOperation("Mint", 5*time.Millisecond, nil)
	observer.ObserveOperation("mint", time.Millisecond, errors.New("bad amount"))

	if got := testutil.ToFloat64(m.operations.WithLabelValues("mint", "success")); got != beforeOK+1 {
		t.Fatalf("success counter = %v, want %v", got, beforeOK+1)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("mint", "validation")); got != beforeErr+1 {
		t.Fatalf("failure counter = %v, want %v", got, beforeErr+1)
	}
}

func TestReserveRecordPosition(t *testing.T) {
	m := Reserve()
	half := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	half.Mul(half, big.NewInt(5))
	m.RecordPosition(big.NewInt(505), big.NewInt(495), big.NewInt(1000), big.NewInt(990), half)

	if got := testutil.ToFloat64(m.position.WithLabelValues("idle")); got != 505 {
		t.Fatalf("idle gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.position.WithLabelValues("supply")); got != 990 {
		t.Fatalf("supply gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.allocation); got != 0.5 {
		t.Fatalf("allocation gauge = %v", got)
	}
}

func TestEventsRecordCommitted(t *testing.T) {
	m := Events()
	beforeTransfers := testutil.ToFloat64(m.transfers.WithLabelValues("USDC"))
	beforeRebalances := testutil.ToFloat64(Reserve().rebalances.WithLabelValues("pool", events.RebalanceDeposit))

	m.RecordCommitted([]types.EventRecord{
		{Sequence: 7, Event: &types.Event{Type: events.TypeTransfer, Attributes: map[string]string{"asset": "usdc"}}},
		{Sequence: 8, Event: &types.Event{Type: events.TypeStrategyRebalanced, Attributes: map[string]string{
			"strategy": "pool", "direction": events.RebalanceDeposit,
		}}},
		{Sequence: 9},
	})

	if got := testutil.ToFloat64(m.transfers.WithLabelValues("USDC")); got != beforeTransfers+1 {
		t.Fatalf("transfer counter = %v", got)
	}
	if got := testutil.ToFloat64(Reserve().rebalances.WithLabelValues("pool", events.RebalanceDeposit)); got != beforeRebalances+1 {
		t.Fatalf("rebalance counter = %v", got)
	}
	if got := testutil.ToFloat64(m.sequence); got != 8 {
		t.Fatalf("sequence gauge = %v", got)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("reserve", "mint", "409"))
	m.Observe("reserve", "mint", 409, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("reserve", "mint", "409")); got != before+1 {
		t.Fatalf("error counter = %v", got)
	}
}
