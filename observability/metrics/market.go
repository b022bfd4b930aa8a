package metrics

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"fiatreserve/native/lending"
)

// MarketMetrics exports the state of the simulated lending markets backing
// reserve strategies.
type MarketMetrics struct {
	cash      *prometheus.GaugeVec
	borrowed  *prometheus.GaugeVec
	supplied  *prometheus.GaugeVec
	supplyAPY *prometheus.GaugeVec
	borrowAPR *prometheus.GaugeVec
	accruals  *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

func Markets() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			cash: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_cash",
				Help: "Asset balance held by the market in base units.",
			}, []string{"market"}),
			borrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_borrowed",
				Help: "Outstanding borrows including accrued interest.",
			}, []string{"market"}),
			supplied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_supplied",
				Help: "Underlying value of all supplier shares.",
			}, []string{"market"}),
			supplyAPY: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_supply_apy",
				Help: "Current supply yield as a fraction.",
			}, []string{"market"}),
			borrowAPR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_borrow_apr",
				Help: "Current borrow rate as a fraction.",
			}, []string{"market"}),
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_market_accruals_total",
				Help: "Number of interest accrual runs by market and outcome.",
			}, []string{"market", "outcome"}),
		}
		prometheus.MustRegister(
			marketRegistry.cash,
			marketRegistry.borrowed,
			marketRegistry.supplied,
			marketRegistry.supplyAPY,
			marketRegistry.borrowAPR,
			marketRegistry.accruals,
		)
	})
	return marketRegistry
}

// RecordStats publishes a market summary.
func (m *MarketMetrics) RecordStats(stats lending.Stats) {
	if m == nil {
		return
	}
	name := marketLabel(stats.Name)
	m.cash.WithLabelValues(name).Set(intToFloat(stats.Cash))
	m.borrowed.WithLabelValues(name).Set(intToFloat(stats.Borrowed))
	m.supplied.WithLabelValues(name).Set(intToFloat(stats.Supplied))
	m.supplyAPY.WithLabelValues(name).Set(ratToFloat(stats.SupplyAPY))
	m.borrowAPR.WithLabelValues(name).Set(ratToFloat(stats.BorrowAPR))
}

// RecordAccrual counts an accrual attempt.
func (m *MarketMetrics) RecordAccrual(market string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.accruals.WithLabelValues(marketLabel(market), outcome).Inc()
}

func marketLabel(name string) string {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func intToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func ratToFloat(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}
