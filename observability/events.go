package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"fiatreserve/core/events"
	"fiatreserve/core/types"
)

type eventMetrics struct {
	transfers *prometheus.CounterVec
	committed *prometheus.CounterVec
	sequence  prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of token transfers segmented by asset.",
			}, []string{"asset"}),
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			sequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fiatreserve",
				Subsystem: "events",
				Name:      "last_sequence",
				Help:      "Sequence number of the most recently committed event.",
			}),
		}
		prometheus.MustRegister(eventRegistry.transfers, eventRegistry.committed, eventRegistry.sequence)
	})
	return eventRegistry
}

// RecordTransfer increments the transfer counter for the supplied asset ticker.
func (m *eventMetrics) RecordTransfer(asset string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(labelAsset(asset)).Inc()
}

// RecordCommitted counts a batch of committed records.
func (m *eventMetrics) RecordCommitted(records []types.EventRecord) {
	if m == nil {
		return
	}
	for _, rec := range records {
		if rec.Event == nil {
			continue
		}
		eventType := strings.TrimSpace(rec.Event.Type)
		if eventType == "" {
			eventType = "unknown"
		}
		m.committed.WithLabelValues(eventType).Inc()
		switch eventType {
		case events.TypeTransfer:
			m.RecordTransfer(rec.Event.Attr("asset"))
		case events.TypeStrategyRebalanced:
			Reserve().RecordRebalance(rec.Event.Attr("strategy"), rec.Event.Attr("direction"))
		}
		m.sequence.Set(float64(rec.Sequence))
	}
}
