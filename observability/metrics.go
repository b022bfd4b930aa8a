package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	reserveMetricsOnce sync.Once
	reserveRegistry    *ReserveMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record HTTP API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fiatreserve",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// ReserveMetrics tracks reserve operations and the last observed position.
type ReserveMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	position   *prometheus.GaugeVec
	allocation prometheus.Gauge
	rebalances *prometheus.CounterVec
}

// Reserve returns the lazily-initialised reserve metrics registry.
func Reserve() *ReserveMetrics {
	reserveMetricsOnce.Do(func() {
		reserveRegistry = &ReserveMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "reserve",
				Name:      "operations_total",
				Help:      "Count of reserve operations by name and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "reserve",
				Name:      "operation_errors_total",
				Help:      "Count of failed reserve operations by name and error kind.",
			}, []string{"operation", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fiatreserve",
				Subsystem: "reserve",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for reserve operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fiatreserve",
				Subsystem: "reserve",
				Name:      "position_base_units",
				Help:      "Last observed reserve position component in base units.",
			}, []string{"component"}),
			allocation: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fiatreserve",
				Subsystem: "reserve",
				Name:      "allocation_ratio",
				Help:      "Configured share of assets deployed to the strategy.",
			}),
			rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fiatreserve",
				Subsystem: "reserve",
				Name:      "rebalances_total",
				Help:      "Count of strategy movements by strategy and direction.",
			}, []string{"strategy", "direction"}),
		}
		prometheus.MustRegister(
			reserveRegistry.operations,
			reserveRegistry.failures,
			reserveRegistry.latency,
			reserveRegistry.position,
			reserveRegistry.allocation,
			reserveRegistry.rebalances,
		)
	})
	return reserveRegistry
}

// KindClassifier maps an operation error onto a stable label.
type KindClassifier func(error) string

// OperationObserver adapts the registry to the runtime observer hook. The
// classifier labels failures; nil labels every failure "error".
func (m *ReserveMetrics) OperationObserver(classify KindClassifier) *OperationObserver {
	return &OperationObserver{metrics: m, classify: classify}
}

// OperationObserver records operation outcomes into ReserveMetrics.
type OperationObserver struct {
	metrics  *ReserveMetrics
	classify KindClassifier
}

// ObserveOperation implements the runtime observer hook.
func (o *OperationObserver) ObserveOperation(op string, duration time.Duration, err error) {
	if o == nil || o.metrics == nil {
		return
	}
	kind := ""
	if err != nil {
		kind = "error"
		if o.classify != nil {
			kind = o.classify(err)
		}
	}
	o.metrics.Observe(op, duration, kind)
}

// Observe records a single operation. An empty kind means success.
func (m *ReserveMetrics) Observe(operation string, duration time.Duration, kind string) {
	if m == nil {
		return
	}
	operation = labelOperation(operation)
	outcome := "success"
	if kind != "" {
		outcome = "error"
		m.failures.WithLabelValues(operation, kind).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPosition publishes the reserve balances. Allocation is 18-decimal
// fixed point.
func (m *ReserveMetrics) RecordPosition(idle, deployed, assets, supply, allocation *big.Int) {
	if m == nil {
		return
	}
	m.position.WithLabelValues("idle").Set(bigToFloat(idle))
	m.position.WithLabelValues("deployed").Set(bigToFloat(deployed))
	m.position.WithLabelValues("assets").Set(bigToFloat(assets))
	m.position.WithLabelValues("supply").Set(bigToFloat(supply))
	m.allocation.Set(ratioToFloat(allocation))
}

// RecordRebalance counts a strategy deposit or withdrawal.
func (m *ReserveMetrics) RecordRebalance(strategy, direction string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "unknown"
	}
	if direction == "" {
		direction = "unknown"
	}
	m.rebalances.WithLabelValues(strategy, direction).Inc()
}

func labelOperation(op string) string {
	trimmed := strings.TrimSpace(strings.ToLower(op))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

var wad = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

func ratioToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(value), wad).Float64()
	return ratio
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
