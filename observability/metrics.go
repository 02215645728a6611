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

	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// facade activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total HTTP facade requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total HTTP facade errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP facade handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
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

// Observe records the outcome of a request. The status code should be the HTTP
// status that was ultimately written to the response writer.
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

// MarketMetrics wraps collectors tracking the escrow engine. A nil
// *MarketMetrics is valid and records nothing.
type MarketMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	volume      *prometheus.CounterVec
	fees        *prometheus.CounterVec
	withdrawals prometheus.Counter
	feeRate     prometheus.Gauge
	paused      prometheus.Gauge
}

// Market exposes the metrics registry for the escrow engine.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for committed engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "market",
				Name:      "settled_volume_total",
				Help:      "Gross value settled segmented by sale kind.",
			}, []string{"kind"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "market",
				Name:      "fees_total",
				Help:      "Marketplace fees credited segmented by sale kind.",
			}, []string{"kind"}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "market",
				Name:      "withdrawn_total",
				Help:      "Value paid out of the escrow ledger.",
			}),
			feeRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "market",
				Name:      "fee_rate_bps",
				Help:      "Current marketplace fee rate in basis points.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "market",
				Name:      "pause_engaged",
				Help:      "Indicates whether the administrator pause is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.latency,
			marketRegistry.volume,
			marketRegistry.fees,
			marketRegistry.withdrawals,
			marketRegistry.feeRate,
			marketRegistry.paused,
		)
	})
	return marketRegistry
}

// RecordOperation increments the operation counter.
func (m *MarketMetrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if operation = strings.TrimSpace(operation); operation == "" {
		operation = "unknown"
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unspecified"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveLatency records how long a committed operation took.
func (m *MarketMetrics) ObserveLatency(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordSettlement adds a completed sale to the volume and fee counters.
func (m *MarketMetrics) RecordSettlement(kind string, price, fee *big.Int) {
	if m == nil {
		return
	}
	m.volume.WithLabelValues(kind).Add(bigToFloat(price))
	m.fees.WithLabelValues(kind).Add(bigToFloat(fee))
}

// RecordWithdrawal adds a ledger payout to the withdrawal counter.
func (m *MarketMetrics) RecordWithdrawal(amount *big.Int) {
	if m == nil {
		return
	}
	m.withdrawals.Add(bigToFloat(amount))
}

// SetFeeRate updates the fee rate gauge.
func (m *MarketMetrics) SetFeeRate(bps uint32) {
	if m == nil {
		return
	}
	m.feeRate.Set(float64(bps))
}

// SetPaused toggles the pause_engaged gauge.
func (m *MarketMetrics) SetPaused(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() <= 0 {
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
