// Package metrics exposes the exchange's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotdex"

// Metrics holds every collector of the process. All collectors live on
// a private registry so tests can run several instances side by side.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	tradesExecuted  *prometheus.CounterVec
	baseVolume      *prometheus.CounterVec
	quoteValue      *prometheus.CounterVec
	matchingLatency *prometheus.HistogramVec

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
}

// New creates and registers the exchange collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ordersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_submitted_total",
		Help:      "Orders accepted or rejected by the gateway.",
	}, []string{"ticker", "direction", "kind", "outcome"})

	m.tradesExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_executed_total",
		Help:      "Fills produced by the matching engine.",
	}, []string{"ticker"})

	m.baseVolume = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trade_base_volume_total",
		Help:      "Base units traded.",
	}, []string{"ticker"})

	m.quoteValue = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trade_quote_value_total",
		Help:      "Quote value traded.",
	}, []string{"ticker"})

	m.matchingLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "matching_duration_seconds",
		Help:      "Wall time of one engine submit, lock wait excluded.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"ticker"})

	m.apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	m.apiLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.ordersSubmitted, m.tradesExecuted, m.baseVolume, m.quoteValue,
		m.matchingLatency, m.apiRequests, m.apiLatency,
	)
	return m
}

// OrderSubmitted counts one gateway submit with its outcome label
// ("accepted" or "rejected").
func (m *Metrics) OrderSubmitted(ticker, direction, kind, outcome string) {
	m.ordersSubmitted.WithLabelValues(ticker, direction, kind, outcome).Inc()
}

// TradeExecuted counts one fill and its volumes.
func (m *Metrics) TradeExecuted(ticker string, qty, notional int64) {
	m.tradesExecuted.WithLabelValues(ticker).Inc()
	m.baseVolume.WithLabelValues(ticker).Add(float64(qty))
	m.quoteValue.WithLabelValues(ticker).Add(float64(notional))
}

// ObserveMatching records one engine submit duration.
func (m *Metrics) ObserveMatching(ticker string, d time.Duration) {
	m.matchingLatency.WithLabelValues(ticker).Observe(d.Seconds())
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
