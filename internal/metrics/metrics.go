package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the prometheus instruments for the quote service.
// All methods are nil-safe so library consumers can run without a
// registry.
type Metrics struct {
	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec
	QuotesTotal        *prometheus.CounterVec
	CatalogRefreshes   *prometheus.CounterVec
	CatalogAgeSeconds  prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_rpc_requests_total",
				Help: "Signed JSON-RPC calls to the exchange by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exchange_rpc_request_duration_seconds",
				Help:    "Duration of signed JSON-RPC calls.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
			},
			[]string{"method"},
		),
		QuotesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotes_total",
				Help: "Quote requests by outcome (ok, unsupported_pair, below_minimum, network, upstream).",
			},
			[]string{"outcome"},
		),
		CatalogRefreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_refreshes_total",
				Help: "Currency catalog refresh attempts by outcome.",
			},
			[]string{"outcome"},
		),
		CatalogAgeSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_age_seconds",
				Help: "Seconds since the last successful catalog refresh.",
			},
		),
	}
}

func (m *Metrics) RecordRPC(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) RecordQuote(outcome string) {
	if m == nil {
		return
	}
	m.QuotesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCatalogRefresh(outcome string) {
	if m == nil {
		return
	}
	m.CatalogRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetCatalogAge(seconds float64) {
	if m == nil {
		return
	}
	m.CatalogAgeSeconds.Set(seconds)
}
