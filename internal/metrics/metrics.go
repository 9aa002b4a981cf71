package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StockMovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_moves_total",
		Help: "Total number of committed stock ledger entries",
	}, []string{"reason"})

	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_checkouts_total",
		Help: "Total number of completed checkouts",
	}, []string{"mode"})

	CheckoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_checkout_failures_total",
		Help: "Total number of rejected checkouts",
	}, []string{"kind"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_checkout_duration_seconds",
		Help:    "Latency of checkout units",
		Buckets: prometheus.DefBuckets,
	})

	VoidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_voids_total",
		Help: "Total number of voided sales",
	}, []string{"kind"})

	LoginFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_login_failures_total",
		Help: "Total number of rejected logins",
	}, []string{"code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
