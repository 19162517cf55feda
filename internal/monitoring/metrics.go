package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReconcileCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_cycles_total",
			Help: "Total number of invoice reconciliation cycles",
		},
	)

	InvoicesSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoices_settled_total",
			Help: "Crypto invoices that left the pending state, by outcome",
		},
		[]string{"outcome"},
	)

	ProviderErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_provider_errors_total",
			Help: "Failed invoice status queries",
		},
	)

	PendingInvoices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_invoices",
			Help: "Crypto invoices currently awaiting payment",
		},
	)

	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Balance ledger operations, by kind and result",
		},
		[]string{"kind", "result"},
	)

	SubscriptionsGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_granted_total",
			Help: "Subscriptions granted, by payment source",
		},
		[]string{"source"},
	)

	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_updates_total",
			Help: "Telegram updates handled, by kind",
		},
		[]string{"kind"},
	)

	InviteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invite_link_failures_total",
			Help: "Invite links the channel gateway failed to create",
		},
	)
)

// GinMiddleware records request counts and latencies per route
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		ResponseTimeHistogram.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
