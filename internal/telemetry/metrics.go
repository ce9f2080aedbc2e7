// Package telemetry provides application-level observability for the API monitor.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<MON_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so scraping it
// never produces activity records.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Activity and error record writes, by outcome
//   - Critical notification deliveries, by channel and result
//   - Record shipping failures, by shipper type
//   - Database connection pool gauge (polled every 30 s)
//
// The audit write path is fail-safe, so a failed insert never reaches the client.
// audit_records_total{outcome="dropped"} is the only place such loss becomes visible.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// The path label holds the Gin route template (e.g. /api/items/:id), NOT the raw URL,
// to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// UnhandledFailuresTotal counts requests converted into the uniform 500 response
// after a panic or an unanswered handler error, by method and route template. It
// moves with error_logs inserts, but keeps counting when the record store is down.
//
// Example PromQL query:
//   - Failing routes:  topk(5, sum by (path) (increase(http_unhandled_failures_total[1h])))
var UnhandledFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_unhandled_failures_total",
		Help: "Total number of requests that ended in an unhandled failure, by method and route template.",
	},
	[]string{"method", "path"},
)

// Record outcome label values
const (
	OutcomeStored  = "stored"
	OutcomeDropped = "dropped"
)

// Record kind label values
const (
	KindActivity = "activity"
	KindError    = "error"
)

// AuditRecordsTotal is a CounterVec with labels {kind, outcome}. kind is "activity" or
// "error"; outcome is "stored" or "dropped".
//
// Example PromQL queries:
//   - Drop ratio:     sum(rate(audit_records_total{outcome="dropped"}[5m])) / sum(rate(audit_records_total[5m]))
//   - Alert on loss:  increase(audit_records_total{outcome="dropped"}[10m]) > 0
var AuditRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_records_total",
		Help: "Total number of activity and error record writes, by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// Notification channel and result label values
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"

	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// CriticalNotificationsTotal is a CounterVec with labels {channel, result}. Each
// notification attempt increments exactly one series per channel.
//
// Example PromQL queries:
//   - Webhook failures:  rate(critical_notifications_total{channel="webhook",result="failed"}[1h])
var CriticalNotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "critical_notifications_total",
		Help: "Total number of critical error notifications, by channel and result.",
	},
	[]string{"channel", "result"},
)

// RecordShipFailuresTotal counts records a configured shipper failed to deliver, by
// shipper type (file, webhook).
var RecordShipFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "record_ship_failures_total",
		Help: "Total number of records a shipper failed to deliver, by shipper type.",
	},
	[]string{"shipper"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every interval and updates the DBOpenConnections gauge. It stops when
// ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
