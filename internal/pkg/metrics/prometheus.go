// Package metrics registers Tollgate's Prometheus collectors.
//
// Import Path: tollgate.io/tollgate/internal/pkg/metrics
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	/* HTTP metrics */
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tollgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	/* Approval metrics */
	requestsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_requests_opened_total",
			Help: "Approval requests opened, by kind (pending or auto_approved)",
		},
		[]string{"kind"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_decisions_total",
			Help: "Approver decisions recorded",
		},
		[]string{"decision"},
	)

	requestsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_requests_resolved_total",
			Help: "Approval requests reaching a terminal status",
		},
		[]string{"status"},
	)

	/* Sweeper metrics */
	sweeperPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_sweeper_passes_total",
			Help: "Expiration sweeper passes",
		},
		[]string{"result"},
	)

	sweeperExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tollgate_sweeper_expired_total",
			Help: "Requests expired by the sweeper",
		},
	)

	/* Notification metrics */
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tollgate_notifications_total",
			Help: "Notification dispatch attempts",
		},
		[]string{"event", "result"},
	)
)

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRequestOpened counts a new request; kind is "pending" or "auto_approved".
func RecordRequestOpened(kind string) {
	requestsOpenedTotal.WithLabelValues(kind).Inc()
}

// RecordDecision counts one approver decision.
func RecordDecision(decision string) {
	decisionsTotal.WithLabelValues(decision).Inc()
}

// RecordResolution counts a terminal transition.
func RecordResolution(status string) {
	requestsResolvedTotal.WithLabelValues(status).Inc()
}

// RecordSweep records one sweeper pass.
func RecordSweep(expired int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sweeperPassesTotal.WithLabelValues(result).Inc()
	sweeperExpiredTotal.Add(float64(expired))
}

// RecordNotification records a dispatch attempt; result is "sent",
// "failed" or "dropped".
func RecordNotification(event, result string) {
	notificationsTotal.WithLabelValues(event, result).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
