package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/ride-ledger/internal/models"
)

var (
	SnapshotsPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_ledger", Name: "snapshots_published_total", Help: "Snapshots published to observers"})
	RecordsInWindow    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_ledger", Name: "records_in_window", Help: "Records in the last listed window"})
	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_ledger", Name: "observers_connected", Help: "Websocket observers currently connected"})

	NotificationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_ledger", Name: "notifications_received_total", Help: "Ledger change notifications received"},
		[]string{"kind"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_ledger", Name: "transitions_total", Help: "Submitted transitions by action and outcome"},
		[]string{"action", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_ledger", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_ledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveTransition records one submit attempt.
func ObserveTransition(action models.Action, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TransitionsTotal.WithLabelValues(string(action), outcome).Inc()
}
