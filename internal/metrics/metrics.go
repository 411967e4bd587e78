package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reservation lifecycle
	ReservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realty_reservations_created_total",
		Help: "Total number of reservations created",
	})
	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realty_reservations_expired_total",
		Help: "Total number of reservations expired by sweeps",
	})
	ReservationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realty_reservation_transitions_total",
		Help: "Reservation state transitions by target state",
	}, []string{"state"})

	// Rejected operations by error kind
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realty_rejections_total",
		Help: "Operations rejected by an invariant or permission check",
	}, []string{"operation", "kind"})

	// Installments and payments
	InstallmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realty_installments_created_total",
		Help: "Total number of installments generated",
	})
	PaymentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realty_payments_total",
		Help: "Payments recorded, by source",
	}, []string{"source"})

	// Property status writes done by the sync
	StatusWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realty_property_status_writes_total",
		Help: "Property status updates by resulting status",
	}, []string{"status"})

	// Notifier consumer outcomes: stored, duplicate, error
	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realty_notifications_delivered_total",
		Help: "Notification requests processed by the notifier",
	}, []string{"result"})

	// Bearer token checks
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realty_auth_failures_total",
		Help: "Rejected bearer tokens by reason",
	}, []string{"reason"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realty_http_requests_total",
		Help: "HTTP requests by route pattern and status",
	}, []string{"method", "route", "status"})
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "realty_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	TxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "realty_tx_duration_seconds",
		Help:    "Duration of domain transactions in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// TrackTx returns a function that records the duration of a transaction.
func TrackTx(operation string) func() {
	start := time.Now()
	return func() {
		TxDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func Reject(operation, kind string) {
	if kind == "" {
		kind = "internal"
	}
	Rejections.WithLabelValues(operation, kind).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
