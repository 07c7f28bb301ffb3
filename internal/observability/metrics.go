package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatmap_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"route", "code", "method"},
	)

	BookingSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatmap_booking_submissions_total",
			Help: "Booking submissions by outcome",
		},
		[]string{"outcome"},
	)

	Cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatmap_cancellations_total",
			Help: "Booking cancellations by outcome",
		},
		[]string{"outcome"},
	)

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seatmap_remote_call_seconds",
			Help:    "Duration of booking API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seatmap_db_tx_seconds",
			Help:    "Duration of mirror DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seatmap_outbox_lag_seconds",
			Help: "Age of the oldest outbox record at publish time",
		},
	)

	RabbitPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatmap_rabbit_publish_failures_total",
			Help: "Total failed rabbit publishes",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatmap_rate_limit_exceeded_total",
			Help: "Total rate limit rejections",
		},
	)

	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seatmap_live_sessions",
			Help: "Seat map sessions currently held by the gateway",
		},
	)
)
