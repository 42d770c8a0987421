package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_total",
		Help: "Total reservation attempts by outcome status",
	}, []string{"channel", "status"})

	ReservationsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_cancelled_total",
		Help: "Total cancelled reservations",
	}, []string{"channel"})

	ReservationsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_confirmed_total",
		Help: "Total confirmed reservations",
	}, []string{"channel"})

	ReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of the atomic reserve operation",
		Buckets: prometheus.DefBuckets,
	})

	CapBreachesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_cap_breaches_total",
		Help: "Total flash-sale reservations rejected by the per-user cap",
	})

	WarmupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_cache_warmups_total",
		Help: "Total cache warm-up operations",
	}, []string{"channel", "trigger"})

	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_lock_timeouts_total",
		Help: "Total stampede-guard acquisitions that timed out",
	})

	PersisterJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_persister_jobs_total",
		Help: "Total write-behind jobs accepted",
	}, []string{"channel"})

	PersisterDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_persister_dropped_total",
		Help: "Total write-behind jobs dropped because the queue was full",
	})

	PersisterFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_persister_failed_total",
		Help: "Total write-behind jobs that failed to apply",
	})

	ActiveReservations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stock_active_reservations",
		Help: "Reservation records currently alive in the cache",
	})

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
