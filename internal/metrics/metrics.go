package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	slotFetch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yoyaku",
			Name:      "slot_fetch_total",
			Help:      "Count of slot list fetches by result.",
		},
		[]string{"result"},
	)

	bookingSubmit = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yoyaku",
			Name:      "booking_submit_total",
			Help:      "Count of booking submissions by outcome.",
		},
		[]string{"outcome"},
	)

	dayRequest = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yoyaku",
			Name:      "day_request_total",
			Help:      "Count of preferred-day requests by outcome.",
		},
		[]string{"outcome"},
	)

	staleResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "yoyaku",
			Name:      "stale_results_total",
			Help:      "Count of slot fetch results dropped because a newer fetch superseded them.",
		},
	)

	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yoyaku",
			Name:      "remote_request_duration_seconds",
			Help:      "Latency of requests to the deployment endpoint.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"mode"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(slotFetch, bookingSubmit, dayRequest, staleResults, remoteDuration)
	})
}

func IncSlotFetch(result string) {
	slotFetch.WithLabelValues(result).Inc()
}

func IncBookingSubmit(outcome string) {
	bookingSubmit.WithLabelValues(outcome).Inc()
}

func IncDayRequest(outcome string) {
	dayRequest.WithLabelValues(outcome).Inc()
}

func IncStaleResult() {
	staleResults.Inc()
}

func ObserveRemoteRequest(mode string, d time.Duration) {
	remoteDuration.WithLabelValues(mode).Observe(d.Seconds())
}
