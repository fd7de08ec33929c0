package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the reservation flow.
type BookingMetrics struct {
	outcomes       *prometheus.CounterVec
	claimLatency   prometheus.Histogram
	slotsCreated   prometheus.Counter
	driftRepaired  prometheus.Counter
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "outcomes_total",
			Help:      "Booking lifecycle results by final status",
		}, []string{"status"}),
		claimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "claim_duration_seconds",
			Help:      "Time spent resolving a booking request to a terminal status",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "slots",
			Name:      "created_total",
			Help:      "Appointment slots inserted",
		}),
		driftRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "slots",
			Name:      "drift_repaired_total",
			Help:      "Slots whose availability flag was repaired by the reconcile worker",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomes, m.claimLatency, m.slotsCreated, m.driftRepaired, m.requestsTotal, m.requestLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
	m.claimLatency.Observe(took.Seconds())
}

func (m *BookingMetrics) ObserveCancellation() {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues("CANCELLED").Inc()
}

func (m *BookingMetrics) AddSlotsCreated(n int) {
	if m == nil {
		return
	}
	m.slotsCreated.Add(float64(n))
}

func (m *BookingMetrics) AddDriftRepaired(n int) {
	if m == nil {
		return
	}
	m.driftRepaired.Add(float64(n))
}

func (m *BookingMetrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, statusLabel(code)).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
