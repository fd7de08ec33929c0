package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/metrics"
)

type RouterConfig struct {
	Service      *appointment.Service
	Logger       *zap.Logger
	Metrics      *metrics.BookingMetrics
	Gatherer     prometheus.Gatherer // nil disables /metrics
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	svc := cfg.Service
	r.Route("/api", func(r chi.Router) {
		r.Route("/doctors", func(r chi.Router) {
			r.Get("/", listDoctorsHandler(svc))
			r.Post("/", createDoctorHandler(svc))
			r.Get("/{id}", getDoctorHandler(svc))
			r.Put("/{id}", updateDoctorHandler(svc))
			r.Delete("/{id}", deleteDoctorHandler(svc))
		})

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", listSlotsHandler(svc))
			r.Post("/", createSlotHandler(svc))
			r.Post("/bulk", createBulkSlotsHandler(svc))
			r.Get("/{id}", getSlotHandler(svc))
			r.Delete("/{id}", deleteSlotHandler(svc))
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", listBookingsHandler(svc))
			r.Post("/", createBookingHandler(svc))
			r.Get("/stats", bookingStatsHandler(svc))
			r.Get("/{id}", getBookingHandler(svc))
			r.Put("/{id}/cancel", cancelBookingHandler(svc))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})

	return r
}
