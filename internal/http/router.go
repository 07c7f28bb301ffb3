package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"github.com/robertarktes/seatmap-booking/internal/rateLimit"
)

type RouterOptions struct {
	JWTSecret string
	// RateLimiter may be nil to disable limiting.
	RateLimiter *rateLimit.RateLimiter
	RateRule    rateLimit.Rule
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(opts.JWTSecret))
		r.Use(RateLimitMiddleware(opts.RateLimiter, opts.RateRule))

		r.Post("/v1/sessions", h.OpenSession)
		r.Route("/v1/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)
			r.Post("/seats/{seatId}/toggle", h.ToggleSeat)
			r.Delete("/seats", h.ResetSelection)
			r.Post("/quote", h.Quote)
			r.With(RequireIdempotencyKey).Post("/bookings", h.SubmitBooking)
			r.Delete("/bookings/{bookingId}", h.CancelBooking)
			r.Post("/refresh", h.Refresh)
		})
		r.Get("/v1/bookings/{bookingId}", h.GetBooking)
		r.Get("/v1/reports/revenue", h.RevenueReport)
		r.Get("/v1/reports/audit", h.AuditTrail)
	})

	return r
}
