package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/elixr-referral/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware реферального сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	// promhttp сжимает ответ сам.
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Get("/healthz", h.Health)

		r.With(
			custommiddleware.RateLimit(h.limiter, h.rate, h.burst, h.logger, h.metrics.RecordRateLimited),
		).Post("/api/referrals/validate", h.Validate)

		r.Route("/api/internal", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/referral-codes", h.ProvisionCode)

			r.Post("/referrals/attribute", h.Attribute)
			r.Post("/referrals/claims", h.Claim)

			r.Post("/rewards/{entryID}/reverse", h.Reverse)

			r.Get("/referrers/{userID}/rewards", h.GetRewards)
			r.Get("/referrers/{userID}/summary", h.GetSummary)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
