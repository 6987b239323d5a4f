package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vndarlan/chegou-autoads/internal/observability"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		// store-only routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Second))

			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.CreateRule)
			r.Delete("/rules/{id}", h.DeleteRule)
			r.Put("/rules/{id}/active", h.SetRuleActive)

			r.Get("/executions", h.ListExecutions)

			r.Get("/accounts", h.ListAccounts)
			r.Post("/accounts", h.CreateAccount)
			r.Get("/accounts/active", h.ActiveAccount)
			r.Delete("/accounts/{id}", h.DeleteAccount)
			r.Put("/accounts/{id}/active", h.SetActiveAccount)

			r.Get("/sweeps/last", h.LastSweepReport)
		})

		// routes that reach the ads platform
		r.Get("/accounts/{id}/campaigns", h.Campaigns)
		r.Get("/accounts/{id}/simulation", h.Simulate)
		r.Post("/accounts/{id}/campaigns/{campaignID}/rules/{ruleID}/run", h.RunRule)
		r.Post("/sweeps", h.Sweep)
	})
	return r
}
