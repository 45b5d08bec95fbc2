/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for admin tooling

ROUTE GROUPS:
  /api/currencies/*     Currency administration
  /api/players/*        Player accounts and transactions
  /api/logs             Audit trail
  /api/scenarios/*      Demo data (only when Handler.Scenarios is set)
  /healthz              Liveness and store reachability
  /metrics              Prometheus scrape endpoint (when configured)

SECURITY NOTE:
  No authentication middleware. Deploy behind the game backend's gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. metrics may be
// nil, in which case /metrics is not mounted.
func NewRouter(h *Handler, origins []string, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		AllowCredentials: false,
	}))

	r.Get("/healthz", h.Healthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/currencies", func(r chi.Router) {
			r.Get("/", h.ListCurrencies)
			r.Post("/", h.CreateCurrency)
			r.Get("/{identifier}", h.GetCurrency)
			r.Patch("/{identifier}", h.EditCurrency)
			r.Delete("/{identifier}", h.DeleteCurrency)
		})

		r.Route("/players", func(r chi.Router) {
			r.Post("/", h.RegisterPlayer)
			r.Delete("/{id}", h.RemovePlayer)
			r.Get("/{id}/accounts", h.ListAccounts)
			r.Get("/{id}/balances/{currency}", h.GetBalance)
			r.Post("/{id}/deposit", h.Deposit)
			r.Post("/{id}/withdraw", h.Withdraw)
		})

		r.Get("/logs", h.ListLogs)

		if h.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
