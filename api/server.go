/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Access log
  3. requestLogger: logrus entry with the request ID, stored in the context
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the admin UI

ROUTE GROUPS:
  /api/companies/*       Companies
  /api/points-of-sale/*  Points of sale, their methods and companies
  /api/payment-methods/* Payment methods
  /api/users             Users (timezone)
  /api/rules/*           Routing rules, totals, preview
  /api/orders/*          Order intake, listing, voiding
  /api/scenarios/*       Demo scenarios
  /healthz               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/companies", func(r chi.Router) {
			r.Get("/", h.ListCompanies)
			r.Post("/", h.CreateCompany)
		})

		r.Route("/points-of-sale", func(r chi.Router) {
			r.Get("/", h.ListPointsOfSale)
			r.Post("/", h.CreatePointOfSale)
			r.Get("/{id}", h.GetPointOfSale)
			r.Post("/{id}/payment-methods", h.AttachPaymentMethod)
			r.Get("/{id}/companies", h.ListPointOfSaleCompanies)
		})

		r.Route("/payment-methods", func(r chi.Router) {
			r.Get("/", h.ListPaymentMethods)
			r.Post("/", h.CreatePaymentMethod)
		})

		r.Post("/users", h.CreateUser)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Post("/{id}/archive", h.ArchiveRule)
			r.Get("/{id}/totals", h.GetRuleTotals)
			r.Post("/{id}/preview", h.PreviewRule)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Post("/{id}/void", h.VoidOrder)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// =============================================================================
// REQUEST LOGGER
// =============================================================================

type loggerKey struct{}

// requestLogger stores a logrus entry tagged with the request ID.
func requestLogger(base logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := base.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey{}, entry)))
		})
	}
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	entry, _ := ctx.Value(loggerKey{}).(*logrus.Entry)
	return entry
}
