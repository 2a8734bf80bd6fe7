/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request logging (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the desk frontend

ROUTE GROUPS:
  /api/counterparties/*  Suppliers and buyers
  /api/advances/*        Cash advances
  /api/transactions/*    Buy/sell ledger
  /api/inventory/*       Batches and vault summary
  /api/prices/*          Spot price series
  /api/dashboard         Headline figures
  /api/audit             Invariant check
  /api/scenarios/*       Demo scenarios
  /api/reset             Database reset (dev only)

SECURITY NOTE:
  No authentication middleware. Authentication is handled in front of the
  service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/counterparties", func(r chi.Router) {
			r.Get("/", h.ListCounterparties)
			r.Post("/", h.CreateCounterparty)
			r.Get("/{id}", h.GetCounterparty)
			r.Put("/{id}", h.UpdateCounterparty)
			r.Post("/{id}/deactivate", h.DeactivateCounterparty)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetCounterpartyTransactions)
			r.Get("/{id}/advances", h.GetCounterpartyAdvances)
			r.Get("/{id}/advances/outstanding", h.GetOutstandingAdvances)
		})

		r.Route("/advances", func(r chi.Router) {
			r.Get("/", h.ListAdvances)
			r.Post("/", h.IssueAdvance)
			r.Get("/{id}", h.GetAdvance)
			r.Post("/{id}/settle", h.SettleAdvance)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/buy", h.RecordBuy)
			r.Post("/sell", h.RecordSell)
			r.Get("/receipt/{number}", h.GetTransactionByReceipt)
			r.Get("/{id}", h.GetTransaction)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/summary", h.GetVaultSummary)
			r.Get("/batches", h.ListBatches)
			r.Post("/batches", h.CreateBatch)
			r.Get("/batches/{id}", h.GetBatch)
			r.Post("/batches/{id}/move", h.MoveBatch)
		})

		r.Route("/prices", func(r chi.Router) {
			r.Post("/", h.RecordPrice)
			r.Get("/latest", h.GetLatestPrice)
			r.Get("/at", h.GetPriceAt)
			r.Get("/history", h.GetPriceHistory)
		})

		r.Get("/dashboard", h.GetDashboard)
		r.Get("/audit", h.RunAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		// Reset
		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// RequestLogger logs one line per request with the chi request id.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				ev := log.Info()
				if status >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
