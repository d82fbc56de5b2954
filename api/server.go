/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. AccessLog:  Request logging through zap
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/employees/*    Directory, balances, loans, adjustments, attendance
  /api/requests/*     Approval requests
  /api/delegations/*  Delegation windows
  /api/settings       Versioned approval settings
  /api/escalations/*  Manual escalation sweep
  /api/adjustments/*  Adjustment lifecycle
  /api/payroll/*      Payroll months
  /api/audit          Audit trail
  /api/scenarios/*    Seed data (development)

SECURITY NOTE:
  No authentication middleware. The X-Actor-ID header is trusted as is;
  deploy behind a gateway that sets it.

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
	"go.uber.org/zap"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(AccessLog(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/managers", h.GetManagers)
			r.Get("/{id}/balance", h.GetBalance)
			r.Put("/{id}/balance", h.SetBalance)
			r.Get("/{id}/requests", h.ListEmployeeRequests)
			r.Get("/{id}/loans", h.ListLoans)
			r.Get("/{id}/adjustments", h.ListAdjustments)
			r.Post("/{id}/adjustments", h.CreateAdjustment)
			r.Put("/{id}/attendance/{month}", h.SetAttendance)
		})

		// Request routes
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/escalated", h.ListEscalated)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/override", h.OverrideRequest)
			r.Delete("/{id}", h.DeleteRequest)
		})

		// Delegation routes
		r.Route("/delegations", func(r chi.Router) {
			r.Get("/", h.ListDelegations)
			r.Post("/", h.CreateDelegation)
			r.Get("/resolve", h.ResolveDelegation)
			r.Post("/{id}/end", h.EndDelegation)
		})

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Post("/escalations/scan", h.ScanEscalations)
		r.Post("/adjustments/{id}/stop", h.StopAdjustment)

		// Payroll routes
		r.Route("/payroll", func(r chi.Router) {
			r.Get("/", h.ListPayrollMonths)
			r.Get("/{month}", h.GetPayroll)
			r.Post("/{month}/generate", h.GeneratePayroll)
			r.Post("/{month}/finalize", h.FinalizePayroll)
			r.Post("/{month}/lock", h.LockPayroll)
			r.Post("/{month}/reopen", h.ReopenPayroll)
		})

		r.Get("/audit", h.QueryAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// AccessLog logs one line per request through zap.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("actor_id", r.Header.Get(ActorHeader)),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
