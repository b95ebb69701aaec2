/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Actor:      X-User / X-Allow-Live-Manual-Lines into the request context

ROUTE GROUPS:
  /api/fiscal-years, /api/cost-centers, /api/vendors   Master data
  /api/contracts, /api/projects, /api/planned-items    Budget sources
  /api/budgets/*                                       Budget lifecycle
  /api/addenda/*, /api/actuals/*                       Cap inputs
  /api/caps, /api/summary                              Cap reads
  /api/refresh-queue, /api/verify                      Admin
  /api/scenarios/*                                     Demo scenarios

SECURITY NOTE:
  Authentication is the host's concern. X-User is trusted as given.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/budget-engine/budget"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User", "X-Allow-Live-Manual-Lines"},
		AllowCredentials: true,
	}))
	r.Use(actorMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Route("/fiscal-years", func(r chi.Router) {
			r.Get("/", h.ListFiscalYears)
			r.Put("/{name}", h.SaveFiscalYear)
		})

		r.Route("/cost-centers", func(r chi.Router) {
			r.Get("/", h.ListCostCenters)
			r.Put("/{name}", h.SaveCostCenter)
		})

		r.Put("/vendors/{name}", h.SaveVendor)

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Get("/{name}", h.GetContract)
			r.Put("/{name}", h.SaveContract)
			r.Delete("/{name}", h.DeleteContract)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Get("/{name}", h.GetProject)
			r.Put("/{name}", h.SaveProject)
		})

		r.Route("/planned-items", func(r chi.Router) {
			r.Get("/", h.ListPlannedItems)
			r.Get("/{name}", h.GetPlannedItem)
			r.Put("/{name}", h.SavePlannedItem)
			r.Delete("/{name}", h.DeletePlannedItem)
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.ListBudgets)
			r.Post("/live", h.CreateLiveBudget)
			r.Get("/{name}", h.GetBudget)
			r.Delete("/{name}", h.DeleteBudget)
			r.Get("/{name}/comments", h.ListBudgetComments)
			r.Post("/{name}/refresh", h.RefreshBudget)
			r.Post("/{name}/snapshot", h.CreateSnapshot)
			r.Post("/{name}/submit", h.SubmitBudget)
			r.Post("/{name}/activate", h.ActivateBudget)
			r.Put("/{name}/lines", h.SaveBudgetLines)
		})

		r.Route("/addenda", func(r chi.Router) {
			r.Get("/", h.ListAddenda)
			r.Post("/", h.CreateAddendum)
			r.Get("/{name}", h.GetAddendum)
			r.Delete("/{name}", h.DeleteAddendum)
			r.Post("/{name}/submit", h.SubmitAddendum)
			r.Post("/{name}/cancel", h.CancelAddendum)
		})

		r.Route("/actuals", func(r chi.Router) {
			r.Get("/", h.ListActuals)
			r.Post("/", h.RecordActual)
			r.Delete("/{name}", h.DeleteActual)
		})

		r.Get("/caps/{year}/{costCenter}", h.GetCap)
		r.Get("/summary/{year}/{costCenter}", h.GetSummary)

		r.Route("/refresh-queue", func(r chi.Router) {
			r.Get("/", h.QueueStats)
			r.Post("/", h.EnqueueRefresh)
		})
		r.Get("/verify", h.Verify)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// actorMiddleware stores the request actor for the engine's comments,
// events and state machine checks.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := budget.Actor{User: r.Header.Get("X-User")}
		if actor.User == "" {
			actor.User = "anonymous"
		}
		actor.AllowLiveManualLines, _ = strconv.ParseBool(r.Header.Get("X-Allow-Live-Manual-Lines"))
		next.ServeHTTP(w, r.WithContext(budget.WithActor(r.Context(), actor)))
	})
}
