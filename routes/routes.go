package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/autonomy-orchestrator/app"
	"github.com/upb/autonomy-orchestrator/handlers"
	authmw "github.com/upb/autonomy-orchestrator/middleware"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// SetupRoutes configures all operator API routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.DB, deps.Controls, deps.Logger)
	controls := handlers.NewControlsHandler(deps.Controls, deps.Logger)
	statusH := handlers.NewStatusHandler(deps.Status, deps.Repos.Ticks, deps.Logger)
	actions := handlers.NewActionHandler(deps.Queue, deps.Repos.ExecutionLogs, deps.Audit, deps.Logger)
	campaigns := handlers.NewCampaignHandler(deps.Orchestrator, deps.Repos.CampaignRuns, deps.Audit, deps.Logger)
	operator := handlers.NewOperatorHandler(deps.Ledger, deps.Audit, deps.Logger)

	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	auth := deps.AuthMiddleware
	operatorOnly := auth.RequireRole(authmw.RoleOperator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/status", statusH.HandleStatus)
		r.Get("/ticks", statusH.HandleListTicks)

		r.Route("/controls", func(r chi.Router) {
			r.Get("/", controls.HandleGet)
			r.Group(func(r chi.Router) {
				r.Use(operatorOnly)
				r.Post("/pause", controls.HandlePause)
				r.Post("/resume", controls.HandleResume)
				r.Post("/kill", controls.HandleKill)
				r.Post("/unkill", controls.HandleUnkill)
				r.Put("/proof-mode", controls.HandleProofMode)
			})
		})

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", actions.HandleList)
			r.Get("/{id}", actions.HandleGet)
			r.Get("/{id}/logs", actions.HandleLogs)
			r.With(operatorOnly).Post("/", actions.HandleEnqueue)
			r.With(operatorOnly).Post("/{id}/requeue", actions.HandleRequeue)
		})

		r.Route("/campaigns/{id}/runs", func(r chi.Router) {
			r.Get("/", campaigns.HandleListRuns)
			r.With(operatorOnly).Post("/", campaigns.HandleTriggerRun)
		})
		r.Get("/runs/{runID}", campaigns.HandleGetRun)

		r.Get("/proof/summary", operator.HandleProofSummary)
		r.With(operatorOnly).Get("/audit", operator.HandleListAudit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

// requestLogger logs one line per request through zap
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
