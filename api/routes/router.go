package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/partnerhubhq/partnerhub-backend/api/controllers"
	"github.com/partnerhubhq/partnerhub-backend/api/middleware"
	"github.com/partnerhubhq/partnerhub-backend/internal/approvals"
	pkgauth "github.com/partnerhubhq/partnerhub-backend/pkg/auth"
	"github.com/partnerhubhq/partnerhub-backend/pkg/config"
	"github.com/partnerhubhq/partnerhub-backend/pkg/db"
	"github.com/partnerhubhq/partnerhub-backend/pkg/idempotency"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
	"github.com/partnerhubhq/partnerhub-backend/pkg/outbox"
	"github.com/partnerhubhq/partnerhub-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	approvalsService *approvals.Service,
	idempotencyService *idempotency.Service,
	outboxStore *outbox.Store,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/{approvalId}/decision", controllers.ApprovalDecide(approvalsService, idempotencyService, logg))
			r.Post("/decisions", controllers.ApprovalBulkDecide(approvalsService, idempotencyService, logg))
		})

		r.Route("/outbox", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(pkgauth.RoleOperator), logg))
			r.Get("/dead", controllers.OutboxListDead(outboxStore, logg))
			r.Post("/dead/{outboxId}/reprocess", controllers.OutboxReprocess(outboxStore, logg))
		})
	})

	return r
}
