package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/innovasure/settlement-orchestrator/internal/api/handler"
	"github.com/innovasure/settlement-orchestrator/internal/api/middleware"
	"github.com/innovasure/settlement-orchestrator/internal/api/spec"
	"github.com/innovasure/settlement-orchestrator/internal/config"
	"github.com/innovasure/settlement-orchestrator/internal/idempotency"
	"github.com/innovasure/settlement-orchestrator/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the application services the router exposes.
type Services struct {
	Settlements *service.SettlementService
	Dispatch    *service.DispatchService
	Status      *service.StatusService
	Manual      *service.ManualReconciliationService
	Ledger      *service.PayoutLedger
	Callbacks   *service.CallbackService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	db     handler.Pinger
	redis  redis.Cmdable
	idem   *idempotency.Store
	svc    Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable, idem *idempotency.Store, svc Services) *Router {
	return &Router{cfg: cfg, logger: logger, db: db, redis: redis, idem: idem, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	authHandler := handler.NewAuthHandler()
	callbackHandler := handler.NewCallbackHandler(api.svc.Callbacks)
	settlementHandler := handler.NewSettlementHandler(api.svc.Settlements, api.svc.Dispatch, api.svc.Status)
	payoutHandler := handler.NewPayoutHandler(api.svc.Dispatch, api.svc.Manual, api.svc.Ledger)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		if api.cfg.ProviderMode == config.ProviderModeMock {
			r.Post("/v1/auth/token", authHandler.Login)
		}
		r.Post("/callbacks/payouts", callbackHandler.HandlePayoutCallback)
		r.Post("/callbacks/mpesa/b2c/result", callbackHandler.HandleMpesaResult)
	})

	// Protected Routes
	r.Route("/settlements", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/", settlementHandler.List)
		r.Get("/{id}", settlementHandler.Get)
		r.Get("/{id}/payout-status", settlementHandler.PayoutStatus)
		r.Get("/{id}/payouts/details", settlementHandler.PayoutDetails)
		r.Get("/{id}/payouts/{payoutId}/audit", payoutHandler.History)
		r.Get("/{id}/export", settlementHandler.Export)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Use(middleware.IdempotencyMiddleware(api.idem, api.logger))

			r.Post("/generate", settlementHandler.Generate)
			r.Post("/{id}/process", settlementHandler.Process)
			r.Post("/{id}/payouts/commissions", settlementHandler.InitiateCommissions)
			r.Post("/{id}/payouts/{payoutId}/retry", payoutHandler.Retry)
			r.Post("/{id}/payouts/{payoutId}/manual", payoutHandler.RecordManual)
			r.Post("/{id}/payouts/{category:insurance|administrative}", settlementHandler.PayoutCategory)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "not-found", "route not found")
	})

	return r
}
