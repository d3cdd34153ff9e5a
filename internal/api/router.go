package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ikwen/paygate/internal/api/handler"
	"github.com/ikwen/paygate/internal/api/middleware"
	"github.com/ikwen/paygate/internal/api/spec"
	"github.com/ikwen/paygate/internal/config"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/idempotency"
	"github.com/ikwen/paygate/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the application services exposed over HTTP.
type Services struct {
	Payments   *service.PaymentService
	Callbacks  *service.CallbackService
	Deliveries *service.DeliveryService
	CashOuts   *service.CashOutService
	Tenants    *service.TenantService
	Operators  *service.OperatorService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    Services
	idem   *idempotency.Store
	health *handler.HealthHandler
}

func NewRouter(cfg *config.Config, logger *zap.Logger, svc Services, idem *idempotency.Store, health *handler.HealthHandler) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if health == nil {
		health = handler.NewHealthHandler(nil, nil, nil)
	}
	return &Router{cfg: cfg, logger: logger, svc: svc, idem: idem, health: health}
}

func (api *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	authHandler := handler.NewAuthHandler(api.svc.Operators)
	callbackHandler := handler.NewCallbackHandler(api.svc.Callbacks)
	paymentHandler := handler.NewPaymentHandler(api.svc.Payments, api.svc.Callbacks)
	cashOutHandler := handler.NewCashOutHandler(api.svc.CashOuts)
	tenantHandler := handler.NewTenantHandler(api.svc.Tenants)
	operatorHandler := handler.NewOperatorHandler(api.svc.Operators)
	deliveryHandler := handler.NewDeliveryHandler(api.svc.Deliveries)

	r.Get("/healthz", api.health.Live)
	r.Get("/readyz", api.health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Get("/v1/callbacks/{provider}/{transactionID}", callbackHandler.Handle)
		r.Post("/v1/callbacks/{provider}/{transactionID}", callbackHandler.Handle)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		idem := middleware.IdempotencyMiddleware(api.idem, api.logger)
		anyOperator := middleware.RequireRole(domain.RoleIAO, domain.RoleAdmin)
		tenantOnly := middleware.RequireRole(domain.RoleIAO)

		r.With(tenantOnly, idem).Post("/v1/charges", paymentHandler.CreateCharge)
		r.With(anyOperator).Get("/v1/transactions", paymentHandler.ListTransactions)
		r.With(anyOperator).Get("/v1/transactions/{id}", paymentHandler.GetTransaction)

		r.With(anyOperator).Get("/v1/wallets", cashOutHandler.ListWallets)
		r.With(tenantOnly, idem).Post("/v1/cashouts", cashOutHandler.CreateCashOut)
		r.With(anyOperator).Get("/v1/cashouts", cashOutHandler.ListCashOuts)
		r.With(anyOperator).Get("/v1/cashouts/{id}", cashOutHandler.GetCashOut)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))

			r.Post("/v1/tenants", tenantHandler.CreateTenant)
			r.Get("/v1/tenants", tenantHandler.ListTenants)
			r.Get("/v1/tenants/{id}", tenantHandler.GetTenant)
			r.Patch("/v1/tenants/{id}", tenantHandler.UpdateTenant)

			r.Post("/v1/operators", operatorHandler.CreateOperator)

			r.With(idem).Post("/v1/cashouts/{id}/pay", cashOutHandler.MarkPaid)
			r.Get("/v1/transactions/{id}/callbacks", paymentHandler.ListCallbacks)

			r.Get("/v1/deliveries/failed", deliveryHandler.ListFailed)
			r.Post("/v1/deliveries/{id}/retry", deliveryHandler.Retry)
		})
	})

	return r
}
