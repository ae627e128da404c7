package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/transport/http/handlers"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         *usecase.AuthService
	Registration *usecase.RegistrationService
	Credentials  *usecase.CredentialService
	TwoFactor    *usecase.TwoFactorService
	RBAC         *usecase.RBACService
	Tokens       *usecase.TokenService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Registry    prometheus.Registerer
	Gatherer    prometheus.Gatherer
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// AdminRole names the role required for RBAC administration endpoints.
const AdminRole = "admin"

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.CORSAllowedOrigins))

	if metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: deps.Registry}); err != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	} else {
		r.Use(metrics.Handler())
	}

	authMiddleware := middleware.RequireAuth(deps.Services.Tokens)

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, deps.Services.Tokens,
			handlers.WithRegistrationService(deps.Services.Registration),
			handlers.WithAccessTokenTTL(int(deps.Config.JWT.AccessTokenTTL.Seconds())),
			handlers.WithDefaultRole(deps.Config.App.DefaultRole),
		)

		loginMiddlewares := buildLoginMiddlewares(deps)
		authHandler.RegisterRoutes(authGroup, loginMiddlewares...)

		passwordHandler := handlers.NewPasswordHandler(deps.Services.Credentials)
		passwordGroup := api.Group("/password")
		passwordHandler.RegisterRoutes(passwordGroup, authMiddleware)

		twoFactorHandler := handlers.NewTwoFactorHandler(deps.Services.TwoFactor)
		twoFactorGroup := api.Group("/2fa")
		twoFactorGroup.Use(authMiddleware)
		twoFactorHandler.RegisterRoutes(twoFactorGroup)

		tokenHandler := handlers.NewTokenHandler(deps.Services.Tokens)
		tokenGroup := api.Group("/tokens")
		tokenGroup.Use(authMiddleware)
		tokenHandler.RegisterRoutes(tokenGroup)

		if deps.Services.RBAC != nil {
			rolesGroup := api.Group("/roles")
			rolesGroup.Use(authMiddleware, middleware.RequireRole(AdminRole))
			roleHandler := handlers.NewRoleHandler(deps.Services.RBAC)
			roleHandler.RegisterRoutes(rolesGroup)
		}
	}

	return r
}

func buildLoginMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.MaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
