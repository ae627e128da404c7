package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/database"
	kafkainfra "github.com/arklim/authcore/internal/infra/kafka"
	"github.com/arklim/authcore/internal/infra/logger"
	redisinfra "github.com/arklim/authcore/internal/infra/redis"
	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/infra/telemetry"
	postgresrepo "github.com/arklim/authcore/internal/repository/postgres"
	redisrepo "github.com/arklim/authcore/internal/repository/redis"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/transport/http/routes"
	"github.com/arklim/authcore/internal/usecase"
)

// Application owns the process-level dependencies and the HTTP server.
type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	events port.EventPublisher
}

// New wires configuration into infrastructure, repositories, services, and
// the HTTP engine. Nothing starts listening until Run.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	if err := security.ConfigurePBKDF2(security.PBKDF2Config{
		Iterations: cfg.Password.Iterations,
		SaltLength: cfg.Password.SaltLength,
		KeyLength:  cfg.Password.KeyLength,
	}); err != nil {
		return nil, fmt.Errorf("configure pbkdf2: %w", err)
	}

	tokenGenerator, err := security.NewTokenGenerator(
		[]byte(cfg.JWT.SigningKey), cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token generator: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), cfg.Redis.RateLimitPrefix)
	revocationStore := redisrepo.NewRevocationRepository(redisClient.Client(), cfg.Redis.RevocationPrefix)
	permissionCache := redisrepo.NewPermissionCacheRepository(redisClient.Client(), cfg.Redis.PermissionCachePrefix)

	repos := postgresrepo.NewRepositories(pool)

	var events port.EventPublisher
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			events = kafkainfra.NewStubPublisher(log)
		} else {
			events = producer
		}
	} else {
		log.Info("kafka disabled, using stub publisher")
		events = kafkainfra.NewStubPublisher(log)
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	hasher := security.Hasher{}
	policy := security.NewPasswordPolicy(security.PasswordPolicySettings{
		MinLength:        cfg.Password.MinLength,
		MaxLength:        cfg.Password.MaxLength,
		RequireUppercase: cfg.Password.RequireUppercase,
		RequireLowercase: cfg.Password.RequireLowercase,
		RequireDigit:     cfg.Password.RequireDigit,
		RequireSymbol:    cfg.Password.RequireSymbol,
		MaxRepeatedRun:   cfg.Password.MaxRepeatedRun,
		MinStrengthScore: cfg.Password.MinStrengthScore,
	})

	guard := usecase.NewLoginGuard(rateLimitStore, cfg.RateLimit, log)
	credentialService := usecase.NewCredentialService(
		repos.Users, repos.Tokens, revocationStore, hasher, policy, events, log)
	tokenService := usecase.NewTokenService(
		cfg.JWT, repos.Tokens, revocationStore, tokenGenerator, events, log)
	rbacService := usecase.NewRBACService(
		repos.Roles, repos.Permissions, permissionCache, events, log).
		WithCacheTTL(cfg.Redis.PermissionCacheTTL)
	twoFactorService := usecase.NewTwoFactorService(
		repos.Users, repos.RecoveryCodes, repos.Tokens, revocationStore, events, cfg.TwoFactor, log)
	registrationService := usecase.NewRegistrationService(
		repos.Users, rbacService, hasher, policy, log)
	authService := usecase.NewAuthService(
		cfg, repos.Users, guard, credentialService, twoFactorService, rbacService, tokenService, events, log).
		WithMetrics(metrics)

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Registry:    registry,
		Gatherer:    registry,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:         authService,
			Registration: registrationService,
			Credentials:  credentialService,
			TwoFactor:    twoFactorService,
			RBAC:         rbacService,
			Tokens:       tokenService,
		},
	})

	return &Application{
		cfg:    cfg,
		engine: engine,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		events: events,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if closer, ok := a.events.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
