package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-api/api/swagger"
	"github.com/noah-isme/course-api/internal/handler"
	"github.com/noah-isme/course-api/internal/repository"
	"github.com/noah-isme/course-api/internal/service"
	"github.com/noah-isme/course-api/pkg/cache"
	"github.com/noah-isme/course-api/pkg/config"
	"github.com/noah-isme/course-api/pkg/database"
	"github.com/noah-isme/course-api/pkg/jobs"
	"github.com/noah-isme/course-api/pkg/logger"
)

// @title Course API
// @version 1.0.0
// @description Token issuance, rotation and authorization
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	readiness := []handler.ReadinessCheck{
		{Name: "postgres", Check: db.PingContext},
		{Name: "migrations", Check: func(ctx context.Context) error {
			_, err := database.MigrationVersion(ctx, db.DB)
			return err
		}},
	}

	var shared service.SharedBlacklist
	if cfg.Token.SharedBlacklist {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		blacklistRepo := repository.NewBlacklistRepository(client, cfg.Token.BlacklistKeyBase)
		defer blacklistRepo.Close() //nolint:errcheck
		shared = blacklistRepo
		readiness = append(readiness, handler.ReadinessCheck{Name: "redis", Check: blacklistRepo.Ping})
	}

	accessExpiry := cfg.Token.EffectiveAccessExpiry(cfg.Env)
	factory, err := service.NewTokenFactory(service.TokenFactoryConfig{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: cfg.Token.RefreshExpiry,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		logr.Fatal("invalid token configuration", zap.Error(err))
	}
	// Access tokens are never re-checked against the database, so privilege changes take
	// effect only once outstanding access tokens expire.
	logr.Info("token factory ready",
		zap.Duration("access_expiry", factory.AccessExpiry()),
		zap.Duration("refresh_expiry", factory.RefreshExpiry()),
		zap.Duration("is_admin_staleness_bound", factory.AccessExpiry()),
		zap.Bool("shared_blacklist", shared != nil),
	)

	blacklist := service.NewBlacklist(service.NewLocalBlacklist(), shared, metricsSvc, logr)

	auditSvc := service.NewAuditService(auditRepo, logr, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		Logger:     logr,
	})
	// Outlives the signal context so requests drained by srv.Shutdown still reach the queue.
	auditSvc.Start(context.Background())

	authSvc := service.NewAuthService(userRepo, refreshRepo, factory, blacklist, auditSvc, validate, metricsSvc, logr, service.AuthConfig{
		RevokeFamilyOnReuse: cfg.Token.RevokeOnReuse,
	})
	gate := service.NewGate(factory, blacklist, metricsSvc, logr)

	if cfg.Bootstrap.AdminEmail != "" {
		userSvc := service.NewUserService(userRepo, validate, logr)
		if _, err := userSvc.EnsureAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
			logr.Fatal("failed to bootstrap administrator", zap.Error(err))
		}
	}

	var housekeeping *service.HousekeepingService
	if cfg.Housekeeping.Enabled {
		housekeeping = service.NewHousekeepingService(refreshRepo, blacklist.Local(), metricsSvc, logr, cfg.Housekeeping.Interval, cfg.Housekeeping.Retention)
		housekeeping.Start(ctx)
	}

	r := newRouter(routerDeps{
		cfg:     cfg,
		logger:  logr,
		gate:    gate,
		metrics: metricsSvc,
		audit:   auditSvc,
		auth:    handler.NewAuthHandler(authSvc, auditRepo),
		admin:   handler.NewAdminHandler(metricsSvc),
		observe: handler.NewMetricsHandler(metricsSvc, readiness...),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if housekeeping != nil {
		housekeeping.Stop()
	}
	auditSvc.Stop()
}
