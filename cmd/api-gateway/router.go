package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/course-api/internal/handler"
	"github.com/noah-isme/course-api/internal/middleware"
	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/service"
	"github.com/noah-isme/course-api/pkg/config"
	"github.com/noah-isme/course-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-api/pkg/middleware/requestid"
)

type routerDeps struct {
	cfg     *config.Config
	logger  *zap.Logger
	gate    *service.Gate
	metrics *service.MetricsService
	audit   service.AuditRecorder

	auth    *handler.AuthHandler
	admin   *handler.AdminHandler
	observe *handler.MetricsHandler
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.logger, "/health", "/metrics"))
	r.Use(corsmiddleware.New(d.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", d.observe.Health)
	r.GET("/ready", d.observe.Ready)
	r.GET("/metrics", d.observe.Prometheus)

	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(d.cfg.APIPrefix)
	authenticated := middleware.Authenticate(d.gate)

	auth := api.Group("/auth")
	limiter := middleware.RateLimit(d.cfg.RateLimit, d.logger)
	auth.POST("/login", limiter, d.auth.Login)
	auth.POST("/refresh", limiter, d.auth.Refresh)
	auth.POST("/logout", d.auth.Logout)
	auth.POST("/logout-all", authenticated, d.auth.LogoutAll)
	auth.GET("/me", authenticated, d.auth.Me)
	auth.GET("/activity", authenticated, d.auth.Activity)

	admin := api.Group("/admin", authenticated, middleware.RequireAdmin())
	admin.Use(middleware.Audit(d.audit, d.logger, models.AuditActionAdminAccess, "admin"))
	admin.GET("/ping", d.admin.Ping)
	admin.GET("/stats", d.admin.Stats)

	return r
}
