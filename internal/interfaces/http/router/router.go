// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"study-forge-api/internal/config"
	"study-forge-api/internal/interfaces/http/handler"
	"study-forge-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health  *handler.HealthHandler
	Session *handler.SessionHandler
	Admin   *handler.AdminHandler
	// Limiter 提交限流器，为空时不限流
	Limiter middleware.RateLimiter
}

// Router HTTP 路由器
type Router struct {
	engine *gin.Engine
	cfg    *config.Config
}

// New 创建路由器
func New(cfg *config.Config, h Handlers) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine: gin.New(),
		cfg:    cfg,
	}
	r.setupMiddleware()
	r.setupRoutes(h)
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
	}
	r.engine.Use(middleware.TraceContext())

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

func (r *Router) setupRoutes(h Handlers) {
	r.engine.GET("/health", h.Health.Health)
	r.engine.GET("/ready", h.Health.Ready)
	r.engine.GET("/live", h.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")

	sessions := v1.Group("/sessions/:sid")
	sessions.Use(middleware.Auth(middleware.AuthConfig{
		Required: r.cfg.Security.Auth.Required,
		Secret:   r.cfg.Security.Auth.JWTSecret,
		Issuer:   r.cfg.Security.Auth.Issuer,
	}))
	{
		sessions.POST("/submit",
			middleware.RateLimit(middleware.RateLimitConfig{
				Enabled: r.cfg.Security.RateLimit.Enabled,
				Limit:   r.cfg.Security.RateLimit.SubmitsPerMinute,
				Scope:   "submit",
			}, h.Limiter),
			h.Session.Submit)
		sessions.GET("/status", h.Session.Status)
		sessions.GET("/error", h.Session.Error)
		sessions.GET("/results", h.Session.Results)
	}

	admin := v1.Group("/admin", middleware.AdminKey(r.cfg.Security.AdminKey))
	{
		admin.DELETE("/cache", h.Admin.ClearCache)
		admin.GET("/credits/:uid", h.Admin.GetCredits)
		admin.POST("/credits/:uid", h.Admin.GrantCredits)
	}
}
