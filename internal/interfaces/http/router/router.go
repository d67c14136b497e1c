// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/interfaces/http/handler"
	"timeline-rag-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health    *handler.HealthHandler
	Documents *handler.DocumentHandler
	Timeline  *handler.TimelineHandler
	Query     *handler.QueryHandler
	Status    *handler.StatusHandler
}

// Router HTTP 路由器
type Router struct {
	engine  *gin.Engine
	cfg     *config.Config
	limiter middleware.RateLimiter
	keyFunc func(tenantID, endpoint string) string
}

// Option 路由器选项
type Option func(*Router)

// WithRateLimiter 启用按租户限流
func WithRateLimiter(limiter middleware.RateLimiter, keyFunc func(tenantID, endpoint string) string) Option {
	return func(r *Router) {
		r.limiter = limiter
		r.keyFunc = keyFunc
	}
}

// New 创建新的路由器
func New(cfg *config.Config, h *Handlers, opts ...Option) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{engine: gin.New(), cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}

	r.setupMiddleware()
	r.setupRoutes(h)
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置全局中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(r.cfg.Security.CORS))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics(r.metricsPath()))
	}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes(h *Handlers) {
	r.engine.GET("/health", h.Health.Health)
	r.engine.GET("/ready", h.Health.Ready)
	r.engine.GET("/live", h.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.metricsPath(), gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	v1.Use(middleware.Tenant(middleware.TenantConfig{
		HeaderName:      r.cfg.Security.Tenant.Header,
		DefaultTenantID: r.cfg.Security.Tenant.Default,
	}))
	if r.limiter != nil && r.keyFunc != nil {
		v1.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Enabled: r.cfg.Security.RateLimit.Enabled,
			Limit:   r.cfg.Security.RateLimit.RequestsPerMinute,
		}, r.limiter, r.keyFunc))
	}
	RegisterV1Routes(v1, h)
}

func (r *Router) metricsPath() string {
	if p := r.cfg.Observability.Metrics.Path; p != "" {
		return p
	}
	return "/metrics"
}
