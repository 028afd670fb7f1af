package http

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"hitl-agent/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwt        *jwt.HertzJWTMiddleware
	rps        int
	extra      []app.HandlerFunc
}

// NewRouter 创建 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetJWT 启用 /agent 与 /system 路由的 JWT 认证
func (r *Router) SetJWT(j *jwt.HertzJWTMiddleware) { r.jwt = j }

// SetRateLimit 设置全局限流，rps<=0 关闭
func (r *Router) SetRateLimit(rps int) { r.rps = rps }

// Use 追加全局中间件（如链路追踪），须在 Build 之前调用
func (r *Router) Use(mw ...app.HandlerFunc) { r.extra = append(r.extra, mw...) }

// Build 创建 Hertz 服务并注册全部路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	all := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(all...)
	h.Use(r.extra...)
	h.Use(r.middleware.AccessLog(), r.middleware.CORS())

	h.GET("/api/health", r.handler.HealthCheck)
	h.GET("/metrics", r.handler.Metrics)

	// /system/info 列出全部用户的会话，启用认证时同样需要 token
	system := h.Group("/system")
	agent := h.Group("/agent", r.middleware.RateLimit(r.rps))
	if r.jwt != nil {
		h.GET("/auth/refresh_token", r.jwt.RefreshHandler)
		system.Use(r.jwt.MiddlewareFunc())
		agent.Use(r.jwt.MiddlewareFunc())
	}
	system.GET("/info", r.handler.SystemInfo)
	{
		agent.POST("/invoke", r.handler.Invoke)
		agent.POST("/resume", r.handler.Resume)
		agent.GET("/status/:user_id/:session_id", r.handler.Status)
		agent.GET("/sessionids/:user_id", r.handler.ListSessions)
		agent.GET("/active/sessionid/:user_id", r.handler.ActiveSession)
		agent.DELETE("/session/:user_id/:session_id", r.handler.DeleteSession)
		agent.POST("/write/longterm", r.handler.WriteMemory)
	}
	return h
}
