package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"

	"hitl-agent/pkg/config"
)

// Middleware 中间件管理器
type Middleware struct {
	cors         bool
	allowOrigins []string
}

// NewMiddleware 创建中间件管理器；cors 为 nil 时允许任意来源
func NewMiddleware(cors *config.CORSConfig) *Middleware {
	m := &Middleware{cors: true}
	if cors != nil {
		m.cors = cors.Enable
		m.allowOrigins = cors.AllowOrigins
	}
	return m
}

func (m *Middleware) originAllowed(origin string) bool {
	if len(m.allowOrigins) == 0 {
		return true
	}
	for _, o := range m.allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// CORS 跨域中间件
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if !m.cors {
			c.Next(ctx)
			return
		}
		origin := string(c.GetHeader("Origin"))
		if origin != "" && m.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
			c.Header("Access-Control-Expose-Headers", "Content-Length")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// RateLimit 全局令牌桶限流，rps<=0 时不限流
func (m *Middleware) RateLimit(rps int) app.HandlerFunc {
	if rps <= 0 {
		return func(ctx context.Context, c *app.RequestContext) { c.Next(ctx) }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), rps)
	return func(ctx context.Context, c *app.RequestContext) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]any{
				"error": map[string]string{"code": "RATE_LIMITED", "message": "请求过于频繁，请稍后再试"},
			})
			return
		}
		c.Next(ctx)
	}
}

// AccessLog 访问日志，经 hlog 输出
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s status=%d latency=%s ip=%s",
			c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start), c.ClientIP())
	}
}
