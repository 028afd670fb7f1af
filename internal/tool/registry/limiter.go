package registry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig 单个工具的限流配置
type LimitConfig struct {
	QPS           float64 // 每秒请求数，<=0 不限
	MaxConcurrent int     // 最大并发数，<=0 不限
	Burst         int     // 令牌桶容量，默认取 QPS
}

// Limiter 工具维度的限流器：QPS + 并发
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*toolLimiter
	configs  map[string]LimitConfig
	defaults LimitConfig
}

type toolLimiter struct {
	rate      *rate.Limiter
	semaphore chan struct{}
}

// NewLimiter 创建 Limiter；未单独配置的工具使用 defaults
func NewLimiter(configs map[string]LimitConfig, defaults LimitConfig) *Limiter {
	return &Limiter{
		limiters: make(map[string]*toolLimiter),
		configs:  configs,
		defaults: defaults,
	}
}

func (l *Limiter) get(name string) *toolLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tl, ok := l.limiters[name]; ok {
		return tl
	}
	cfg, ok := l.configs[name]
	if !ok {
		cfg = l.defaults
	}
	tl := &toolLimiter{}
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.QPS)
		}
		if burst < 1 {
			burst = 1
		}
		tl.rate = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	if cfg.MaxConcurrent > 0 {
		tl.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	l.limiters[name] = tl
	return tl
}

// Acquire 等待执行许可，返回的 release 必须调用
func (l *Limiter) Acquire(ctx context.Context, name string) (release func(), err error) {
	tl := l.get(name)
	if tl.rate != nil {
		if err := tl.rate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("tool %s rate limit wait: %w", name, err)
		}
	}
	if tl.semaphore == nil {
		return func() {}, nil
	}
	select {
	case tl.semaphore <- struct{}{}:
		return func() { <-tl.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
