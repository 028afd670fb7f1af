// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig LLM Provider 限流配置
type LimitConfig struct {
	RequestsPerMinute float64
	MaxConcurrent     int
}

// RateLimiter LLM Provider 维度的限流器：RPM + 并发控制
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*providerLimiter
	defaults LimitConfig
}

type providerLimiter struct {
	requests  *rate.Limiter
	semaphore chan struct{}
}

// NewRateLimiter 创建 LLM 限流器；未配置的 provider 使用 defaults
func NewRateLimiter(configs map[string]LimitConfig, defaults LimitConfig) *RateLimiter {
	l := &RateLimiter{
		limiters: make(map[string]*providerLimiter),
		defaults: defaults,
	}
	for provider, c := range configs {
		l.limiters[provider] = newProviderLimiter(c)
	}
	return l
}

func newProviderLimiter(c LimitConfig) *providerLimiter {
	pl := &providerLimiter{}
	if c.RequestsPerMinute > 0 {
		// burst = 2 秒的配额
		burst := int(c.RequestsPerMinute / 60.0 * 2)
		if burst < 1 {
			burst = 1
		}
		pl.requests = rate.NewLimiter(rate.Limit(c.RequestsPerMinute/60.0), burst)
	}
	if c.MaxConcurrent > 0 {
		pl.semaphore = make(chan struct{}, c.MaxConcurrent)
	}
	return pl
}

func (l *RateLimiter) get(provider string) *providerLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.limiters[provider]
	if !ok {
		pl = newProviderLimiter(l.defaults)
		l.limiters[provider] = pl
	}
	return pl
}

// Acquire 阻塞直到获得执行许可；返回的 release 必须调用
func (l *RateLimiter) Acquire(ctx context.Context, provider string) (func(), error) {
	pl := l.get(provider)
	if pl.requests != nil {
		if err := pl.requests.Wait(ctx); err != nil {
			return nil, fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}
	if pl.semaphore == nil {
		return func() {}, nil
	}
	select {
	case pl.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-pl.semaphore })
	}, nil
}

// InFlight 当前并发中的请求数
func (l *RateLimiter) InFlight(provider string) int {
	pl := l.get(provider)
	if pl.semaphore == nil {
		return 0
	}
	return len(pl.semaphore)
}
