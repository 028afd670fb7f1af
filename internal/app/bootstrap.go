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

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hitl-agent/internal/runtime/session"
	"hitl-agent/pkg/config"
	"hitl-agent/pkg/log"
	"hitl-agent/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内写装配逻辑
type Bootstrap struct {
	Config       *config.Config
	Logger       *log.Logger
	Secrets      secrets.Store
	SessionStore session.Store
	SessionTTL   time.Duration

	closers []func()
}

// NewBootstrap 根据配置创建 Bootstrap（日志、密钥、会话存储）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志failed: %w", err)
	}
	b := &Bootstrap{
		Config:     cfg,
		Logger:     logger,
		SessionTTL: config.ParseDuration(cfg.Storage.Session.TTL, config.DefaultSessionTTL),
	}
	b.closers = append(b.closers, func() { _ = logger.Close() })

	b.Secrets, err = secrets.NewStore(secrets.Config{Provider: cfg.Secrets.Provider, Config: cfg.Secrets.Config})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化密钥存储failed: %w", err)
	}
	if err := b.resolveSecrets(ctx); err != nil {
		b.Close()
		return nil, err
	}

	b.SessionStore, err = b.newSessionStore(ctx)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化会话存储failed: %w", err)
	}
	return b, nil
}

// resolveSecrets 将 secret:// 引用替换为真实值
func (b *Bootstrap) resolveSecrets(ctx context.Context) error {
	cfg := b.Config
	targets := []*string{
		&cfg.Storage.Session.Password,
		&cfg.Storage.Memory.DSN,
		&cfg.API.Middleware.JWTKey,
	}
	for name, pc := range cfg.Model.LLM.Providers {
		v, err := secrets.Resolve(ctx, b.Secrets, pc.APIKey)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", name, err)
		}
		pc.APIKey = v
		cfg.Model.LLM.Providers[name] = pc
	}
	for _, t := range targets {
		v, err := secrets.Resolve(ctx, b.Secrets, *t)
		if err != nil {
			return err
		}
		*t = v
	}
	return nil
}

func (b *Bootstrap) newSessionStore(ctx context.Context) (session.Store, error) {
	sc := b.Config.Storage.Session
	switch sc.Type {
	case "", "memory":
		b.Logger.Info("会话存储使用内存实现")
		return session.NewMemoryStore(b.SessionTTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        sc.Addr,
			Password:    sc.Password,
			DB:          sc.DB,
			DialTimeout: config.ParseDuration(sc.DialTimeout, 5*time.Second),
			ReadTimeout: config.ParseDuration(sc.ReadTimeout, 3*time.Second),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", sc.Addr, err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.Logger.Info("会话存储使用 Redis", "addr", sc.Addr, "key_prefix", sc.KeyPrefix)
		return session.NewRedisStore(client, session.RedisConfig{
			KeyPrefix:      sc.KeyPrefix,
			DefaultTTL:     b.SessionTTL,
			IndexRetention: config.ParseDuration(sc.IndexRetention, config.DefaultIndexRetention),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported session store type %q", sc.Type)
	}
}

// OnClose 注册关闭回调，Close 时按注册逆序执行
func (b *Bootstrap) OnClose(fn func()) { b.closers = append(b.closers, fn) }

// Close 释放外部连接
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
