package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"hitl-agent/internal/agent/memory"
	"hitl-agent/internal/agent/orchestrator"
	"hitl-agent/internal/agent/review"
	"hitl-agent/internal/agent/turn"
	"hitl-agent/internal/runtime/session"
	"hitl-agent/internal/tool/builtin"
	"hitl-agent/internal/tool/registry"
	"hitl-agent/pkg/config"
)

// NewService 装配编排服务：长期记忆、工具、模型、审核策略
func NewService(ctx context.Context, b *Bootstrap) (*orchestrator.Service, error) {
	cfg := b.Config

	mem, err := b.newMemoryStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化长期记忆存储failed: %w", err)
	}

	tools, err := NewToolRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	model, err := NewTurnModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化模型failed: %w", err)
	}
	b.Logger.Info("模型已就绪", "model", model.Name())

	policy, err := NewReviewPolicy(cfg.Agent.Review)
	if err != nil {
		return nil, fmt.Errorf("审核策略配置错误: %w", err)
	}

	system, err := systemMessage(cfg.Agent)
	if err != nil {
		return nil, err
	}

	executor := turn.NewExecutor(model, tools,
		turn.WithTimeout(config.ParseDuration(cfg.Agent.ModelTimeout, config.DefaultModelTimeout)),
		turn.WithHistoryLimit(cfg.Agent.HistoryLimit),
	)
	sessions := session.NewManager(b.SessionStore, b.SessionTTL)
	return orchestrator.New(sessions, mem, executor, review.NewGate(policy), tools, orchestrator.Config{
		MaxTurns:      cfg.Agent.MaxTurns,
		RunLease:      config.ParseDuration(cfg.Agent.RunLease, config.DefaultRunLease),
		SystemMessage: system,
	}, b.Logger), nil
}

func (b *Bootstrap) newMemoryStore(ctx context.Context) (memory.Store, error) {
	mc := b.Config.Storage.Memory
	switch mc.Type {
	case "", "memory":
		b.Logger.Info("长期记忆使用内存实现")
		return memory.NewMemStore(), nil
	case "postgres":
		pg, err := memory.NewPgStore(ctx, memory.PgConfig{
			DSN:      mc.DSN,
			MinConns: int32(mc.MinConns),
			MaxConns: int32(mc.MaxConns),
		})
		if err != nil {
			return nil, err
		}
		b.OnClose(pg.Close)
		b.Logger.Info("长期记忆使用 Postgres", "min_conns", mc.MinConns, "max_conns", mc.MaxConns)
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported memory store type %q", mc.Type)
	}
}

// NewToolRegistry 注册内置工具，按 rate_limits.tools 限流
func NewToolRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, error) {
	limits := make(map[string]registry.LimitConfig, len(cfg.RateLimits.Tools))
	for name, c := range cfg.RateLimits.Tools {
		limits[name] = registry.LimitConfig{QPS: c.QPS, MaxConcurrent: c.MaxConcurrent, Burst: c.Burst}
	}
	reg := registry.New(
		registry.WithTimeout(config.ParseDuration(cfg.Agent.ToolTimeout, config.DefaultToolTimeout)),
		registry.WithLimiter(registry.NewLimiter(limits, registry.LimitConfig{})),
	)
	if err := builtin.RegisterAll(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// NewReviewPolicy 配置策略；预订类工具未显式配置时要求人工审核
func NewReviewPolicy(rc config.ReviewConfig) (*review.StaticPolicy, error) {
	tools := make(map[string]string, len(rc.Tools)+len(builtin.DefaultReviewTools))
	for _, name := range builtin.DefaultReviewTools {
		tools[name] = string(session.PolicyRequireApproval)
	}
	for name, p := range rc.Tools {
		tools[name] = p
	}
	return review.NewStaticPolicy(rc.DefaultPolicy, tools)
}

// systemMessage system_message_file 优先于 system_message
func systemMessage(ac config.AgentConfig) (string, error) {
	if ac.SystemMessageFile == "" {
		return ac.SystemMessage, nil
	}
	data, err := os.ReadFile(ac.SystemMessageFile)
	if err != nil {
		return "", fmt.Errorf("读取系统提示文件failed: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
