package app

import (
	"context"
	"fmt"

	"hitl-agent/internal/agent/turn"
	"hitl-agent/internal/model/llm"
	"hitl-agent/pkg/config"
)

// NewTurnModel 根据 config.Model 的 defaults.llm 创建模型（如 "openai.gpt4o"）；
// 未配置默认模型时使用规则模型，便于本地演示与测试
func NewTurnModel(ctx context.Context, cfg *config.Config) (turn.Model, error) {
	sel, err := llm.Resolve(cfg.Model)
	if err != nil {
		return nil, err
	}
	if sel == nil {
		return turn.NewRuleModel(), nil
	}
	timeout := config.ParseDuration(cfg.Agent.ModelTimeout, config.DefaultModelTimeout)
	chat, err := llm.NewChatModel(ctx, sel, timeout)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s/%s", sel.Provider, sel.Name)
	limited := llm.NewLimitedChatModel(chat, newLLMLimiter(cfg), sel.Provider, name)
	return turn.NewEinoModel(limited, name), nil
}

func newLLMLimiter(cfg *config.Config) *llm.RateLimiter {
	limits := make(map[string]llm.LimitConfig, len(cfg.RateLimits.LLM))
	for provider, c := range cfg.RateLimits.LLM {
		limits[provider] = llm.LimitConfig{RequestsPerMinute: c.RequestsPerMinute, MaxConcurrent: c.MaxConcurrent}
	}
	return llm.NewRateLimiter(limits, llm.LimitConfig{})
}
