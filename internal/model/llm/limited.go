package llm

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"hitl-agent/pkg/metrics"
)

// LimitedChatModel 在真实调用前按 provider 限流，并记录等待许可的耗时
type LimitedChatModel struct {
	inner    model.ToolCallingChatModel
	limiter  *RateLimiter
	provider string
	name     string
}

// NewLimitedChatModel limiter 为 nil 时直接透传
func NewLimitedChatModel(inner model.ToolCallingChatModel, limiter *RateLimiter, provider, name string) *LimitedChatModel {
	return &LimitedChatModel{inner: inner, limiter: limiter, provider: provider, name: name}
}

var _ model.ToolCallingChatModel = (*LimitedChatModel)(nil)

func (m *LimitedChatModel) acquire(ctx context.Context) (func(), error) {
	if m.limiter == nil {
		return func() {}, nil
	}
	start := time.Now()
	release, err := m.limiter.Acquire(ctx, m.provider)
	metrics.LLMWaitDuration.WithLabelValues(m.provider).Observe(time.Since(start).Seconds())
	return release, err
}

// Generate 实现 model.BaseChatModel
func (m *LimitedChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.inner.Generate(ctx, input, opts...)
}

// Stream 实现 model.BaseChatModel；并发 slot 在建立流后即释放
func (m *LimitedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.inner.Stream(ctx, input, opts...)
}

// WithTools 返回绑定工具后的新实例，限流器共享
func (m *LimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	inner, err := m.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &LimitedChatModel{inner: inner, limiter: m.limiter, provider: m.provider, name: m.name}, nil
}

// Name 模型名称
func (m *LimitedChatModel) Name() string { return m.name }
