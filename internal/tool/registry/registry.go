package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"hitl-agent/internal/tool"
	pkgerrors "hitl-agent/pkg/errors"
	"hitl-agent/pkg/metrics"
	"hitl-agent/pkg/tracing"
)

// Registry 工具注册表：注册、发现、供模型使用的 ToolInfo 列表，以及带超时与限流的执行
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]einotool.InvokableTool
	infos   map[string]*schema.ToolInfo
	order   []string
	limiter *Limiter
	timeout time.Duration
}

// Option Registry 选项
type Option func(*Registry)

// WithTimeout 单次执行超时
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithLimiter 执行限流
func WithLimiter(l *Limiter) Option {
	return func(r *Registry) { r.limiter = l }
}

// New 创建新的 Registry
func New(opts ...Option) *Registry {
	r := &Registry{
		tools: make(map[string]einotool.InvokableTool),
		infos: make(map[string]*schema.ToolInfo),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ tool.Set = (*Registry)(nil)

// Register 注册工具；同名覆盖
func (r *Registry) Register(ctx context.Context, t einotool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}
	if info == nil || info.Name == "" {
		return errors.New("tool info: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[info.Name]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.tools[info.Name] = t
	r.infos[info.Name] = info
	return nil
}

// Has 实现 tool.Catalog
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names 按注册顺序返回工具名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Infos 实现 tool.Catalog，按注册顺序返回
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.infos[name])
	}
	return out, nil
}

// Execute 实现 tool.Executor；超时返回包装 ErrExecutionTimeout 的错误
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}

	if r.limiter != nil {
		release, err := r.limiter.Acquire(ctx, name)
		if err != nil {
			return "", err
		}
		defer release()
	}

	if args == nil {
		args = map[string]any{}
	}
	in, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("tool %s: encode arguments: %w", name, err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	runCtx, span := tracing.StartToolSpan(runCtx, name, tool.CallIDFrom(ctx))
	defer span.End()

	start := time.Now()
	out, err := t.InvokableRun(runCtx, string(in))
	metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("tool %s: %w after %s", name, pkgerrors.ErrExecutionTimeout, r.timeout)
	}
	if err != nil {
		metrics.ToolErrorTotal.WithLabelValues(name).Inc()
		tracing.RecordError(span, err)
		return "", err
	}
	return out, nil
}
