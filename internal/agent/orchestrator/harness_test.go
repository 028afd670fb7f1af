package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"hitl-agent/internal/agent/memory"
	"hitl-agent/internal/agent/review"
	"hitl-agent/internal/agent/turn"
	"hitl-agent/internal/runtime/session"
	"hitl-agent/internal/tool/builtin"
	"hitl-agent/internal/tool/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingExecutor struct {
	reg   *registry.Registry
	mu    sync.Mutex
	calls []string
	// after 在每次工具执行完成后调用
	after func()
}

func (e *countingExecutor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	after := e.after
	e.mu.Unlock()
	out, err := e.reg.Execute(ctx, name, args)
	if after != nil {
		after()
	}
	return out, err
}

func (e *countingExecutor) setAfter(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.after = fn
}

func (e *countingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// recordingModel 记录每次发送给模型的消息
type recordingModel struct {
	inner turn.Model
	mu    sync.Mutex
	seen  [][]session.Message
}

func (m *recordingModel) Generate(ctx context.Context, transcript []session.Message, tools []*schema.ToolInfo) (session.Message, error) {
	m.mu.Lock()
	m.seen = append(m.seen, append([]session.Message(nil), transcript...))
	m.mu.Unlock()
	return m.inner.Generate(ctx, transcript, tools)
}

func (m *recordingModel) Name() string { return m.inner.Name() }

func (m *recordingModel) first() []session.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seen) == 0 {
		return nil
	}
	return m.seen[0]
}

type funcModel func(ctx context.Context, transcript []session.Message, tools []*schema.ToolInfo) (session.Message, error)

func (f funcModel) Generate(ctx context.Context, transcript []session.Message, tools []*schema.ToolInfo) (session.Message, error) {
	return f(ctx, transcript, tools)
}

func (f funcModel) Name() string { return "func" }

type harness struct {
	svc   *Service
	store *session.MemoryStore
	mem   *memory.MemStore
	clock *fakeClock
	exec  *countingExecutor
	model *recordingModel
}

type harnessOptions struct {
	model        turn.Model
	policies     map[string]string
	maxTurns     int
	modelTimeout time.Duration
	system       string
}

func newHarness(t testing.TB, opts harnessOptions) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := session.NewMemoryStore(time.Hour, session.WithMemoryClock(clock.Now))
	mgr := session.NewManager(store, time.Hour)
	mgr.SetClock(clock.Now)

	reg := registry.New()
	require.NoError(t, builtin.RegisterAll(context.Background(), reg))
	exec := &countingExecutor{reg: reg}

	policies := opts.policies
	if policies == nil {
		policies = map[string]string{"calculator": "REQUIRE_APPROVAL"}
	}
	policy, err := review.NewStaticPolicy("AUTO", policies)
	require.NoError(t, err)

	var inner turn.Model = turn.NewRuleModel()
	if opts.model != nil {
		inner = opts.model
	}
	model := &recordingModel{inner: inner}
	topts := []turn.Option{turn.WithClock(clock.Now)}
	if opts.modelTimeout > 0 {
		topts = append(topts, turn.WithTimeout(opts.modelTimeout))
	}
	executor := turn.NewExecutor(model, reg, topts...)

	mem := memory.NewMemStore()
	svc := New(mgr, mem, executor, review.NewGate(policy), exec, Config{
		MaxTurns:      opts.maxTurns,
		RunLease:      time.Minute,
		SystemMessage: opts.system,
	}, nil)
	return &harness{svc: svc, store: store, mem: mem, clock: clock, exec: exec, model: model}
}

func (h *harness) load(t testing.TB, userID, sessionID string) *session.Session {
	t.Helper()
	s, err := h.store.Load(context.Background(), userID, sessionID)
	require.NoError(t, err)
	return s
}

// acceptAll 对当前中断中全部待审核调用给出 accept
func acceptAll(pi *session.PendingInterrupt) []review.Decision {
	var out []review.Decision
	for _, c := range pi.AwaitingDecision() {
		out = append(out, review.Accept{CallID: c.Proposal.CallID})
	}
	return out
}
