package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hitl-agent/internal/tool"
	pkgerrors "hitl-agent/pkg/errors"
)

type echoInput struct {
	Text string `json:"text"`
}

type sleepInput struct {
	Ms int `json:"ms"`
}

func register(t *testing.T, r *Registry) {
	t.Helper()
	echo, err := utils.InferTool("echo", "echo text", func(ctx context.Context, in *echoInput) (string, error) {
		return in.Text, nil
	})
	require.NoError(t, err)
	sleeper, err := utils.InferTool("sleep", "sleep ms", func(ctx context.Context, in *sleepInput) (string, error) {
		select {
		case <-time.After(time.Duration(in.Ms) * time.Millisecond):
			return "woke", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	require.NoError(t, err)
	require.NoError(t, r.Register(context.Background(), echo))
	require.NoError(t, r.Register(context.Background(), sleeper))
}

func TestRegistry_Execute(t *testing.T) {
	r := New()
	register(t, r)
	assert.True(t, r.Has("echo"))
	assert.False(t, r.Has("nope"))

	out, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.Execute(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, tool.ErrToolNotFound)
}

func TestRegistry_Timeout(t *testing.T) {
	r := New(WithTimeout(20 * time.Millisecond))
	register(t, r)
	_, err := r.Execute(context.Background(), "sleep", map[string]any{"ms": 500})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrExecutionTimeout), "got %v", err)
}

func TestRegistry_ParentCancelIsNotTimeout(t *testing.T) {
	r := New(WithTimeout(time.Second))
	register(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Execute(ctx, "sleep", map[string]any{"ms": 500})
	require.Error(t, err)
	assert.False(t, errors.Is(err, pkgerrors.ErrExecutionTimeout))
}

func TestLimiter_MaxConcurrent(t *testing.T) {
	l := NewLimiter(map[string]LimitConfig{"slow": {MaxConcurrent: 2}}, LimitConfig{})
	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "slow")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := NewLimiter(nil, LimitConfig{MaxConcurrent: 1})
	release, err := l.Acquire(context.Background(), "x")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
