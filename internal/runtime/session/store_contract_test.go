package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "hitl-agent/pkg/errors"
)

// storeHarness 让同一组契约测试运行在不同 Store 实现上
type storeHarness struct {
	store Store
	ttl   time.Duration
	// expire 使已写入会话越过 TTL
	expire func()
}

func activeSession(userID, sessionID string, ttl time.Duration) *Session {
	s := New(userID, sessionID, ttl, time.Now())
	s.Status = StatusActive
	return s
}

func runStoreContract(t *testing.T, newHarness func(t *testing.T) storeHarness) {
	t.Run("create_and_load", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.store.Load(ctx, "u1", "s1")
		assert.ErrorIs(t, err, ErrNotFound)

		saved, err := h.store.Save(ctx, activeSession("u1", "s1", h.ttl), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), saved.Version)

		got, err := h.store.Load(ctx, "u1", "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, StatusActive, got.Status)
	})

	t.Run("cas_rejects_stale_version", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		s := activeSession("u1", "s1", h.ttl)
		_, err := h.store.Save(ctx, s, 0)
		require.NoError(t, err)

		_, err = h.store.Save(ctx, s, 0)
		assert.ErrorIs(t, err, ErrVersionMismatch)
		assert.ErrorIs(t, err, pkgerrors.ErrConcurrentModification)

		s.Append(UserMessage("hello", time.Now()))
		saved, err := h.store.Save(ctx, s, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		got, err := h.store.Load(ctx, "u1", "s1")
		require.NoError(t, err)
		assert.Len(t, got.Transcript, 1)
	})

	t.Run("concurrent_saves_one_winner", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.store.Save(ctx, activeSession("u1", "s1", h.ttl), 0)
		require.NoError(t, err)

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s := activeSession("u1", "s1", h.ttl)
				s.Append(UserMessage(fmt.Sprintf("w%d", i), time.Now()))
				_, errs[i] = h.store.Save(ctx, s, 1)
			}(i)
		}
		wg.Wait()
		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrVersionMismatch)
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("invalid_session_rejected", func(t *testing.T) {
		h := newHarness(t)
		s := activeSession("u1", "s1", h.ttl)
		s.Status = StatusAwaitingReview
		_, err := h.store.Save(context.Background(), s, 0)
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("list_by_recency_and_active_of", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			s := activeSession("u1", id, h.ttl)
			if id != "b" {
				s.Status = StatusDone
			}
			_, err := h.store.Save(ctx, s, 0)
			require.NoError(t, err)
			time.Sleep(5 * time.Millisecond)
		}
		_, err := h.store.Save(ctx, activeSession("u2", "x", h.ttl), 0)
		require.NoError(t, err)

		ids, err := h.store.List(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, ids)

		active, err := h.store.ActiveOf(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "b", active)

		none, err := h.store.ActiveOf(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, "", none)

		st, err := h.store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, st.SessionCount)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, st.Users["u1"])
		assert.Equal(t, []string{"x"}, st.Users["u2"])
	})

	t.Run("delete", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.store.Save(ctx, activeSession("u1", "s1", h.ttl), 0)
		require.NoError(t, err)
		require.NoError(t, h.store.Delete(ctx, "u1", "s1"))

		_, err = h.store.Load(ctx, "u1", "s1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, errors.Is(err, ErrExpired))
		assert.ErrorIs(t, h.store.Delete(ctx, "u1", "s1"), ErrNotFound)

		ids, err := h.store.List(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("expiry_and_recreate", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.store.Save(ctx, activeSession("u1", "s1", h.ttl), 0)
		require.NoError(t, err)
		h.expire()

		_, err = h.store.Load(ctx, "u1", "s1")
		assert.ErrorIs(t, err, ErrExpired)
		assert.ErrorIs(t, err, pkgerrors.ErrSessionExpired)

		ids, err := h.store.List(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, ids)

		saved, err := h.store.Save(ctx, activeSession("u1", "s1", h.ttl), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), saved.Version)
	})

	t.Run("prune_removes_dangling_index", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.store.Save(ctx, activeSession("u1", "old", h.ttl), 0)
		require.NoError(t, err)
		h.expire()
		_, err = h.store.Save(ctx, activeSession("u1", "new", h.ttl), 0)
		require.NoError(t, err)

		n, err := h.store.Prune(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = h.store.Load(ctx, "u1", "old")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, errors.Is(err, ErrExpired))
		_, err = h.store.Load(ctx, "u1", "new")
		require.NoError(t, err)
	})
}
