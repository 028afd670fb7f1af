package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store 会话状态存储；Save 为基于 Version 的 compare-and-swap
type Store interface {
	// Load 读取会话；不存在返回 ErrNotFound，TTL 已过期返回 ErrExpired
	Load(ctx context.Context, userID, sessionID string) (*Session, error)
	// Save 当存储中的版本等于 expectedVersion（不存在或已过期视为 0）时写入，
	// 返回 Version = expectedVersion+1 的已持久化副本，并刷新 TTL；否则返回 ErrVersionMismatch
	Save(ctx context.Context, s *Session, expectedVersion int64) (*Session, error)
	// Delete 删除会话；从未存在返回 ErrNotFound
	Delete(ctx context.Context, userID, sessionID string) error
	// List 按最近更新时间倒序列出未过期会话 ID
	List(ctx context.Context, userID string) ([]string, error)
	// ActiveOf 最近一个非终态会话 ID，没有则返回 ""
	ActiveOf(ctx context.Context, userID string) (string, error)
	// Stats 全部未过期会话统计
	Stats(ctx context.Context) (Stats, error)
	// Prune 清理最后更新早于 before 且已过期的索引条目，返回清理条数
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Stats 会话统计
type Stats struct {
	SessionCount int                 `json:"session_count"`
	Users        map[string][]string `json:"users"`
}

type memKey struct {
	userID    string
	sessionID string
}

// MemoryStore 内存实现（map + mutex），过期会话保留为墓碑直至 Prune
type MemoryStore struct {
	mu         sync.RWMutex
	sess       map[memKey]*Session
	defaultTTL time.Duration
	now        func() time.Time
}

// MemoryOption MemoryStore 选项
type MemoryOption func(*MemoryStore)

// WithMemoryClock 注入时钟（测试用）
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore 创建内存 Session 存储；defaultTTL 用于 TTL 为 0 的会话
func NewMemoryStore(defaultTTL time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sess:       make(map[memKey]*Session),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MemoryStore) expired(s *Session, now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// Load 实现 Store
func (m *MemoryStore) Load(ctx context.Context, userID, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sess[memKey{userID, sessionID}]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(s, m.now()) {
		return nil, ErrExpired
	}
	return s.Clone(), nil
}

// Save 实现 Store
func (m *MemoryStore) Save(ctx context.Context, s *Session, expectedVersion int64) (*Session, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := memKey{s.UserID, s.SessionID}
	var current int64
	if cur, ok := m.sess[key]; ok && !m.expired(cur, now) {
		current = cur.Version
	}
	if current != expectedVersion {
		return nil, fmt.Errorf("%w: expected %d, current %d", ErrVersionMismatch, expectedVersion, current)
	}

	saved := s.Clone()
	saved.Version = expectedVersion + 1
	saved.UpdatedAt = now
	if saved.CreatedAt.IsZero() || expectedVersion == 0 {
		saved.CreatedAt = now
	}
	if saved.TTL <= 0 {
		saved.TTL = m.defaultTTL
	}
	m.sess[key] = saved
	return saved.Clone(), nil
}

// Delete 实现 Store
func (m *MemoryStore) Delete(ctx context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{userID, sessionID}
	if _, ok := m.sess[key]; !ok {
		return ErrNotFound
	}
	delete(m.sess, key)
	return nil
}

// live 按 UpdatedAt 倒序返回某用户未过期的会话；调用方持有读锁
func (m *MemoryStore) live(userID string, now time.Time) []*Session {
	var out []*Session
	for k, s := range m.sess {
		if k.userID == userID && !m.expired(s, now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].SessionID > out[j].SessionID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// List 实现 Store
func (m *MemoryStore) List(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	live := m.live(userID, m.now())
	ids := make([]string, 0, len(live))
	for _, s := range live {
		ids = append(ids, s.SessionID)
	}
	return ids, nil
}

// ActiveOf 实现 Store
func (m *MemoryStore) ActiveOf(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.live(userID, m.now()) {
		if !s.Status.Terminal() {
			return s.SessionID, nil
		}
	}
	return "", nil
}

// Stats 实现 Store
func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	users := make(map[string]bool)
	for k := range m.sess {
		users[k.userID] = true
	}
	st := Stats{Users: make(map[string][]string)}
	for u := range users {
		live := m.live(u, now)
		if len(live) == 0 {
			continue
		}
		for _, s := range live {
			st.Users[u] = append(st.Users[u], s.SessionID)
		}
		st.SessionCount += len(live)
	}
	return st, nil
}

// Prune 实现 Store
func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, s := range m.sess {
		if m.expired(s, now) && s.UpdatedAt.Before(before) {
			delete(m.sess, k)
			n++
		}
	}
	return n, nil
}
