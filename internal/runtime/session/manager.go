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

package session

import (
	"context"
	"errors"
	"time"

	"hitl-agent/pkg/metrics"
)

// Checkout 检出的工作副本；Base 为检出（或最近一次提交）时的版本
type Checkout struct {
	Session *Session
	Base    int64
	// Fresh 为 true 表示会话此前不存在或已过期，本次新建
	Fresh bool
}

// Manager 管理会话检出与提交：请求只修改检出副本，提交时以 Base 做 CAS
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager 创建 Manager；ttl 为新会话的 TTL
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

// SetClock 注入时钟（测试用）
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Store 返回底层存储
func (m *Manager) Store() Store { return m.store }

// Checkout 检出已存在的会话
func (m *Manager) Checkout(ctx context.Context, userID, sessionID string) (*Checkout, error) {
	s, err := m.store.Load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &Checkout{Session: s.Clone(), Base: s.Version}, nil
}

// CheckoutOrCreate 检出会话；不存在或已过期时返回新的空会话（Base 为 0）
func (m *Manager) CheckoutOrCreate(ctx context.Context, userID, sessionID string) (*Checkout, error) {
	co, err := m.Checkout(ctx, userID, sessionID)
	if err == nil {
		return co, nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		return &Checkout{Session: New(userID, sessionID, m.ttl, m.now()), Fresh: true}, nil
	}
	return nil, err
}

// Commit 以 Base 为期望版本持久化工作副本；成功后副本与 Base 更新为新版本
func (m *Manager) Commit(ctx context.Context, co *Checkout) error {
	saved, err := m.store.Save(ctx, co.Session, co.Base)
	if err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			metrics.CASConflictTotal.Inc()
		}
		return err
	}
	co.Session = saved
	co.Base = saved.Version
	co.Fresh = false
	return nil
}

// Now 当前时间
func (m *Manager) Now() time.Time { return m.now() }
