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

// Package session 定义可恢复会话的状态模型与持久化：状态机、待审核中断、
// 基于版本号的 compare-and-swap 存储（内存 / Redis）以及索引清理。
package session

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "hitl-agent/pkg/errors"
)

// 会话错误；均包装 pkg/errors 的分类哨兵
var (
	ErrNotFound          = fmt.Errorf("session: %w", pkgerrors.ErrNotFound)
	ErrExpired           = fmt.Errorf("session: %w", pkgerrors.ErrSessionExpired)
	ErrVersionMismatch   = fmt.Errorf("session: version mismatch: %w", pkgerrors.ErrConcurrentModification)
	ErrIllegalTransition = errors.New("session: illegal status transition")
	ErrInvariant         = errors.New("session: invariant violated")
)

// Failure 最近一次 FAILED 结果的原因
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Session 一个用户会话的完整可恢复状态；由 Store 独占，编排器只持有检出的副本
type Session struct {
	UserID           string            `json:"user_id"`
	SessionID        string            `json:"session_id"`
	Status           Status            `json:"status"`
	Transcript       []Message         `json:"transcript"`
	PendingInterrupt *PendingInterrupt `json:"pending_interrupt,omitempty"`

	RunTurns        int        `json:"run_turns"`
	LeaseUntil      *time.Time `json:"lease_until,omitempty"`
	LastInterruptID string     `json:"last_interrupt_id,omitempty"`
	Failure         *Failure   `json:"failure,omitempty"`

	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"version"`
	TTL       time.Duration `json:"ttl"`
}

// New 创建未持久化的新会话（Version 为 0，Status 为空表示尚未开始运行）
func New(userID, sessionID string, ttl time.Duration, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		TTL:       ttl,
	}
}

// Append 追加消息；消息一经追加不再修改
func (s *Session) Append(msgs ...Message) {
	s.Transcript = append(s.Transcript, msgs...)
}

// Transition 按状态转移表切换状态，并维护 pending 与 status 的一致性
func (s *Session) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, displayStatus(s.Status), to)
	}
	s.Status = to
	if to != StatusAwaitingReview {
		s.PendingInterrupt = nil
	}
	if to != StatusActive {
		s.LeaseUntil = nil
	}
	if to != StatusFailed {
		s.Failure = nil
	}
	return nil
}

// Suspend 进入 AWAITING_REVIEW 并挂起 pi
func (s *Session) Suspend(pi *PendingInterrupt) error {
	if pi == nil || len(pi.Calls) == 0 {
		return fmt.Errorf("%w: empty pending interrupt", ErrInvariant)
	}
	if err := s.Transition(StatusAwaitingReview); err != nil {
		return err
	}
	s.PendingInterrupt = pi
	return nil
}

// Fail 进入 FAILED 并记录原因
func (s *Session) Fail(code, message string) error {
	if err := s.Transition(StatusFailed); err != nil {
		return err
	}
	s.Failure = &Failure{Code: code, Message: message}
	return nil
}

// LeaseActive 是否存在未过期的运行租约
func (s *Session) LeaseActive(now time.Time) bool {
	return s.Status == StatusActive && s.LeaseUntil != nil && now.Before(*s.LeaseUntil)
}

// Validate 校验会话不变量：pending_interrupt 非空当且仅当 AWAITING_REVIEW
func (s *Session) Validate() error {
	if s.UserID == "" || s.SessionID == "" {
		return fmt.Errorf("%w: empty key", ErrInvariant)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, s.Status)
	}
	awaiting := s.Status == StatusAwaitingReview
	if awaiting != (s.PendingInterrupt != nil) {
		return fmt.Errorf("%w: status=%s pending=%v", ErrInvariant, s.Status, s.PendingInterrupt != nil)
	}
	if awaiting && len(s.PendingInterrupt.Calls) == 0 {
		return fmt.Errorf("%w: pending interrupt without calls", ErrInvariant)
	}
	return nil
}

// UnansweredCalls 返回最后一条 assistant 消息中尚无 tool 结果的调用（按提议顺序）
func (s *Session) UnansweredCalls() []ToolCallProposal {
	last := -1
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || len(s.Transcript[last].ToolCalls) == 0 {
		return nil
	}
	answered := make(map[string]bool)
	for _, m := range s.Transcript[last+1:] {
		if m.Role == RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	var out []ToolCallProposal
	for _, c := range s.Transcript[last].ToolCalls {
		if !answered[c.CallID] {
			out = append(out, c)
		}
	}
	return out
}

// ExpiresAt 会话过期时间
func (s *Session) ExpiresAt() time.Time {
	return s.UpdatedAt.Add(s.TTL)
}

// Clone 深拷贝，检出副本与存储内对象互不影响
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Transcript != nil {
		out.Transcript = make([]Message, len(s.Transcript))
		for i, m := range s.Transcript {
			out.Transcript[i] = m.clone()
		}
	}
	out.PendingInterrupt = s.PendingInterrupt.clone()
	if s.LeaseUntil != nil {
		t := *s.LeaseUntil
		out.LeaseUntil = &t
	}
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	return &out
}

func displayStatus(s Status) string {
	if s == "" {
		return "NEW"
	}
	return string(s)
}
