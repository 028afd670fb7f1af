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

// Package orchestrator 运行编排：驱动 Turn -> Review Gate -> (挂起 | 继续) -> Decision Applier，
// 直到 AWAITING_REVIEW、DONE 或 FAILED。
//
// 每个请求对会话做两次 CAS 保存：先以 ACTIVE + 租约认领，再提交结果；运行中每个继续的 Turn
// 以及应用审核决策之后额外保存一次检查点并续租。工具已执行而请求被取消时，释放租约并保存执行结果。
// 持有未过期租约的会话拒绝其他写请求；租约过期的会话可被接管，未完成的工具调用以 abandoned 工具消息关闭。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hitl-agent/internal/agent/memory"
	"hitl-agent/internal/agent/review"
	"hitl-agent/internal/agent/turn"
	"hitl-agent/internal/runtime/session"
	"hitl-agent/internal/tool"
	pkgerrors "hitl-agent/pkg/errors"
	"hitl-agent/pkg/log"
	"hitl-agent/pkg/metrics"
	"hitl-agent/pkg/tracing"
)

// 写入 Session.Failure 的失败码
const (
	FailureTurnLimit        = pkgerrors.CodeTurnLimitExceeded
	FailureExecutionTimeout = pkgerrors.CodeExecutionTimeout
	FailureModelError       = "MODEL_ERROR"
)

// AbandonedContent 接管时关闭未完成调用写入的内容
const AbandonedContent = "run interrupted before this call completed"

// Config 编排配置
type Config struct {
	MaxTurns      int
	RunLease      time.Duration
	SystemMessage string
}

// Service 运行编排服务，对外提供 invoke/resume 及会话、记忆的查询与维护
type Service struct {
	sessions *session.Manager
	memory   memory.Store
	turns    *turn.Executor
	gate     *review.Gate
	applier  *review.Applier
	tools    tool.Executor
	cfg      Config
	logger   *log.Logger
}

// New 创建 Service
func New(sessions *session.Manager, mem memory.Store, turns *turn.Executor, gate *review.Gate, tools tool.Executor, cfg Config, logger *log.Logger) *Service {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.RunLease <= 0 {
		cfg.RunLease = 2 * time.Minute
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		sessions: sessions,
		memory:   mem,
		turns:    turns,
		gate:     gate,
		applier:  review.NewApplier(tools, sessions.Now),
		tools:    tools,
		cfg:      cfg,
		logger:   logger,
	}
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return pkgerrors.Wrapf(pkgerrors.ErrValidation, "%s is required", fields[i])
		}
	}
	return nil
}

// Invoke 追加用户消息并运行，直到挂起或结束。新会话先以长期记忆生成系统消息
func (s *Service) Invoke(ctx context.Context, req InvokeRequest) (*Result, error) {
	if err := required("user_id", req.UserID, "session_id", req.SessionID, "query", req.Query); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartRunSpan(ctx, "invoke", req.UserID, req.SessionID)
	defer span.End()
	defer observe("invoke", time.Now())

	co, err := s.sessions.CheckoutOrCreate(ctx, req.UserID, req.SessionID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	sess := co.Session
	now := s.sessions.Now()
	if req.ExpectedVersion != 0 && req.ExpectedVersion != co.Base {
		return nil, versionConflict(req.ExpectedVersion, sess, co.Base)
	}
	switch {
	case sess.Status == session.StatusAwaitingReview && lastUserQuery(sess) == req.Query:
		// 重试的 invoke：首次请求已挂起，返回同一个待审核中断
		res := resultOf(sess)
		res.Replayed = true
		return res, nil
	case sess.Status == session.StatusAwaitingReview:
		return nil, pkgerrors.WithState(pkgerrors.Wrapf(pkgerrors.ErrPendingReview, "interrupt %s", sess.PendingInterrupt.ID), string(sess.Status), co.Base)
	case sess.LeaseActive(now):
		return nil, pkgerrors.WithState(pkgerrors.ErrRunInProgress, string(sess.Status), co.Base)
	}

	if co.Fresh {
		if err := s.seed(ctx, sess, req.SystemMessage, now); err != nil {
			return nil, err
		}
	} else if sess.Status == session.StatusActive {
		s.abandon(sess, now)
	}
	if err := sess.Transition(session.StatusActive); err != nil {
		return nil, err
	}
	sess.RunTurns = 0
	sess.Append(session.UserMessage(req.Query, now))
	s.renewLease(sess)
	if err := s.sessions.Commit(ctx, co); err != nil {
		return nil, s.withCurrentState(ctx, err, req.UserID, req.SessionID)
	}
	return s.drive(ctx, co)
}

// Resume 校验并应用一批审核决策，然后继续运行
func (s *Service) Resume(ctx context.Context, req ResumeRequest) (*Result, error) {
	if err := required("user_id", req.UserID, "session_id", req.SessionID); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartRunSpan(ctx, "resume", req.UserID, req.SessionID)
	defer span.End()
	defer observe("resume", time.Now())

	co, err := s.sessions.Checkout(ctx, req.UserID, req.SessionID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	sess := co.Session
	now := s.sessions.Now()
	if req.ExpectedVersion != 0 && req.ExpectedVersion != co.Base {
		return nil, versionConflict(req.ExpectedVersion, sess, co.Base)
	}
	if req.InterruptID != "" && req.InterruptID == sess.LastInterruptID && sess.PendingInterrupt == nil {
		if sess.LeaseActive(now) {
			return nil, pkgerrors.WithState(pkgerrors.ErrRunInProgress, string(sess.Status), co.Base)
		}
		res := resultOf(sess)
		res.Replayed = true
		return res, nil
	}
	if sess.Status != session.StatusAwaitingReview && sess.LeaseActive(now) {
		return nil, pkgerrors.WithState(pkgerrors.ErrRunInProgress, string(sess.Status), co.Base)
	}
	if req.InterruptID != "" && sess.PendingInterrupt != nil && req.InterruptID != sess.PendingInterrupt.ID {
		return nil, pkgerrors.WithState(pkgerrors.Wrapf(pkgerrors.ErrStaleInterrupt, "interrupt %s is not pending", req.InterruptID), string(sess.Status), co.Base)
	}

	plan, err := s.applier.Begin(sess, req.Decisions)
	if err != nil {
		return nil, pkgerrors.WithState(err, string(co.Session.Status), co.Base)
	}
	s.renewLease(sess)
	if err := s.sessions.Commit(ctx, co); err != nil {
		return nil, s.withCurrentState(ctx, err, req.UserID, req.SessionID)
	}

	phase, err := s.applier.Apply(ctx, co.Session, plan)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, s.persistCancelled(ctx, co)
	}
	if phase == review.PhaseFailed {
		s.logger.Warn("决策应用失败", "user_id", req.UserID, "session_id", req.SessionID, "failure", co.Session.Failure)
		return s.finish(ctx, co)
	}
	// 检查点：保存决策执行结果并续租
	s.renewLease(co.Session)
	if err := s.sessions.Commit(ctx, co); err != nil {
		return nil, s.withCurrentState(ctx, err, req.UserID, req.SessionID)
	}
	return s.drive(ctx, co)
}

// drive 编排循环；co 已被认领（ACTIVE + 租约）
func (s *Service) drive(ctx context.Context, co *session.Checkout) (*Result, error) {
	for {
		sess := co.Session
		if sess.RunTurns >= s.cfg.MaxTurns {
			msg := fmt.Sprintf("turn limit of %d exceeded", s.cfg.MaxTurns)
			sess.Append(session.FailureMessage(msg, s.sessions.Now()))
			if err := sess.Fail(FailureTurnLimit, msg); err != nil {
				return nil, err
			}
			break
		}
		sess.RunTurns++
		turnCtx, span := tracing.StartTurnSpan(ctx, sess.RunTurns)
		res, err := s.turns.Step(turnCtx, sess.Transcript)
		if err != nil {
			tracing.RecordError(span, err)
			span.End()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			code := FailureModelError
			if errors.Is(err, pkgerrors.ErrExecutionTimeout) {
				code = FailureExecutionTimeout
			}
			sess.Append(session.FailureMessage(err.Error(), s.sessions.Now()))
			if ferr := sess.Fail(code, err.Error()); ferr != nil {
				return nil, ferr
			}
			break
		}
		span.End()
		sess.Append(res.Message)
		if res.Final() {
			if err := sess.Transition(session.StatusDone); err != nil {
				return nil, err
			}
			break
		}

		part := s.gate.Classify(res.Proposals())
		executed := make(map[string]bool, len(part.Auto))
		for _, p := range part.Auto {
			msg, err := review.RunTool(ctx, s.tools, p, session.ResolutionAuto, s.sessions.Now)
			if err != nil {
				s.logger.Warn("工具执行失败", "session_id", sess.SessionID, "tool", p.ToolName, "call_id", p.CallID, "error", err)
			}
			sess.Append(msg)
			executed[p.CallID] = true
		}
		if ctx.Err() != nil {
			if part.Suspend() {
				if err := sess.Suspend(part.Interrupt(executed, s.sessions.Now())); err != nil {
					return nil, err
				}
				metrics.InterruptTotal.Inc()
			}
			return nil, s.persistCancelled(ctx, co)
		}
		if part.Suspend() {
			if err := sess.Suspend(part.Interrupt(executed, s.sessions.Now())); err != nil {
				return nil, err
			}
			metrics.InterruptTotal.Inc()
			break
		}
		// 检查点：保存本 Turn 结果并续租
		s.renewLease(sess)
		if err := s.sessions.Commit(ctx, co); err != nil {
			return nil, s.withCurrentState(ctx, err, sess.UserID, sess.SessionID)
		}
	}
	return s.finish(ctx, co)
}

func (s *Service) finish(ctx context.Context, co *session.Checkout) (*Result, error) {
	sess := co.Session
	if err := s.sessions.Commit(ctx, co); err != nil {
		return nil, s.withCurrentState(ctx, err, sess.UserID, sess.SessionID)
	}
	metrics.RunTotal.WithLabelValues(string(co.Session.Status)).Inc()
	s.logger.Info("运行结束",
		"user_id", co.Session.UserID,
		"session_id", co.Session.SessionID,
		"status", co.Session.Status,
		"version", co.Session.Version,
		"run_turns", co.Session.RunTurns,
	)
	return resultOf(co.Session), nil
}

// seed 新会话：系统提示 + 长期记忆
func (s *Service) seed(ctx context.Context, sess *session.Session, systemMessage string, now time.Time) error {
	if systemMessage == "" {
		systemMessage = s.cfg.SystemMessage
	}
	records, err := s.memory.ListFor(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("load long-term memory: %w", err)
	}
	if content := memory.SeedContent(systemMessage, records); strings.TrimSpace(content) != "" {
		sess.Append(session.SystemMessage(strings.TrimSpace(content), now))
	}
	return nil
}

// abandon 接管租约过期的运行：未完成的工具调用以失败消息关闭
func (s *Service) abandon(sess *session.Session, now time.Time) {
	calls := sess.UnansweredCalls()
	for _, c := range calls {
		sess.Append(session.ToolMessage(c, AbandonedContent, session.ResolutionAbandoned, true, now))
	}
	s.logger.Warn("接管租约过期的会话", "user_id", sess.UserID, "session_id", sess.SessionID, "abandoned_calls", len(calls))
}

// persistCancelled 请求已取消但工具已执行：释放租约并保存执行结果，再返回取消错误
func (s *Service) persistCancelled(ctx context.Context, co *session.Checkout) error {
	sess := co.Session
	sess.LeaseUntil = nil
	if err := s.sessions.Commit(context.WithoutCancel(ctx), co); err != nil {
		return s.withCurrentState(ctx, err, sess.UserID, sess.SessionID)
	}
	s.logger.Warn("请求取消，已保存已执行的工具结果", "user_id", sess.UserID, "session_id", sess.SessionID, "status", co.Session.Status, "version", co.Session.Version)
	return ctx.Err()
}

func (s *Service) renewLease(sess *session.Session) {
	until := s.sessions.Now().Add(s.cfg.RunLease)
	sess.LeaseUntil = &until
}

// withCurrentState 为提交失败附加存储中的最新状态
func (s *Service) withCurrentState(ctx context.Context, err error, userID, sessionID string) error {
	cur, lerr := s.sessions.Store().Load(context.WithoutCancel(ctx), userID, sessionID)
	switch {
	case errors.Is(lerr, session.ErrNotFound):
		return pkgerrors.WithState(err, pkgerrors.CodeNotFound, 0)
	case errors.Is(lerr, session.ErrExpired):
		return pkgerrors.WithState(err, string(session.StatusExpired), 0)
	case lerr != nil:
		return err
	}
	return pkgerrors.WithState(err, string(cur.Status), cur.Version)
}

func lastUserQuery(sess *session.Session) string {
	for i := len(sess.Transcript) - 1; i >= 0; i-- {
		if sess.Transcript[i].Role == session.RoleUser {
			return sess.Transcript[i].Content
		}
	}
	return ""
}

func versionConflict(expected int64, sess *session.Session, current int64) error {
	err := fmt.Errorf("%w: expected version %d, current %d", pkgerrors.ErrConcurrentModification, expected, current)
	return pkgerrors.WithState(err, string(sess.Status), current)
}

func observe(op string, start time.Time) {
	metrics.RunDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
