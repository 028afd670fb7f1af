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

// Package turn 执行一次推理步骤：把会话消息交给模型，返回最终回答或工具调用提议。
// Executor 不修改会话状态，结果由 Review Gate 与编排器消费。
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"hitl-agent/internal/runtime/session"
	"hitl-agent/internal/tool"
	pkgerrors "hitl-agent/pkg/errors"
	"hitl-agent/pkg/metrics"
)

var (
	// ErrModel 模型调用失败（传输错误、响应无法解析等），不自动重试
	ErrModel = errors.New("turn: model invocation failed")
	// ErrInvalidProposal 模型返回的工具调用不合法（重复 call_id、未知工具）
	ErrInvalidProposal = errors.New("turn: invalid tool call proposal")
)

// Model 模型调用协作者：给定消息与可用工具，返回一条 assistant 消息
type Model interface {
	Generate(ctx context.Context, transcript []session.Message, tools []*schema.ToolInfo) (session.Message, error)
	Name() string
}

// Result 一次 Turn 的结果：Message.ToolCalls 为空即最终回答
type Result struct {
	Message session.Message
}

// Final 是否为最终回答
func (r Result) Final() bool { return len(r.Message.ToolCalls) == 0 }

// Proposals 本 Turn 提议的工具调用
func (r Result) Proposals() []session.ToolCallProposal { return r.Message.ToolCalls }

// Executor Turn 执行器
type Executor struct {
	model        Model
	catalog      tool.Catalog
	timeout      time.Duration
	historyLimit int
	now          func() time.Time
}

// Option Executor 选项
type Option func(*Executor)

// WithTimeout 单次模型调用超时
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithHistoryLimit 发给模型的最近消息条数，<=0 不裁剪
func WithHistoryLimit(n int) Option {
	return func(e *Executor) { e.historyLimit = n }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor 创建 Turn 执行器
func NewExecutor(m Model, catalog tool.Catalog, opts ...Option) *Executor {
	e := &Executor{model: m, catalog: catalog, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ModelName 当前模型名称
func (e *Executor) ModelName() string { return e.model.Name() }

// Step 执行一次推理；超时返回 ErrExecutionTimeout，其余模型错误返回 ErrModel
func (e *Executor) Step(ctx context.Context, transcript []session.Message) (Result, error) {
	infos, err := e.catalog.Infos(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list tools: %v", ErrModel, err)
	}
	history := PrepareHistory(transcript, e.historyLimit)

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	msg, err := e.model.Generate(callCtx, history, infos)
	metrics.ModelDuration.WithLabelValues(e.model.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TurnTotal.WithLabelValues("error").Inc()
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, pkgerrors.Wrapf(pkgerrors.ErrExecutionTimeout, "model %s did not respond within %s", e.model.Name(), e.timeout)
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %v", ErrModel, err)
	}

	msg.Role = session.RoleAssistant
	msg.CreatedAt = e.now()
	if err := e.normalize(&msg); err != nil {
		metrics.TurnTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}
	if len(msg.ToolCalls) == 0 {
		metrics.TurnTotal.WithLabelValues("final").Inc()
	} else {
		metrics.TurnTotal.WithLabelValues("tool_calls").Inc()
	}
	return Result{Message: msg}, nil
}

// normalize 补全 call_id，校验重复 id 与未知工具
func (e *Executor) normalize(msg *session.Message) error {
	seen := make(map[string]bool, len(msg.ToolCalls))
	for i := range msg.ToolCalls {
		c := &msg.ToolCalls[i]
		if c.CallID == "" {
			c.CallID = "call_" + uuid.NewString()
		}
		if seen[c.CallID] {
			return fmt.Errorf("%w: duplicate call_id %q", ErrInvalidProposal, c.CallID)
		}
		seen[c.CallID] = true
		if !e.catalog.Has(c.ToolName) {
			return fmt.Errorf("%w: unknown tool %q", ErrInvalidProposal, c.ToolName)
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
	}
	return nil
}
