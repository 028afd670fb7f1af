package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hitl-agent/internal/runtime/session"
	"hitl-agent/internal/tool"
	pkgerrors "hitl-agent/pkg/errors"
	"hitl-agent/pkg/metrics"
)

// DefaultRejectFeedback reject 未附带反馈时写入的工具结果
const DefaultRejectFeedback = "The user rejected this tool call."

// FailureToolNotFound 应用决策时工具已不存在
const FailureToolNotFound = "TOOL_NOT_FOUND"

// Phase 决策应用阶段
type Phase string

const (
	PhaseAwaitingReview Phase = "AWAITING_REVIEW"
	PhaseApplying       Phase = "APPLYING"
	PhaseActive         Phase = "ACTIVE"
	PhaseFailed         Phase = "FAILED"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseAwaitingReview: {PhaseApplying},
	PhaseApplying:       {PhaseActive, PhaseFailed},
}

// ErrPhase 阶段迁移不合法
var ErrPhase = errors.New("review: illegal phase transition")

// Plan 已校验、按提议顺序排列的待应用决策
type Plan struct {
	Interrupt *session.PendingInterrupt
	steps     []step
	phase     Phase
}

type step struct {
	call     session.PendingCall
	decision Decision
}

// Phase 当前阶段
func (p *Plan) Phase() Phase { return p.phase }

func (p *Plan) advance(to Phase) error {
	for _, s := range phaseTransitions[p.phase] {
		if s == to {
			p.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrPhase, p.phase, to)
}

// Applier 决策应用器
type Applier struct {
	tools tool.Executor
	now   func() time.Time
}

// NewApplier 创建 Applier；now 为 nil 时使用 time.Now
func NewApplier(tools tool.Executor, now func() time.Time) *Applier {
	if now == nil {
		now = time.Now
	}
	return &Applier{tools: tools, now: now}
}

// Begin 校验决策批次并消费中断：会话 AWAITING_REVIEW -> ACTIVE，LastInterruptID 记为该中断。
// 校验失败时会话不变。调用方需先持久化（认领）再调用 Apply，保证一批决策至多执行一次
func (a *Applier) Begin(s *session.Session, batch []Decision) (*Plan, error) {
	if s.Status != session.StatusAwaitingReview || s.PendingInterrupt == nil {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrStaleInterrupt, "session is %s, not awaiting review", s.Status)
	}
	if err := Validate(s.PendingInterrupt, batch); err != nil {
		return nil, err
	}
	byID := make(map[string]Decision, len(batch))
	for _, d := range batch {
		byID[d.Target()] = d
	}
	pi := s.PendingInterrupt
	plan := &Plan{Interrupt: pi, phase: PhaseAwaitingReview}
	for _, c := range pi.Calls {
		if d, ok := byID[c.Proposal.CallID]; ok {
			plan.steps = append(plan.steps, step{call: c, decision: d})
		}
	}
	if err := plan.advance(PhaseApplying); err != nil {
		return nil, err
	}
	if err := s.Transition(session.StatusActive); err != nil {
		return nil, err
	}
	s.LastInterruptID = pi.ID
	return plan, nil
}

// Apply 依提议顺序应用决策，把工具结果追加到会话。工具报错或超时记为失败的工具消息，运行继续；
// 工具已不存在时阶段进入 FAILED，会话标记失败
func (a *Applier) Apply(ctx context.Context, s *session.Session, plan *Plan) (Phase, error) {
	if plan.phase != PhaseApplying {
		return plan.phase, fmt.Errorf("%w: apply in phase %s", ErrPhase, plan.phase)
	}
	var missing []string
	for _, st := range plan.steps {
		metrics.DecisionTotal.WithLabelValues(string(st.decision.Action())).Inc()
		var msg session.Message
		switch d := st.decision.(type) {
		case Accept:
			var err error
			msg, err = RunTool(ctx, a.tools, st.call.Proposal, session.ResolutionAccept, a.now)
			if errors.Is(err, tool.ErrToolNotFound) {
				missing = append(missing, st.call.Proposal.ToolName)
			}
		case Edit:
			var err error
			msg, err = RunTool(ctx, a.tools, st.call.Proposal.WithArguments(d.Arguments), session.ResolutionEdit, a.now)
			if errors.Is(err, tool.ErrToolNotFound) {
				missing = append(missing, st.call.Proposal.ToolName)
			}
		case Reject:
			feedback := d.Feedback
			if feedback == "" {
				feedback = DefaultRejectFeedback
			}
			msg = session.ToolMessage(st.call.Proposal, feedback, session.ResolutionReject, false, a.now())
		case Respond:
			msg = session.ToolMessage(st.call.Proposal, d.Feedback, session.ResolutionRespond, false, a.now())
		default:
			return plan.phase, fmt.Errorf("unsupported decision %T", d)
		}
		s.Append(msg)
	}
	if len(missing) > 0 {
		if err := plan.advance(PhaseFailed); err != nil {
			return plan.phase, err
		}
		if err := s.Fail(FailureToolNotFound, fmt.Sprintf("tool no longer registered: %v", missing)); err != nil {
			return plan.phase, err
		}
		return plan.phase, nil
	}
	if err := plan.advance(PhaseActive); err != nil {
		return plan.phase, err
	}
	return plan.phase, nil
}

// RunTool 执行一个工具调用并生成工具消息；失败时消息标记 Failed，同时返回原始错误供调用方判断
func RunTool(ctx context.Context, exec tool.Executor, p session.ToolCallProposal, res session.Resolution, now func() time.Time) (session.Message, error) {
	out, err := exec.Execute(tool.WithCallID(ctx, p.CallID), p.ToolName, p.Arguments)
	if err == nil {
		return session.ToolMessage(p, out, res, false, now()), nil
	}
	content := "tool error: " + err.Error()
	if errors.Is(err, pkgerrors.ErrExecutionTimeout) {
		content = "tool timed out: " + err.Error()
	}
	return session.ToolMessage(p, content, res, true, now()), err
}
