package session

import (
	"time"
)

// Status 会话状态
type Status string

const (
	StatusActive         Status = "ACTIVE"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
	StatusDone           Status = "DONE"
	StatusFailed         Status = "FAILED"
	// StatusExpired 仅作为逻辑状态出现在查询结果中，不会被持久化
	StatusExpired Status = "EXPIRED"
)

// Terminal DONE / FAILED 对一次运行而言是终态
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Valid 可持久化的状态
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAwaitingReview, StatusDone, StatusFailed:
		return true
	}
	return false
}

// transitions 状态转移表；"" 表示尚未运行过的新会话。
// DONE/FAILED -> ACTIVE 仅在新的 invoke 于同一会话上开始新一轮运行时发生。
var transitions = map[Status][]Status{
	"":                   {StatusActive},
	StatusActive:         {StatusActive, StatusAwaitingReview, StatusDone, StatusFailed},
	StatusAwaitingReview: {StatusActive},
	StatusDone:           {StatusActive},
	StatusFailed:         {StatusActive},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ReviewPolicy 工具审核策略
type ReviewPolicy string

const (
	PolicyRequireApproval ReviewPolicy = "REQUIRE_APPROVAL"
	PolicyAuto            ReviewPolicy = "AUTO"
)

// PendingCall 挂起 Turn 中的一个提议；Executed 表示 AUTO 调用已在挂起前执行
type PendingCall struct {
	Proposal ToolCallProposal `json:"proposal"`
	Policy   ReviewPolicy     `json:"review_policy"`
	Executed bool             `json:"executed,omitempty"`
}

// PendingInterrupt 等待人工审核的 Turn，覆盖该 Turn 的全部提议
type PendingInterrupt struct {
	ID        string        `json:"interrupt_id"`
	Calls     []PendingCall `json:"calls"`
	CreatedAt time.Time     `json:"created_at"`
}

// Find 按 call_id 查找
func (p *PendingInterrupt) Find(callID string) (PendingCall, bool) {
	if p == nil {
		return PendingCall{}, false
	}
	for _, c := range p.Calls {
		if c.Proposal.CallID == callID {
			return c, true
		}
	}
	return PendingCall{}, false
}

// AwaitingDecision 需要人工决策的调用（REQUIRE_APPROVAL 且未执行）
func (p *PendingInterrupt) AwaitingDecision() []PendingCall {
	if p == nil {
		return nil
	}
	var out []PendingCall
	for _, c := range p.Calls {
		if c.Policy == PolicyRequireApproval && !c.Executed {
			out = append(out, c)
		}
	}
	return out
}

func (p *PendingInterrupt) clone() *PendingInterrupt {
	if p == nil {
		return nil
	}
	out := *p
	out.Calls = make([]PendingCall, len(p.Calls))
	for i, c := range p.Calls {
		out.Calls[i] = PendingCall{
			Proposal: c.Proposal.WithArguments(c.Proposal.Arguments),
			Policy:   c.Policy,
			Executed: c.Executed,
		}
	}
	return &out
}
