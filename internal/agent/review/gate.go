package review

import (
	"time"

	"github.com/google/uuid"

	"hitl-agent/internal/runtime/session"
)

// Gate 审核闸门：按策略划分一次 Turn 的工具调用
type Gate struct {
	policy Policy
}

// NewGate 创建 Gate
func NewGate(p Policy) *Gate {
	return &Gate{policy: p}
}

// Partition 划分结果，两个切片均保持提议顺序
type Partition struct {
	Calls          []session.PendingCall
	Auto           []session.ToolCallProposal
	RequiresReview []session.ToolCallProposal
}

// Suspend 是否需要挂起等待人工审核
func (p Partition) Suspend() bool { return len(p.RequiresReview) > 0 }

// Classify 为每个提议确定审核策略
func (g *Gate) Classify(proposals []session.ToolCallProposal) Partition {
	var part Partition
	for _, p := range proposals {
		pol := g.policy.PolicyFor(p.ToolName)
		part.Calls = append(part.Calls, session.PendingCall{Proposal: p, Policy: pol})
		if pol == session.PolicyRequireApproval {
			part.RequiresReview = append(part.RequiresReview, p)
		} else {
			part.Auto = append(part.Auto, p)
		}
	}
	return part
}

// Interrupt 构造覆盖本 Turn 全部提议的中断；executed 为挂起前已执行的自动调用
func (p Partition) Interrupt(executed map[string]bool, now time.Time) *session.PendingInterrupt {
	calls := make([]session.PendingCall, len(p.Calls))
	for i, c := range p.Calls {
		calls[i] = session.PendingCall{
			Proposal: c.Proposal.WithArguments(c.Proposal.Arguments),
			Policy:   c.Policy,
			Executed: executed[c.Proposal.CallID],
		}
	}
	return &session.PendingInterrupt{
		ID:        "int_" + uuid.NewString(),
		Calls:     calls,
		CreatedAt: now,
	}
}
