package review

import (
	"fmt"
	"strings"

	"hitl-agent/internal/runtime/session"
	pkgerrors "hitl-agent/pkg/errors"
)

// Action 审核动作
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
	ActionRespond Action = "respond"
)

// Decision 针对单个 call_id 的审核决策；只有本包内的四种实现
type Decision interface {
	Target() string
	Action() Action
	check() error
}

// Accept 使用原参数执行工具
type Accept struct {
	CallID string
}

// Reject 不执行，Feedback 作为工具结果
type Reject struct {
	CallID   string
	Feedback string
}

// Edit 替换参数后执行
type Edit struct {
	CallID    string
	Arguments map[string]any
}

// Respond 不执行，直接以 Feedback 作为工具结果
type Respond struct {
	CallID   string
	Feedback string
}

func (d Accept) Target() string  { return d.CallID }
func (d Reject) Target() string  { return d.CallID }
func (d Edit) Target() string    { return d.CallID }
func (d Respond) Target() string { return d.CallID }

func (Accept) Action() Action  { return ActionAccept }
func (Reject) Action() Action  { return ActionReject }
func (Edit) Action() Action    { return ActionEdit }
func (Respond) Action() Action { return ActionRespond }

func (d Accept) check() error { return checkID(d.CallID) }
func (d Reject) check() error { return checkID(d.CallID) }

func (d Edit) check() error {
	if err := checkID(d.CallID); err != nil {
		return err
	}
	if d.Arguments == nil {
		return pkgerrors.Wrapf(pkgerrors.ErrValidation, "edit %s: arguments required", d.CallID)
	}
	return nil
}

func (d Respond) check() error {
	if err := checkID(d.CallID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Feedback) == "" {
		return pkgerrors.Wrapf(pkgerrors.ErrValidation, "respond %s: feedback required", d.CallID)
	}
	return nil
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return pkgerrors.Wrap(pkgerrors.ErrValidation, "call_id required")
	}
	return nil
}

// Parse 由传输层字段构造 Decision
func Parse(callID, action string, arguments map[string]any, feedback string) (Decision, error) {
	var d Decision
	switch Action(strings.ToLower(strings.TrimSpace(action))) {
	case ActionAccept:
		d = Accept{CallID: callID}
	case ActionReject:
		d = Reject{CallID: callID, Feedback: feedback}
	case ActionEdit:
		d = Edit{CallID: callID, Arguments: arguments}
	case ActionRespond:
		d = Respond{CallID: callID, Feedback: feedback}
	default:
		return nil, pkgerrors.Wrapf(pkgerrors.ErrValidation, "unknown action %q", action)
	}
	if err := d.check(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate 校验整批决策；任一失败则整批拒绝
//   - 空批次、重复 call_id、载荷不合法：ErrValidation
//   - call_id 不在当前中断中，或指向自动执行的调用：ErrStaleInterrupt
//   - 未覆盖全部待审核调用：ErrIncompleteBatch
func Validate(pending *session.PendingInterrupt, batch []Decision) error {
	if len(batch) == 0 {
		return pkgerrors.Wrap(pkgerrors.ErrValidation, "empty decision batch")
	}
	seen := make(map[string]bool, len(batch))
	for _, d := range batch {
		if d == nil {
			return pkgerrors.Wrap(pkgerrors.ErrValidation, "nil decision")
		}
		if err := d.check(); err != nil {
			return err
		}
		if seen[d.Target()] {
			return pkgerrors.Wrapf(pkgerrors.ErrValidation, "duplicate decision for call_id %s", d.Target())
		}
		seen[d.Target()] = true
	}
	if pending == nil {
		return pkgerrors.Wrap(pkgerrors.ErrStaleInterrupt, "no pending interrupt")
	}
	for _, d := range batch {
		call, ok := pending.Find(d.Target())
		if !ok {
			return pkgerrors.Wrapf(pkgerrors.ErrStaleInterrupt, "call_id %s is not pending", d.Target())
		}
		if call.Policy != session.PolicyRequireApproval || call.Executed {
			return pkgerrors.Wrapf(pkgerrors.ErrStaleInterrupt, "call_id %s does not await review", d.Target())
		}
	}
	var missing []string
	for _, c := range pending.AwaitingDecision() {
		if !seen[c.Proposal.CallID] {
			missing = append(missing, c.Proposal.CallID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", pkgerrors.ErrIncompleteBatch, strings.Join(missing, ", "))
	}
	return nil
}
