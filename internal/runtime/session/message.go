package session

import (
	"time"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Resolution 工具结果的来源；reject 与 respond 效果相同，仅供下游区分展示
type Resolution string

const (
	ResolutionAuto    Resolution = "auto"
	ResolutionAccept  Resolution = "accept"
	ResolutionEdit    Resolution = "edit"
	ResolutionReject  Resolution = "reject"
	ResolutionRespond Resolution = "respond"
	// ResolutionAbandoned 运行中断后未完成的调用
	ResolutionAbandoned Resolution = "abandoned"
)

// ToolCallProposal 模型提议的一次工具调用；call_id 在单个 Turn 内唯一
type ToolCallProposal struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// WithArguments 返回替换参数后的新提议（call_id 不变）
func (p ToolCallProposal) WithArguments(args map[string]any) ToolCallProposal {
	return ToolCallProposal{CallID: p.CallID, ToolName: p.ToolName, Arguments: cloneMap(args)}
}

// Message 对话记录中的一条消息，追加后不可修改
type Message struct {
	Role       Role               `json:"role"`
	Content    string             `json:"content"`
	ToolCalls  []ToolCallProposal `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Resolution Resolution         `json:"resolution,omitempty"`
	Failed     bool               `json:"failed,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// UserMessage 用户消息
func UserMessage(content string, at time.Time) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: at}
}

// SystemMessage 系统消息
func SystemMessage(content string, at time.Time) Message {
	return Message{Role: RoleSystem, Content: content, CreatedAt: at}
}

// FailureMessage 记录模型失败的系统消息，不会再发送给模型
func FailureMessage(content string, at time.Time) Message {
	return Message{Role: RoleSystem, Content: content, Failed: true, CreatedAt: at}
}

// ToolMessage 回答 call 的工具消息
func ToolMessage(call ToolCallProposal, content string, res Resolution, failed bool, at time.Time) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.CallID,
		Name:       call.ToolName,
		Resolution: res,
		Failed:     failed,
		CreatedAt:  at,
	}
}

func (m Message) clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCallProposal, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			out.ToolCalls[i] = c.WithArguments(c.Arguments)
		}
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
