package turn

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"hitl-agent/internal/runtime/session"
)

// EinoModel 将 eino ToolCallingChatModel 适配为 Model
type EinoModel struct {
	chat model.ToolCallingChatModel
	name string
}

// NewEinoModel 创建适配器
func NewEinoModel(chat model.ToolCallingChatModel, name string) *EinoModel {
	return &EinoModel{chat: chat, name: name}
}

// Name 实现 Model
func (m *EinoModel) Name() string { return m.name }

// Generate 实现 Model：绑定工具后单次调用 Generate
func (m *EinoModel) Generate(ctx context.Context, transcript []session.Message, tools []*schema.ToolInfo) (session.Message, error) {
	input, err := ToSchemaMessages(transcript)
	if err != nil {
		return session.Message{}, err
	}
	chat := m.chat
	if len(tools) > 0 {
		chat, err = m.chat.WithTools(tools)
		if err != nil {
			return session.Message{}, fmt.Errorf("bind tools: %w", err)
		}
	}
	out, err := chat.Generate(ctx, input)
	if err != nil {
		return session.Message{}, err
	}
	if out == nil {
		return session.Message{}, fmt.Errorf("empty model response")
	}
	return FromSchemaMessage(out)
}

// ToSchemaMessages session.Message -> schema.Message
func ToSchemaMessages(msgs []session.Message) ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case session.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case session.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case session.RoleTool:
			out = append(out, &schema.Message{
				Role:       schema.Tool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				ToolName:   m.Name,
			})
		case session.RoleAssistant:
			calls := make([]schema.ToolCall, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				args, err := json.Marshal(c.Arguments)
				if err != nil {
					return nil, fmt.Errorf("marshal arguments of %s: %w", c.CallID, err)
				}
				calls = append(calls, schema.ToolCall{
					ID:       c.CallID,
					Type:     "function",
					Function: schema.FunctionCall{Name: c.ToolName, Arguments: string(args)},
				})
			}
			out = append(out, schema.AssistantMessage(m.Content, calls))
		default:
			return nil, fmt.Errorf("unknown role %q", m.Role)
		}
	}
	return out, nil
}

// FromSchemaMessage schema.Message -> session.Message（assistant）
func FromSchemaMessage(m *schema.Message) (session.Message, error) {
	msg := session.Message{Role: session.RoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return session.Message{}, fmt.Errorf("tool call %s arguments: %w", tc.Function.Name, err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCallProposal{
			CallID:    tc.ID,
			ToolName:  tc.Function.Name,
			Arguments: args,
		})
	}
	return msg, nil
}
