package turn

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hitl-agent/internal/runtime/session"
)

func toolInfos(names ...string) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		out = append(out, &schema.ToolInfo{Name: n})
	}
	return out
}

func TestRuleModel_ProposesCalculator(t *testing.T) {
	m := NewRuleModel()
	msg, err := m.Generate(context.Background(), []session.Message{
		session.SystemMessage("sys", t0),
		session.UserMessage("What's 5*3", t0),
	}, toolInfos("calculator"))
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "calculator", msg.ToolCalls[0].ToolName)
	assert.Equal(t, map[string]any{"a": 5.0, "b": 3.0, "op": "*"}, msg.ToolCalls[0].Arguments)
}

func TestRuleModel_MultipleExpressions(t *testing.T) {
	msg, err := NewRuleModel().Generate(context.Background(), []session.Message{
		session.UserMessage("compute 2+2 and 10 ÷ 4", t0),
	}, toolInfos("calculator"))
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "/", msg.ToolCalls[1].Arguments["op"])
}

func TestRuleModel_Hotel(t *testing.T) {
	msg, err := NewRuleModel().Generate(context.Background(), []session.Message{
		session.UserMessage("please book hotel at Hilton.", t0),
	}, toolInfos("calculator", "book_hotel"))
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "Hilton", msg.ToolCalls[0].Arguments["hotel_name"])
}

func TestRuleModel_NoToolAvailable(t *testing.T) {
	msg, err := NewRuleModel().Generate(context.Background(), []session.Message{
		session.UserMessage("What's 5*3", t0),
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, msg.ToolCalls)
	assert.Contains(t, msg.Content, "5*3")
}

func TestRuleModel_Summaries(t *testing.T) {
	call := session.ToolCallProposal{CallID: "c1", ToolName: "calculator"}
	base := []session.Message{
		session.UserMessage("What's 5*3", t0),
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCallProposal{call}},
	}

	accepted := append(append([]session.Message{}, base...), session.ToolMessage(call, "15", session.ResolutionAccept, false, t0))
	msg, err := NewRuleModel().Generate(context.Background(), accepted, nil)
	require.NoError(t, err)
	assert.Empty(t, msg.ToolCalls)
	assert.Contains(t, msg.Content, "15")

	rejected := append(append([]session.Message{}, base...), session.ToolMessage(call, "don't need that", session.ResolutionReject, false, t0))
	msg, err = NewRuleModel().Generate(context.Background(), rejected, nil)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "did not run calculator")
	assert.Contains(t, msg.Content, "don't need that")
}

func TestRuleModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRuleModel().Generate(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingChat struct {
	input []*schema.Message
	tools []*schema.ToolInfo
	reply *schema.Message
}

func (c *recordingChat) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	c.input = input
	return c.reply, nil
}

func (c *recordingChat) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{c.reply}), nil
}

func (c *recordingChat) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	c.tools = tools
	return c, nil
}

func TestEinoModel_Conversion(t *testing.T) {
	chat := &recordingChat{reply: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: schema.FunctionCall{Name: "calculator", Arguments: `{"a":5,"b":3,"op":"*"}`},
	}})}
	m := NewEinoModel(chat, "gpt-4o")
	assert.Equal(t, "gpt-4o", m.Name())

	prev := session.ToolCallProposal{CallID: "c0", ToolName: "add", Arguments: map[string]any{"a": 1.0}}
	out, err := m.Generate(context.Background(), []session.Message{
		session.SystemMessage("sys", t0),
		session.UserMessage("q", t0),
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCallProposal{prev}},
		session.ToolMessage(prev, "1", session.ResolutionAuto, false, t0),
	}, toolInfos("calculator"))
	require.NoError(t, err)

	require.Len(t, chat.tools, 1)
	require.Len(t, chat.input, 4)
	assert.Equal(t, schema.System, chat.input[0].Role)
	assert.Equal(t, `{"a":1}`, chat.input[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, schema.Tool, chat.input[3].Role)
	assert.Equal(t, "c0", chat.input[3].ToolCallID)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].CallID)
	assert.Equal(t, 15.0, out.ToolCalls[0].Arguments["a"].(float64)*out.ToolCalls[0].Arguments["b"].(float64))
}

func TestFromSchemaMessage_BadArguments(t *testing.T) {
	_, err := FromSchemaMessage(schema.AssistantMessage("", []schema.ToolCall{{
		ID: "x", Function: schema.FunctionCall{Name: "add", Arguments: "{not json"},
	}}))
	assert.Error(t, err)
}
