package turn

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"hitl-agent/internal/runtime/session"
)

// RuleModelName 规则模型名称
const RuleModelName = "rule"

var (
	arithmeticRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([-+*/x×÷])\s*(-?\d+(?:\.\d+)?)`)
	hotelRe      = regexp.MustCompile(`(?i)(?:book|预订|订)\s*(?:a\s+)?(?:hotel|酒店)\s*(?:at|in|:|：)?\s*(.+)`)
)

// RuleModel 规则模型：不调用 LLM，按固定规则产生工具调用或回答。未配置 LLM 时使用，便于离线调试与测试
//
//   - 用户消息含算式（如 5*3）且有 calculator 工具：提议 calculator 调用
//   - 用户消息形如 "book hotel X" 且有 book_hotel 工具：提议 book_hotel 调用
//   - 最近为工具结果：汇总结果作为最终回答；被拒绝或人工回复时确认反馈
type RuleModel struct{}

// NewRuleModel 创建规则模型
func NewRuleModel() *RuleModel { return &RuleModel{} }

// Name 实现 Model
func (m *RuleModel) Name() string { return RuleModelName }

// Generate 实现 Model
func (m *RuleModel) Generate(ctx context.Context, transcript []session.Message, tools []*schema.ToolInfo) (session.Message, error) {
	if err := ctx.Err(); err != nil {
		return session.Message{}, err
	}
	last := -1
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role != session.RoleSystem {
			last = i
			break
		}
	}
	if last < 0 {
		return session.Message{Role: session.RoleAssistant, Content: "How can I help you?"}, nil
	}
	switch transcript[last].Role {
	case session.RoleTool:
		return m.summarize(transcript, last), nil
	case session.RoleUser:
		return m.propose(transcript[last].Content, tools), nil
	}
	return session.Message{Role: session.RoleAssistant, Content: transcript[last].Content}, nil
}

func (m *RuleModel) propose(query string, tools []*schema.ToolInfo) session.Message {
	available := make(map[string]bool, len(tools))
	for _, t := range tools {
		available[t.Name] = true
	}
	msg := session.Message{Role: session.RoleAssistant}
	if available["calculator"] {
		for _, match := range arithmeticRe.FindAllStringSubmatch(query, -1) {
			a, _ := strconv.ParseFloat(match[1], 64)
			b, _ := strconv.ParseFloat(match[3], 64)
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCallProposal{
				ToolName:  "calculator",
				Arguments: map[string]any{"a": a, "b": b, "op": normalizeOp(match[2])},
			})
		}
	}
	if available["book_hotel"] {
		if match := hotelRe.FindStringSubmatch(query); match != nil {
			name := strings.TrimRight(strings.TrimSpace(match[1]), ".!?。！？")
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCallProposal{
				ToolName:  "book_hotel",
				Arguments: map[string]any{"hotel_name": name},
			})
		}
	}
	if len(msg.ToolCalls) == 0 {
		msg.Content = "I can't help with that: " + query
	}
	return msg
}

// summarize 汇总最近一条 assistant 消息之后的工具结果
func (m *RuleModel) summarize(transcript []session.Message, last int) session.Message {
	start := last
	for start > 0 && transcript[start-1].Role == session.RoleTool {
		start--
	}
	var parts []string
	for _, t := range transcript[start : last+1] {
		switch {
		case t.Resolution == session.ResolutionReject:
			parts = append(parts, fmt.Sprintf("Understood, I did not run %s. Your feedback: %s", t.Name, t.Content))
		case t.Resolution == session.ResolutionRespond:
			parts = append(parts, fmt.Sprintf("Noted your answer for %s: %s", t.Name, t.Content))
		case t.Failed:
			parts = append(parts, fmt.Sprintf("%s failed: %s", t.Name, t.Content))
		default:
			parts = append(parts, fmt.Sprintf("The result of %s is %s.", t.Name, t.Content))
		}
	}
	return session.Message{Role: session.RoleAssistant, Content: strings.Join(parts, "\n")}
}

func normalizeOp(op string) string {
	switch op {
	case "x", "×":
		return "*"
	case "÷":
		return "/"
	}
	return op
}
