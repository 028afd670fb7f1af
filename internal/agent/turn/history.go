package turn

import "hitl-agent/internal/runtime/session"

// PrepareHistory 生成发给模型的消息：去掉失败记录；保留开头的 system 消息与最近 limit 条，
// 窗口从 user 消息开始，不拆开工具调用与工具结果
func PrepareHistory(transcript []session.Message, limit int) []session.Message {
	msgs := make([]session.Message, 0, len(transcript))
	for _, m := range transcript {
		if m.Role == session.RoleSystem && m.Failed {
			continue
		}
		msgs = append(msgs, m)
	}
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}

	var head []session.Message
	body := msgs
	if msgs[0].Role == session.RoleSystem {
		head, body = msgs[:1], msgs[1:]
	}
	if len(body) <= limit {
		return msgs
	}
	start := windowStart(body, len(body)-limit)
	out := make([]session.Message, 0, len(head)+len(body)-start)
	out = append(out, head...)
	return append(out, body[start:]...)
}

// windowStart 窗口内有 user 消息时从第一条开始；否则回退到窗口前最近的 user 消息，
// 没有 user 消息时至少回退到开头工具结果所属的 assistant 消息
func windowStart(body []session.Message, start int) int {
	for i := start; i < len(body); i++ {
		if body[i].Role == session.RoleUser {
			return i
		}
	}
	for i := start - 1; i >= 0; i-- {
		if body[i].Role == session.RoleUser {
			return i
		}
	}
	for start > 0 && body[start].Role == session.RoleTool {
		start--
	}
	return start
}
