package orchestrator

import (
	"context"

	"hitl-agent/internal/agent/memory"
)

// Status 会话摘要；只读
func (s *Service) Status(ctx context.Context, userID, sessionID string, withTranscript bool) (*Summary, error) {
	if err := required("user_id", userID, "session_id", sessionID); err != nil {
		return nil, err
	}
	sess, err := s.sessions.Store().Load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return summaryOf(sess, withTranscript), nil
}

// ListSessions 按最近更新倒序列出会话 ID
func (s *Service) ListSessions(ctx context.Context, userID string) ([]string, error) {
	if err := required("user_id", userID); err != nil {
		return nil, err
	}
	ids, err := s.sessions.Store().List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ActiveSession 最近一个非终态会话 ID，没有时为空串
func (s *Service) ActiveSession(ctx context.Context, userID string) (string, error) {
	if err := required("user_id", userID); err != nil {
		return "", err
	}
	return s.sessions.Store().ActiveOf(ctx, userID)
}

// DeleteSession 删除会话；进行中的运行随后提交会因版本冲突失败
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := required("user_id", userID, "session_id", sessionID); err != nil {
		return err
	}
	if err := s.sessions.Store().Delete(ctx, userID, sessionID); err != nil {
		return err
	}
	s.logger.Info("会话已删除", "user_id", userID, "session_id", sessionID)
	return nil
}

// WriteMemory 追加一条长期记忆；source 为写入来源会话，可为空
func (s *Service) WriteMemory(ctx context.Context, userID, content, source string) (memory.Record, error) {
	rec, err := s.memory.Append(ctx, userID, content, source)
	if err != nil {
		return memory.Record{}, err
	}
	s.logger.Info("写入长期记忆", "user_id", userID, "record_id", rec.RecordID)
	return rec, nil
}

// SystemInfo 会话统计与运行配置
func (s *Service) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	st, err := s.sessions.Store().Stats(ctx)
	if err != nil {
		return nil, err
	}
	users := st.Users
	if users == nil {
		users = map[string][]string{}
	}
	return &SystemInfo{
		SessionCount: st.SessionCount,
		Users:        users,
		Model:        s.turns.ModelName(),
		MaxTurns:     s.cfg.MaxTurns,
	}, nil
}
