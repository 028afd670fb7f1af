package orchestrator

import (
	"time"

	"hitl-agent/internal/agent/review"
	"hitl-agent/internal/runtime/session"
)

// InvokeRequest 发起一次运行
type InvokeRequest struct {
	UserID    string
	SessionID string
	Query     string
	// SystemMessage 仅在新建会话时生效，为空使用配置的默认系统提示
	SystemMessage string
	// ExpectedVersion 非 0 时须与会话当前版本一致
	ExpectedVersion int64
}

// ResumeRequest 提交一批审核决策并继续运行
type ResumeRequest struct {
	UserID    string
	SessionID string
	// InterruptID 非空时须与当前中断一致；等于最近一次已应用的中断时按重放处理
	InterruptID     string
	Decisions       []review.Decision
	ExpectedVersion int64
}

// Result invoke/resume 的结果
type Result struct {
	UserID           string                    `json:"user_id"`
	SessionID        string                    `json:"session_id"`
	Status           session.Status            `json:"status"`
	Version          int64                     `json:"version"`
	AssistantMessage *session.Message          `json:"assistant_message,omitempty"`
	PendingReview    *session.PendingInterrupt `json:"pending_review,omitempty"`
	Error            *session.Failure          `json:"error,omitempty"`
	// Replayed 为 true 表示重复提交已应用的决策，返回的是当前状态
	Replayed bool `json:"replayed,omitempty"`
}

// Summary 会话摘要
type Summary struct {
	UserID           string                    `json:"user_id"`
	SessionID        string                    `json:"session_id"`
	Status           session.Status            `json:"status"`
	Version          int64                     `json:"version"`
	TranscriptLength int                       `json:"transcript_length"`
	RunTurns         int                       `json:"run_turns"`
	PendingReview    *session.PendingInterrupt `json:"pending_review,omitempty"`
	LastMessage      *session.Message          `json:"last_message,omitempty"`
	Error            *session.Failure          `json:"error,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
	ExpiresAt        time.Time                 `json:"expires_at"`
	Transcript       []session.Message         `json:"transcript,omitempty"`
}

// SystemInfo 服务概况
type SystemInfo struct {
	SessionCount int                 `json:"session_count"`
	Users        map[string][]string `json:"users"`
	Model        string              `json:"model"`
	MaxTurns     int                 `json:"max_turns"`
}

func resultOf(s *session.Session) *Result {
	r := &Result{
		UserID:        s.UserID,
		SessionID:     s.SessionID,
		Status:        s.Status,
		Version:       s.Version,
		PendingReview: s.PendingInterrupt,
		Error:         s.Failure,
	}
	if s.Status == session.StatusDone {
		r.AssistantMessage = lastAssistant(s.Transcript)
	}
	return r
}

func summaryOf(s *session.Session, withTranscript bool) *Summary {
	sum := &Summary{
		UserID:           s.UserID,
		SessionID:        s.SessionID,
		Status:           s.Status,
		Version:          s.Version,
		TranscriptLength: len(s.Transcript),
		RunTurns:         s.RunTurns,
		PendingReview:    s.PendingInterrupt,
		Error:            s.Failure,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		ExpiresAt:        s.ExpiresAt(),
	}
	if n := len(s.Transcript); n > 0 {
		m := s.Transcript[n-1]
		sum.LastMessage = &m
	}
	if withTranscript {
		sum.Transcript = s.Transcript
	}
	return sum
}

func lastAssistant(msgs []session.Message) *session.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == session.RoleAssistant {
			m := msgs[i]
			return &m
		}
	}
	return nil
}
