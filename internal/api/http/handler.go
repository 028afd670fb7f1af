package http

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"

	"hitl-agent/internal/agent/orchestrator"
	"hitl-agent/internal/agent/review"
	"hitl-agent/internal/api/http/middleware"
	pkgerrors "hitl-agent/pkg/errors"
	"hitl-agent/pkg/metrics"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler HTTP 处理器，所有业务经 orchestrator.Service
type Handler struct {
	svc *orchestrator.Service
}

// NewHandler 创建 HTTP 处理器
func NewHandler(svc *orchestrator.Service) *Handler {
	return &Handler{svc: svc}
}

type invokeRequest struct {
	UserID          string `json:"user_id" validate:"required,max=128"`
	SessionID       string `json:"session_id" validate:"required,max=128"`
	Query           string `json:"query" validate:"required"`
	SystemMessage   string `json:"system_message,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty" validate:"gte=0"`
}

type decisionRequest struct {
	CallID          string         `json:"call_id" validate:"required"`
	Action          string         `json:"action" validate:"required,oneof=accept reject edit respond"`
	EditedArguments map[string]any `json:"edited_arguments,omitempty"`
	FeedbackText    string         `json:"feedback_text,omitempty"`
}

type resumeRequest struct {
	UserID          string            `json:"user_id" validate:"required,max=128"`
	SessionID       string            `json:"session_id" validate:"required,max=128"`
	InterruptID     string            `json:"interrupt_id,omitempty"`
	Decisions       []decisionRequest `json:"decisions" validate:"required,min=1,dive"`
	ExpectedVersion int64             `json:"expected_version,omitempty" validate:"gte=0"`
}

type writeMemoryRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	Content   string `json:"content" validate:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// bind 解析并校验请求体；失败统一归为 ErrValidation
func bind(c *app.RequestContext, req any) error {
	if err := c.BindJSON(req); err != nil {
		return pkgerrors.Wrapf(pkgerrors.ErrValidation, "invalid request body: %v", err)
	}
	if err := validate.Struct(req); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrValidation, err.Error())
	}
	return nil
}

// owns 启用认证时，令牌用户须与请求体中的 user_id 一致
func owns(c *app.RequestContext, userID string) bool {
	id, ok := middleware.Identity(c)
	return !ok || id == userID
}

func forbidden(c *app.RequestContext) {
	c.JSON(consts.StatusForbidden, errorBody{Error: errorDetail{Code: "FORBIDDEN", Message: "user_id does not match token"}})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "hitl-agent",
	})
}

// Metrics Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// Invoke POST /agent/invoke
func (h *Handler) Invoke(ctx context.Context, c *app.RequestContext) {
	var req invokeRequest
	if err := bind(c, &req); err != nil {
		writeError(ctx, c, err)
		return
	}
	if !owns(c, req.UserID) {
		forbidden(c)
		return
	}
	res, err := h.svc.Invoke(ctx, orchestrator.InvokeRequest{
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		Query:           req.Query,
		SystemMessage:   req.SystemMessage,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// Resume POST /agent/resume
func (h *Handler) Resume(ctx context.Context, c *app.RequestContext) {
	var req resumeRequest
	if err := bind(c, &req); err != nil {
		writeError(ctx, c, err)
		return
	}
	if !owns(c, req.UserID) {
		forbidden(c)
		return
	}
	decisions := make([]review.Decision, 0, len(req.Decisions))
	for i, d := range req.Decisions {
		dec, err := review.Parse(d.CallID, d.Action, d.EditedArguments, d.FeedbackText)
		if err != nil {
			writeError(ctx, c, pkgerrors.Wrap(err, fmt.Sprintf("decisions[%d]", i)))
			return
		}
		decisions = append(decisions, dec)
	}
	res, err := h.svc.Resume(ctx, orchestrator.ResumeRequest{
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		InterruptID:     req.InterruptID,
		Decisions:       decisions,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// Status GET /agent/status/:user_id/:session_id[?transcript=true]
func (h *Handler) Status(ctx context.Context, c *app.RequestContext) {
	withTranscript := c.Query("transcript") == "true"
	sum, err := h.svc.Status(ctx, c.Param("user_id"), c.Param("session_id"), withTranscript)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, sum)
}

// ListSessions GET /agent/sessionids/:user_id
func (h *Handler) ListSessions(ctx context.Context, c *app.RequestContext) {
	userID := c.Param("user_id")
	ids, err := h.svc.ListSessions(ctx, userID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"user_id": userID, "session_ids": ids})
}

// ActiveSession GET /agent/active/sessionid/:user_id
func (h *Handler) ActiveSession(ctx context.Context, c *app.RequestContext) {
	userID := c.Param("user_id")
	id, err := h.svc.ActiveSession(ctx, userID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"user_id": userID, "active_session_id": id})
}

// DeleteSession DELETE /agent/session/:user_id/:session_id
func (h *Handler) DeleteSession(ctx context.Context, c *app.RequestContext) {
	userID, sessionID := c.Param("user_id"), c.Param("session_id")
	if err := h.svc.DeleteSession(ctx, userID, sessionID); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"user_id": userID, "session_id": sessionID, "deleted": true})
}

// WriteMemory POST /agent/write/longterm
func (h *Handler) WriteMemory(ctx context.Context, c *app.RequestContext) {
	var req writeMemoryRequest
	if err := bind(c, &req); err != nil {
		writeError(ctx, c, err)
		return
	}
	if !owns(c, req.UserID) {
		forbidden(c)
		return
	}
	rec, err := h.svc.WriteMemory(ctx, req.UserID, req.Content, req.SessionID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, rec)
}

// SystemInfo GET /system/info
func (h *Handler) SystemInfo(ctx context.Context, c *app.RequestContext) {
	info, err := h.svc.SystemInfo(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, info)
}
