package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	pkgerrors "hitl-agent/pkg/errors"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorBody 错误响应；status/version 为会话当前权威状态，可据此决定是否重试
type errorBody struct {
	Error   errorDetail `json:"error"`
	Status  string      `json:"status,omitempty"`
	Version int64       `json:"version,omitempty"`
}

func httpStatus(code string) int {
	switch code {
	case pkgerrors.CodeValidation, pkgerrors.CodeIncompleteBatch:
		return consts.StatusBadRequest
	case pkgerrors.CodeNotFound, pkgerrors.CodeSessionExpired:
		return consts.StatusNotFound
	case pkgerrors.CodeStaleInterrupt, pkgerrors.CodeConcurrentModification,
		pkgerrors.CodePendingReview, pkgerrors.CodeRunInProgress:
		return consts.StatusConflict
	default:
		return consts.StatusInternalServerError
	}
}

func writeError(ctx context.Context, c *app.RequestContext, err error) {
	code := pkgerrors.Code(err)
	status := httpStatus(code)
	body := errorBody{Error: errorDetail{Code: code, Message: err.Error()}}
	if st, ver, ok := pkgerrors.StateOf(err); ok {
		body.Status, body.Version = st, ver
	}
	if status == consts.StatusInternalServerError {
		hlog.CtxErrorf(ctx, "%s %s failed: %v", c.Method(), c.Path(), err)
		body.Error.Message = "internal error"
	} else {
		hlog.CtxWarnf(ctx, "%s %s rejected: code=%s err=%v", c.Method(), c.Path(), code, err)
	}
	c.JSON(status, body)
}
