// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors 提供统一错误分类与辅助函数，不依赖 internal。
// 各包定义自己的错误时应以 %w 包装这里的哨兵错误，调用方统一用 errors.Is 判断类别。
package errors

import (
	"errors"
	"fmt"
)

// 错误分类哨兵
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrSessionExpired         = errors.New("session expired")
	ErrStaleInterrupt         = errors.New("stale interrupt")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrTurnLimitExceeded      = errors.New("turn limit exceeded")
	ErrExecutionTimeout       = errors.New("execution timeout")

	// ErrPendingReview 会话仍在等待人工审核，须先 resume
	ErrPendingReview = errors.New("session awaiting review")
	// ErrRunInProgress 另一请求持有未过期的运行租约
	ErrRunInProgress = fmt.Errorf("run in progress: %w", ErrConcurrentModification)
	// ErrIncompleteBatch 决策批次未覆盖全部待审核调用
	ErrIncompleteBatch = fmt.Errorf("decision batch does not cover all pending calls: %w", ErrValidation)
)

// 对外稳定错误码
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeSessionExpired         = "SESSION_EXPIRED"
	CodeStaleInterrupt         = "STALE_INTERRUPT"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeTurnLimitExceeded      = "TURN_LIMIT_EXCEEDED"
	CodeExecutionTimeout       = "EXECUTION_TIMEOUT"
	CodePendingReview          = "PENDING_REVIEW"
	CodeRunInProgress          = "RUN_IN_PROGRESS"
	CodeIncompleteBatch        = "INCOMPLETE_DECISION_BATCH"
	CodeInternal               = "INTERNAL_ERROR"
)

// Code 返回错误对应的对外错误码；更具体的哨兵优先匹配
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIncompleteBatch):
		return CodeIncompleteBatch
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStaleInterrupt):
		return CodeStaleInterrupt
	case errors.Is(err, ErrRunInProgress):
		return CodeRunInProgress
	case errors.Is(err, ErrConcurrentModification):
		return CodeConcurrentModification
	case errors.Is(err, ErrPendingReview):
		return CodePendingReview
	case errors.Is(err, ErrTurnLimitExceeded):
		return CodeTurnLimitExceeded
	case errors.Is(err, ErrExecutionTimeout):
		return CodeExecutionTimeout
	default:
		return CodeInternal
	}
}

// StateError 携带会话当前权威状态与版本的错误，便于调用方决定是否重试
type StateError struct {
	Err     error
	Status  string
	Version int64
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v (status=%s, version=%d)", e.Err, e.Status, e.Version)
}

func (e *StateError) Unwrap() error { return e.Err }

// WithState 为 err 附加会话状态；err 为 nil 时返回 nil
func WithState(err error, status string, version int64) error {
	if err == nil {
		return nil
	}
	return &StateError{Err: err, Status: status, Version: version}
}

// StateOf 取出错误链上的会话状态
func StateOf(err error) (status string, version int64, ok bool) {
	var se *StateError
	if errors.As(err, &se) {
		return se.Status, se.Version, true
	}
	return "", 0, false
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
