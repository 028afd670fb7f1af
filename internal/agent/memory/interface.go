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

// Package memory 用户长期记忆：跨会话的事实记录，只追加不修改；
// 新会话开始时读取一次，拼入系统消息。
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgerrors "hitl-agent/pkg/errors"
)

// MaxContentLength 单条记忆内容上限（字节）
const MaxContentLength = 4096

// Record 一条长期记忆
type Record struct {
	UserID    string    `json:"user_id"`
	RecordID  string    `json:"record_id"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"` // 写入该记录的会话 ID，可为空
	CreatedAt time.Time `json:"created_at"`
}

// Store 长期记忆存储：追加与按用户列出（顺序无语义，按 created_at 升序返回仅为稳定）
type Store interface {
	Append(ctx context.Context, userID, content, source string) (Record, error)
	ListFor(ctx context.Context, userID string) ([]Record, error)
}

// validate 校验追加参数
func validate(userID, content string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("memory: empty user_id: %w", pkgerrors.ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("memory: empty content: %w", pkgerrors.ErrValidation)
	}
	if len(content) > MaxContentLength {
		return fmt.Errorf("memory: content exceeds %d bytes: %w", MaxContentLength, pkgerrors.ErrValidation)
	}
	return nil
}

// SeedContent 将长期记忆拼接到系统提示之后；无记录时原样返回
func SeedContent(systemMessage string, records []Record) string {
	if len(records) == 0 {
		return systemMessage
	}
	facts := make([]string, 0, len(records))
	for _, r := range records {
		facts = append(facts, strings.TrimSpace(r.Content))
	}
	return systemMessage + "\n我的附加信息有：" + strings.Join(facts, "；")
}
