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

// Package tool 定义工具执行协作者接口；具体注册与执行见 registry，内置工具见 builtin。
package tool

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"
)

// ErrToolNotFound 工具未注册
var ErrToolNotFound = errors.New("tool not found")

// Executor 工具执行：按名称与结构化参数执行，返回文本结果
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Catalog 可供模型选择的工具目录
type Catalog interface {
	Infos(ctx context.Context) ([]*schema.ToolInfo, error)
	Has(name string) bool
}

// Set 同时提供目录与执行能力
type Set interface {
	Catalog
	Executor
}

type callIDKey struct{}

// WithCallID 在 ctx 中携带当前执行的 call_id（用于追踪与日志）
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey{}, callID)
}

// CallIDFrom 取出 ctx 中的 call_id
func CallIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}
