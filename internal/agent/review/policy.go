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

// Package review 人工审核：Gate 按工具策略划分调用，Applier 校验并应用审核决策。
package review

import (
	"fmt"
	"strings"

	"hitl-agent/internal/runtime/session"
)

// Policy 工具审核策略来源
type Policy interface {
	PolicyFor(toolName string) session.ReviewPolicy
}

// StaticPolicy 静态配置的策略：按工具名查表，未命中使用 Default
type StaticPolicy struct {
	Default session.ReviewPolicy
	Tools   map[string]session.ReviewPolicy
}

// ParsePolicy 解析策略字符串（大小写不敏感）
func ParsePolicy(s string) (session.ReviewPolicy, error) {
	switch session.ReviewPolicy(strings.ToUpper(strings.TrimSpace(s))) {
	case session.PolicyRequireApproval:
		return session.PolicyRequireApproval, nil
	case session.PolicyAuto, "":
		return session.PolicyAuto, nil
	}
	return "", fmt.Errorf("unknown review policy %q", s)
}

// NewStaticPolicy 从配置创建策略
func NewStaticPolicy(defaultPolicy string, tools map[string]string) (*StaticPolicy, error) {
	def, err := ParsePolicy(defaultPolicy)
	if err != nil {
		return nil, err
	}
	p := &StaticPolicy{Default: def, Tools: make(map[string]session.ReviewPolicy, len(tools))}
	for name, v := range tools {
		pol, err := ParsePolicy(v)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		p.Tools[name] = pol
	}
	return p, nil
}

// PolicyFor 实现 Policy
func (p *StaticPolicy) PolicyFor(toolName string) session.ReviewPolicy {
	if pol, ok := p.Tools[toolName]; ok {
		return pol
	}
	if p.Default == "" {
		return session.PolicyAuto
	}
	return p.Default
}
