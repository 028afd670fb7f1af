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

// Package llm 根据配置创建 eino ChatModel，并提供 Provider 维度限流包装。
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"hitl-agent/pkg/config"
)

// Selection 解析后的模型选择
type Selection struct {
	Provider string
	ModelKey string
	Name     string
	BaseURL  string
	APIKey   string
	Info     config.ModelInfo
}

// ParseDefaultKey 解析 provider.model_key
func ParseDefaultKey(key string) (provider, modelKey string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("default key 格式应为 provider.model_key，如 openai.gpt_4o，当前: %q", key)
	}
	return parts[0], parts[1], nil
}

// Resolve 从配置中解析默认 LLM；Defaults.LLM 为空时返回 nil
func Resolve(cfg config.ModelConfig) (*Selection, error) {
	if cfg.Defaults.LLM == "" {
		return nil, nil
	}
	provider, modelKey, err := ParseDefaultKey(cfg.Defaults.LLM)
	if err != nil {
		return nil, err
	}
	pc, ok := cfg.LLM.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("LLM provider %q not configured", provider)
	}
	mi, ok := pc.Models[modelKey]
	if !ok {
		return nil, fmt.Errorf("LLM model %q not configured in provider %q", modelKey, provider)
	}
	if pc.APIKey == "" {
		return nil, fmt.Errorf("LLM provider %q api_key not configured", provider)
	}
	name := mi.Name
	if name == "" {
		name = modelKey
	}
	return &Selection{
		Provider: provider,
		ModelKey: modelKey,
		Name:     name,
		BaseURL:  pc.BaseURL,
		APIKey:   pc.APIKey,
		Info:     mi,
	}, nil
}

// NewChatModel 创建 OpenAI 兼容的 ChatModel（openai / qwen / deepseek 等均走 base_url）
func NewChatModel(ctx context.Context, sel *Selection, timeout time.Duration) (model.ToolCallingChatModel, error) {
	if sel == nil {
		return nil, fmt.Errorf("LLM selection is nil")
	}
	mc := &openai.ChatModelConfig{
		Model:   sel.Name,
		APIKey:  sel.APIKey,
		BaseURL: sel.BaseURL,
		Timeout: timeout,
	}
	if sel.Info.Temperature > 0 {
		t := float32(sel.Info.Temperature)
		mc.Temperature = &t
	}
	if sel.Info.MaxTokens > 0 {
		n := sel.Info.MaxTokens
		mc.MaxTokens = &n
	}
	chatModel, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("创建 OpenAI ChatModel failed: %w", err)
	}
	return chatModel, nil
}
