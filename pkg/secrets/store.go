// Copyright 2026 fanjia1024
// Secret resolution for configuration values

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RefPrefix 配置值以此开头时视为密钥引用，如 secret://llm/openai_api_key
const RefPrefix = "secret://"

// ErrSecretNotFound 密钥不存在
var ErrSecretNotFound = errors.New("secret not found")

// Store 只读 Secret 存储接口
type Store interface {
	// Get 获取 secret 值，不存在时返回 ErrSecretNotFound
	Get(ctx context.Context, key string) (string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string            `mapstructure:"provider"` // vault | env | memory
	Config   map[string]string `mapstructure:"config"`   // Provider-specific config
}

// NewStore 创建 Secret Store；Provider 为空时使用 env
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(config.Config), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.Config["address"],
			Token:      config.Config["token"],
			PathPrefix: config.Config["path_prefix"],
			KVVersion:  config.Config["kv_version"],
		})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

// IsRef 判断配置值是否为密钥引用
func IsRef(value string) bool {
	return strings.HasPrefix(value, RefPrefix)
}

// Resolve 解析配置值：密钥引用从 store 读取，其余原样返回
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	if store == nil {
		return "", fmt.Errorf("resolve %q: no secret store configured", value)
	}
	key := strings.TrimPrefix(value, RefPrefix)
	if key == "" {
		return "", fmt.Errorf("resolve %q: empty secret key", value)
	}
	v, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", value, err)
	}
	return v, nil
}
