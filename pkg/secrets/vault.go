// Copyright 2026 fanjia1024
// HashiCorp Vault secret store

package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault 配置
type VaultConfig struct {
	Address    string // Vault server address (e.g., http://vault:8200)
	Token      string // Vault token；为空时使用 VAULT_TOKEN
	PathPrefix string // 挂载路径，默认 "secret"
	KVVersion  string // "1" | "2"，默认 "2"
}

type vaultStore struct {
	client     *vault.Client
	pathPrefix string
	kvV2       bool
}

// NewVaultStore 创建 Vault secret store
func NewVaultStore(config VaultConfig) (Store, error) {
	cfg := vault.DefaultConfig()
	if config.Address != "" {
		cfg.Address = config.Address
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}

	prefix := "secret"
	if config.PathPrefix != "" {
		prefix = strings.Trim(config.PathPrefix, "/")
	}
	return &vaultStore{
		client:     client,
		pathPrefix: prefix,
		kvV2:       config.KVVersion != "1",
	}, nil
}

// Get 读取 key；key 可带 "#field" 指定字段，默认读取 value 字段
func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	path, field := key, "value"
	if i := strings.LastIndex(key, "#"); i > 0 {
		path, field = key[:i], key[i+1:]
	}

	secret, err := v.client.Logical().ReadWithContext(ctx, v.buildPath(path))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}

	data := secret.Data
	if v.kvV2 {
		inner, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
		}
		data = inner
	}
	if val, ok := data[field].(string); ok {
		return val, nil
	}
	return "", fmt.Errorf("%s field %q: %w", path, field, ErrSecretNotFound)
}

func (v *vaultStore) buildPath(key string) string {
	if v.kvV2 {
		return fmt.Sprintf("%s/data/%s", v.pathPrefix, key)
	}
	return fmt.Sprintf("%s/%s", v.pathPrefix, key)
}
