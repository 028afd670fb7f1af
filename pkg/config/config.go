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

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Model      ModelConfig      `mapstructure:"model"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
}

// RateLimitsConfig 限流配置（Tool + LLM）
type RateLimitsConfig struct {
	Tools map[string]ToolRateLimitConfig `mapstructure:"tools"`
	LLM   map[string]LLMRateLimitConfig  `mapstructure:"llm"`
}

// ToolRateLimitConfig 单个 Tool 的限流配置
type ToolRateLimitConfig struct {
	QPS           float64 `mapstructure:"qps"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	Burst         int     `mapstructure:"burst"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// AgentConfig 会话运行（编排循环、审核策略、超时）配置
type AgentConfig struct {
	MaxTurns          int          `mapstructure:"max_turns"`           // 单次运行最多 Turn 数，<=0 使用默认 10
	ModelTimeout      string       `mapstructure:"model_timeout"`       // 单次模型调用超时，如 "30s"
	ToolTimeout       string       `mapstructure:"tool_timeout"`        // 单次工具执行超时，如 "15s"
	RunLease          string       `mapstructure:"run_lease"`           // ACTIVE 运行租约时长，过期后可被新请求接管
	HistoryLimit      int          `mapstructure:"history_limit"`       // 发送给模型的最近消息条数，<=0 不裁剪
	SystemMessage     string       `mapstructure:"system_message"`      // 默认系统提示
	SystemMessageFile string       `mapstructure:"system_message_file"` // 非空时从文件读取系统提示，优先于 system_message
	Review            ReviewConfig `mapstructure:"review"`
}

// ReviewConfig 工具审核策略：REQUIRE_APPROVAL | AUTO
type ReviewConfig struct {
	DefaultPolicy string            `mapstructure:"default_policy"`
	Tools         map[string]string `mapstructure:"tools"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
	Grpc       GrpcConfig       `mapstructure:"grpc"`
}

// GrpcConfig gRPC 服务配置（健康检查）
type GrpcConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	RateLimit     bool   `mapstructure:"rate_limit"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
}

// WorkerConfig Worker 服务配置（会话索引清理）
type WorkerConfig struct {
	SweepSchedule string `mapstructure:"sweep_schedule"` // cron 表达式，如 "@every 5m"
	Timeout       string `mapstructure:"timeout"`        // 单次清理超时
}

// ModelConfig 模型配置
type ModelConfig struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// LLMConfig LLM 模型配置
type LLMConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	APIKey  string               `mapstructure:"api_key"`
	BaseURL string               `mapstructure:"base_url"`
	Models  map[string]ModelInfo `mapstructure:"models"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	Name          string  `mapstructure:"name"`
	ContextWindow int     `mapstructure:"context_window"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
}

// DefaultsConfig 默认模型配置，格式 provider.model_key；为空时使用规则模型
type DefaultsConfig struct {
	LLM string `mapstructure:"llm"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Session SessionStoreConfig `mapstructure:"session"`
	Memory  MemoryStoreConfig  `mapstructure:"memory"`
}

// SessionStoreConfig 会话状态存储配置
type SessionStoreConfig struct {
	Type           string `mapstructure:"type"` // memory | redis
	Addr           string `mapstructure:"addr"`
	DB             int    `mapstructure:"db"`
	Password       string `mapstructure:"password"`
	KeyPrefix      string `mapstructure:"key_prefix"`      // 默认 "hitl"
	TTL            string `mapstructure:"ttl"`             // 会话闲置过期时长，默认 "1h"
	IndexRetention string `mapstructure:"index_retention"` // 用户索引保留时长（用于识别已过期会话），默认 "24h"
	DialTimeout    string `mapstructure:"dial_timeout"`
	ReadTimeout    string `mapstructure:"read_timeout"`
}

// MemoryStoreConfig 长期记忆存储配置
type MemoryStoreConfig struct {
	Type     string `mapstructure:"type"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
	MinConns int    `mapstructure:"min_conns"`
	MaxConns int    `mapstructure:"max_conns"`
}

// SecretsConfig 密钥解析配置；配置值以 secret:// 开头时经此解析
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // env | vault | memory
	Config   map[string]string `mapstructure:"config"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool    `mapstructure:"enable"`
	ServiceName    string  `mapstructure:"service_name"`
	ExportEndpoint string  `mapstructure:"export_endpoint"`
	Insecure       bool    `mapstructure:"insecure"`
	SampleRatio    float64 `mapstructure:"sample_ratio"` // (0,1) 按比例采样，其余全采样
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// 默认值
const (
	DefaultMaxTurns       = 10
	DefaultModelTimeout   = 30 * time.Second
	DefaultToolTimeout    = 15 * time.Second
	DefaultRunLease       = 2 * time.Minute
	DefaultSessionTTL     = time.Hour
	DefaultIndexRetention = 24 * time.Hour
	DefaultSweepSchedule  = "@every 5m"
)

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	// 替换环境变量
	replaceEnvVars(&config)
	applyDefaults(&config)

	return &config, nil
}

// expandEnv 将 "${NAME}" 形式的值替换为环境变量，未设置时保留原值
func expandEnv(value string) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}
	envVar := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return value
}

// replaceEnvVars 替换配置中的环境变量
func replaceEnvVars(config *Config) {
	for provider, providerConfig := range config.Model.LLM.Providers {
		providerConfig.APIKey = expandEnv(providerConfig.APIKey)
		config.Model.LLM.Providers[provider] = providerConfig
	}
	config.Storage.Session.Password = expandEnv(config.Storage.Session.Password)
	config.Storage.Memory.DSN = expandEnv(config.Storage.Memory.DSN)
	config.API.Middleware.JWTKey = expandEnv(config.API.Middleware.JWTKey)
}

func applyDefaults(config *Config) {
	if config.Agent.MaxTurns <= 0 {
		config.Agent.MaxTurns = DefaultMaxTurns
	}
	if config.Agent.Review.DefaultPolicy == "" {
		config.Agent.Review.DefaultPolicy = "AUTO"
	}
	if config.Storage.Session.Type == "" {
		config.Storage.Session.Type = "memory"
	}
	if config.Storage.Session.KeyPrefix == "" {
		config.Storage.Session.KeyPrefix = "hitl"
	}
	if config.Storage.Memory.Type == "" {
		config.Storage.Memory.Type = "memory"
	}
	if config.Storage.Memory.MinConns <= 0 {
		config.Storage.Memory.MinConns = 5
	}
	if config.Storage.Memory.MaxConns <= 0 {
		config.Storage.Memory.MaxConns = 10
	}
	if config.Worker.SweepSchedule == "" {
		config.Worker.SweepSchedule = DefaultSweepSchedule
	}
}

// ParseDuration 解析时长字符串，空串或非法值返回 def
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// LoadAPIConfig 加载 API 配置（仅 configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadAPIConfigWithModel 加载 API 配置并合并 configs/model.yaml（不存在时使用规则模型）
func LoadAPIConfigWithModel() (*Config, error) {
	return loadWithModel("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（仅 configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}

// loadWithModel 加载主配置并合并同目录下的 model.yaml，避免 cwd 导致 model.yaml 未加载
func loadWithModel(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	modelPath := filepath.Join(filepath.Dir(path), "model.yaml")
	if abs, errAbs := filepath.Abs(path); errAbs == nil {
		modelPath = filepath.Join(filepath.Dir(abs), "model.yaml")
	}
	modelCfg, err := LoadConfig(modelPath)
	if err == nil {
		cfg.Model = modelCfg.Model
	} else {
		log.Printf("[config] 未加载 model 配置 %q，将使用规则模型: %v", modelPath, err)
	}
	return cfg, nil
}
