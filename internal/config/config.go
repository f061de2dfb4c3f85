package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 ChatGate 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Providers ProvidersConfig `json:"providers"`
	Chat      ChatConfig      `json:"chat"`
	Storage   StorageConfig   `json:"storage"`
	JobQueue  JobQueueConfig  `json:"job_queue"`
	Cache     CacheConfig     `json:"cache"`
	Prompts   PromptsConfig   `json:"prompts"`
	Auth      AuthConfig      `json:"auth"`
	Log       LogConfig       `json:"log"`
	Plugins   PluginsConfig   `json:"plugins"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// ProvidersConfig 汇总各家 AI 服务的接入参数。
type ProvidersConfig struct {
	Default string        `json:"default"`
	OpenAI  OpenAIConfig  `json:"openai"`
	Azure   AzureConfig   `json:"azure"`
	Command CommandConfig `json:"command"`
}

// OpenAIConfig 描述访问 OpenAI 接口所需的参数。
type OpenAIConfig struct {
	APIKey              string `json:"api_key"`
	APIKeyEnv           string `json:"api_key_env"`
	BaseURL             string `json:"base_url"`
	ChatModel           string `json:"chat_model"`
	ImageModel          string `json:"image_model"`
	SpeechModel         string `json:"speech_model"`
	SpeechVoice         string `json:"speech_voice"`
	TranscribeModel     string `json:"transcribe_model"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

// AzureConfig 汇总 Azure 认知服务的接入参数。
type AzureConfig struct {
	Language   AzureLanguageConfig   `json:"language"`
	Translator AzureTranslatorConfig `json:"translator"`
}

// AzureLanguageConfig 描述 Azure 语言分析服务的接入信息。
type AzureLanguageConfig struct {
	Endpoint            string `json:"endpoint"`
	APIKey              string `json:"api_key"`
	APIKeyEnv           string `json:"api_key_env"`
	APIVersion          string `json:"api_version"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

// AzureTranslatorConfig 描述 Azure 翻译服务的接入信息。
type AzureTranslatorConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	Region         string `json:"region"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// CommandConfig 描述通过外部命令完成补全时所需的信息。
type CommandConfig struct {
	Enabled    bool     `json:"enabled"`
	ExecPath   string   `json:"exec_path"`
	Args       []string `json:"args"`
	WorkingDir string   `json:"working_dir"`
}

// ChatConfig 控制对话服务的行为。
type ChatConfig struct {
	MemoryDepth    int `json:"memory_depth"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	History  HistoryConfig  `json:"history"`
	JobStore JobStoreConfig `json:"job_store"`
}

// HistoryConfig 描述对话历史的存储后端。
type HistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// JobStoreConfig 描述异步作业的存储后端。
type JobStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	Retries                int    `json:"retries"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// JobQueueConfig 描述作业队列的驱动与工作协程数量。
type JobQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// CacheConfig 描述补全结果缓存的开关与 Redis 连接。
type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// PromptsConfig 描述系统提示词预设的来源。
type PromptsConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// AuthConfig 描述访问控制的模式与密钥。
type AuthConfig struct {
	Mode      string          `json:"mode"`
	JWT       JWTConfig       `json:"jwt"`
	OAuth     OAuthConfig     `json:"oauth"`
	Store     AuthStoreConfig `json:"store"`
	AuditLog  string          `json:"audit_log"`
	Bootstrap []BootstrapUser `json:"bootstrap"`
}

// JWTConfig 描述本地签发 JWT 的参数。
type JWTConfig struct {
	Secret       string `json:"secret"`
	SecretEnv    string `json:"secret_env"`
	Issuer       string `json:"issuer"`
	TTLSeconds   int    `json:"ttl_seconds"`
	AllowRefresh bool   `json:"allow_refresh"`
}

// OAuthConfig 描述外部令牌校验端点。
type OAuthConfig struct {
	IntrospectionURL string `json:"introspection_url"`
	ClientID         string `json:"client_id"`
	ClientSecret     string `json:"client_secret"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

// AuthStoreConfig 描述用户凭证的存储后端。
type AuthStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// BootstrapUser 描述启动时注入的初始用户。
type BootstrapUser struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Scopes   []string `json:"scopes"`
}

// LogConfig 控制结构化日志的输出方式。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// PluginsConfig 描述插件清单文件的位置。
type PluginsConfig struct {
	Manifest string `json:"manifest"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Providers.Default == "" {
		c.Providers.Default = "openai"
	}
	if c.Providers.OpenAI.APIKeyEnv == "" {
		c.Providers.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Providers.Azure.Language.APIKeyEnv == "" {
		c.Providers.Azure.Language.APIKeyEnv = "AZURE_LANGUAGE_KEY"
	}
	if c.Providers.Azure.Translator.APIKeyEnv == "" {
		c.Providers.Azure.Translator.APIKeyEnv = "AZURE_TRANSLATOR_KEY"
	}
	if c.Providers.Command.WorkingDir == "" {
		c.Providers.Command.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.Providers.Command.WorkingDir) {
		c.Providers.Command.WorkingDir = filepath.Join(baseDir, c.Providers.Command.WorkingDir)
	}

	if c.Chat.MemoryDepth <= 0 {
		c.Chat.MemoryDepth = 8
	}
	if c.Chat.TimeoutSeconds <= 0 {
		c.Chat.TimeoutSeconds = 60
	}

	if c.Storage.History.Driver == "" {
		c.Storage.History.Driver = "memory"
	}
	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}
	if c.Storage.JobStore.Retries < 0 {
		c.Storage.JobStore.Retries = 0
	}

	if c.JobQueue.Driver == "" {
		c.JobQueue.Driver = "memory"
	}
	if c.JobQueue.Worker <= 0 {
		c.JobQueue.Worker = 2
	}
	if c.JobQueue.Redis.Queue == "" {
		c.JobQueue.Redis.Queue = "chatgate:jobs"
	}
	if c.JobQueue.Redis.BlockWaitSeconds <= 0 {
		c.JobQueue.Redis.BlockWaitSeconds = 5
	}
	if c.JobQueue.RabbitMQ.Queue == "" {
		c.JobQueue.RabbitMQ.Queue = "chatgate.jobs"
	}
	if c.JobQueue.RabbitMQ.Prefetch <= 0 {
		c.JobQueue.RabbitMQ.Prefetch = 8
	}

	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 300
	}

	if c.Prompts.MaxResults <= 0 {
		c.Prompts.MaxResults = 3
	}
	if c.Prompts.Source != "" && !filepath.IsAbs(c.Prompts.Source) {
		c.Prompts.Source = filepath.Join(baseDir, c.Prompts.Source)
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = "chatgate"
	}
	if c.Auth.JWT.TTLSeconds <= 0 {
		c.Auth.JWT.TTLSeconds = 3600
	}
	if c.Auth.Store.Driver == "" {
		c.Auth.Store.Driver = "memory"
	}
	if c.Auth.OAuth.TimeoutSeconds <= 0 {
		c.Auth.OAuth.TimeoutSeconds = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Plugins.Manifest != "" && !filepath.IsAbs(c.Plugins.Manifest) {
		c.Plugins.Manifest = filepath.Join(baseDir, c.Plugins.Manifest)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// ResolveOpenAIKey 返回 OpenAI 的 API Key，优先使用配置文件中的值。
func (c *Config) ResolveOpenAIKey() string {
	if c.Providers.OpenAI.APIKey != "" {
		return c.Providers.OpenAI.APIKey
	}
	return os.Getenv(c.Providers.OpenAI.APIKeyEnv)
}

// ResolveAzureLanguageKey 返回 Azure 语言服务的 API Key。
func (c *Config) ResolveAzureLanguageKey() string {
	if c.Providers.Azure.Language.APIKey != "" {
		return c.Providers.Azure.Language.APIKey
	}
	return os.Getenv(c.Providers.Azure.Language.APIKeyEnv)
}

// ResolveAzureTranslatorKey 返回 Azure 翻译服务的 API Key。
func (c *Config) ResolveAzureTranslatorKey() string {
	if c.Providers.Azure.Translator.APIKey != "" {
		return c.Providers.Azure.Translator.APIKey
	}
	return os.Getenv(c.Providers.Azure.Translator.APIKeyEnv)
}

// ResolveJWTSecret 返回签发 JWT 使用的密钥。
func (c *Config) ResolveJWTSecret() string {
	if c.Auth.JWT.Secret != "" {
		return c.Auth.JWT.Secret
	}
	if c.Auth.JWT.SecretEnv != "" {
		return os.Getenv(c.Auth.JWT.SecretEnv)
	}
	return ""
}
