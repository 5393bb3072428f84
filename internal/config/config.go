// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Gateway       GatewayConfig       `yaml:"gateway" mapstructure:"gateway"`
	Billing       BillingConfig       `yaml:"billing" mapstructure:"billing"`
	Lock          LockConfig          `yaml:"lock" mapstructure:"lock"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Worker        WorkerConfig        `yaml:"worker" mapstructure:"worker"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LLMConfig 生成服务配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig 生成服务提供商配置
type ProviderConfig struct {
	// Type 适配器类型：openai（OpenAI 兼容接口）或 gemini
	Type    string        `yaml:"type" mapstructure:"type"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Models 由该提供商服务的模型 ID 列表
	Models []string `yaml:"models" mapstructure:"models"`
}

// GatewayConfig 生成调用网关配置
type GatewayConfig struct {
	CacheTTL            time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	MaxAttempts         int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay           time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout" mapstructure:"attempt_timeout"`
	DefaultOutputTokens int           `yaml:"default_output_tokens" mapstructure:"default_output_tokens"`
	RequestsPerSecond   float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst               int           `yaml:"burst" mapstructure:"burst"`
}

// BillingConfig 计费配置
type BillingConfig struct {
	// Rates 按模型配置每 1K token 的额度费率（列表形式，模型 ID 可能含 "."）
	Rates []ModelRateConfig `yaml:"rates" mapstructure:"rates"`
	// DefaultRate 未配置模型时使用的费率
	DefaultRate RateConfig `yaml:"default_rate" mapstructure:"default_rate"`
}

// RateConfig 单个模型费率
type RateConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" mapstructure:"output_per_1k"`
}

// ModelRateConfig 指定模型的费率
type ModelRateConfig struct {
	Model      string `yaml:"model" mapstructure:"model"`
	RateConfig `yaml:",inline" mapstructure:",squash"`
}

// LockConfig 分布式锁配置
type LockConfig struct {
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	BlockingTimeout time.Duration `yaml:"blocking_timeout" mapstructure:"blocking_timeout"`
}

// PipelineConfig 会话流水线配置
type PipelineConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	SoftTimeLimit   time.Duration `yaml:"soft_time_limit" mapstructure:"soft_time_limit"`
	HardTimeLimit   time.Duration `yaml:"hard_time_limit" mapstructure:"hard_time_limit"`
	StateTTL        time.Duration `yaml:"state_ttl" mapstructure:"state_ttl"`
	Model           string        `yaml:"model" mapstructure:"model"`
	Temperature     float64       `yaml:"temperature" mapstructure:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	ChunkChars      int           `yaml:"chunk_chars" mapstructure:"chunk_chars"`
	MaxChunks       int           `yaml:"max_chunks" mapstructure:"max_chunks"`
	FlashcardsPer   int           `yaml:"flashcards_per_chunk" mapstructure:"flashcards_per_chunk"`
	QuizPer         int           `yaml:"quiz_per_chunk" mapstructure:"quiz_per_chunk"`
	SweepSchedule   string        `yaml:"sweep_schedule" mapstructure:"sweep_schedule"`
	SweepGrace      time.Duration `yaml:"sweep_grace" mapstructure:"sweep_grace"`
}

// WorkerConfig worker 池配置
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen        int           `yaml:"max_len" mapstructure:"max_len"`
	BlockTimeout  time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	ReclaimIdle   time.Duration `yaml:"reclaim_idle" mapstructure:"reclaim_idle"`
	// RetryLimit 投递次数上限，超过后进入死信队列；需大于 pipeline.max_attempts
	RetryLimit int `yaml:"retry_limit" mapstructure:"retry_limit"`
	DLQAlert   int `yaml:"dlq_alert_threshold" mapstructure:"dlq_alert_threshold"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	// AdminKey 管理接口密钥，为空时管理接口关闭
	AdminKey string `yaml:"admin_key" mapstructure:"admin_key"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	// Required 为 false 时允许匿名提交（不计费）
	Required  bool   `yaml:"required" mapstructure:"required"`
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	SubmitsPerMinute int  `yaml:"submits_per_minute" mapstructure:"submits_per_minute"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
