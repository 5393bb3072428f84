// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var envPattern = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load 从默认目录 configs/ 加载配置
func Load() (*Config, error) {
	return LoadFrom("configs")
}

// LoadFrom 从指定目录加载配置
// 按优先级加载：.env -> 默认配置 -> 环境配置 -> 环境变量
func LoadFrom(dir string) (*Config, error) {
	// .env 只补充未设置的环境变量，文件不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 加载默认配置
	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), false); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	envFile := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	if err := loadConfigFile(v, envFile, true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值 (兜底)
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验时间参数之间的约束
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.SoftTimeLimit <= 0 || p.HardTimeLimit <= 0 {
		return fmt.Errorf("pipeline time limits must be positive")
	}
	if p.SoftTimeLimit >= p.HardTimeLimit {
		return fmt.Errorf("pipeline.soft_time_limit (%s) must be below hard_time_limit (%s)", p.SoftTimeLimit, p.HardTimeLimit)
	}
	// 锁只依赖 TTL 过期，必须比单次执行的硬上限更长
	if c.Lock.TTL <= p.HardTimeLimit {
		return fmt.Errorf("lock.ttl (%s) must exceed pipeline.hard_time_limit (%s)", c.Lock.TTL, p.HardTimeLimit)
	}
	if c.Messaging.RedisStream.ReclaimIdle < p.HardTimeLimit {
		return fmt.Errorf("messaging.redis_stream.reclaim_idle (%s) must be >= pipeline.hard_time_limit (%s)",
			c.Messaging.RedisStream.ReclaimIdle, p.HardTimeLimit)
	}
	if c.Messaging.RedisStream.RetryLimit <= p.MaxAttempts {
		return fmt.Errorf("messaging.redis_stream.retry_limit (%d) must exceed pipeline.max_attempts (%d)",
			c.Messaging.RedisStream.RetryLimit, p.MaxAttempts)
	}
	// 等待重试的会话不能被当作过期会话清理
	if p.SweepGrace <= p.RetryDelay {
		return fmt.Errorf("pipeline.sweep_grace (%s) must exceed pipeline.retry_delay (%s)", p.SweepGrace, p.RetryDelay)
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway.max_attempts must be >= 1, got %d", c.Gateway.MaxAttempts)
	}
	if c.Gateway.BaseDelay > c.Gateway.MaxDelay {
		return fmt.Errorf("gateway.base_delay (%s) exceeds max_delay (%s)", c.Gateway.BaseDelay, c.Gateway.MaxDelay)
	}
	if c.Security.Auth.Required && c.Security.Auth.JWTSecret == "" {
		return fmt.Errorf("security.auth.jwt_secret is required when auth is required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	return nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reader := strings.NewReader(expandEnv(string(content)))
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		// 手动标记已加载文件，防止后续 ReadInConfig 报错
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符
// 未定义且无默认值的变量保留原样，便于识别
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envPattern.FindStringSubmatch(match)
		key := submatch[1]
		hasDefault := submatch[2] != ""
		defVal := submatch[3]

		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		if hasDefault {
			return defVal
		}
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "study-forge-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// HTTP 服务器默认值
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "60s")
	v.SetDefault("server.http.idle_timeout", "120s")
	v.SetDefault("server.http.max_upload_bytes", 32<<20)

	// 数据库默认值
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "study_forge")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 50)
	v.SetDefault("database.postgres.max_idle_conns", 10)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")
	v.SetDefault("database.postgres.slow_threshold", "500ms")
	v.SetDefault("database.postgres.auto_migrate", false)

	// Redis 默认值
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 100)
	v.SetDefault("cache.redis.min_idle_conns", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	// 生成服务默认值
	v.SetDefault("llm.default_provider", "openai")

	// 网关默认值
	v.SetDefault("gateway.cache_ttl", "24h")
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.base_delay", "4s")
	v.SetDefault("gateway.max_delay", "10s")
	v.SetDefault("gateway.attempt_timeout", "120s")
	v.SetDefault("gateway.default_output_tokens", 1024)
	v.SetDefault("gateway.requests_per_second", 5)
	v.SetDefault("gateway.burst", 10)

	// 计费默认值
	v.SetDefault("billing.default_rate.input_per_1k", 1.0)
	v.SetDefault("billing.default_rate.output_per_1k", 2.0)

	// 分布式锁默认值
	v.SetDefault("lock.ttl", "30m")
	v.SetDefault("lock.poll_interval", "100ms")
	v.SetDefault("lock.blocking_timeout", "0s")

	// 流水线默认值
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.retry_delay", "60s")
	v.SetDefault("pipeline.soft_time_limit", "25m")
	v.SetDefault("pipeline.hard_time_limit", "28m")
	v.SetDefault("pipeline.state_ttl", "24h")
	v.SetDefault("pipeline.model", "gpt-4o-mini")
	v.SetDefault("pipeline.temperature", 0.3)
	v.SetDefault("pipeline.max_output_tokens", 2048)
	v.SetDefault("pipeline.chunk_chars", 12000)
	v.SetDefault("pipeline.max_chunks", 8)
	v.SetDefault("pipeline.flashcards_per_chunk", 10)
	v.SetDefault("pipeline.quiz_per_chunk", 5)
	v.SetDefault("pipeline.sweep_schedule", "@every 5m")
	v.SetDefault("pipeline.sweep_grace", "2m")

	// worker 默认值
	v.SetDefault("worker.concurrency", 4)

	// 队列默认值
	v.SetDefault("messaging.redis_stream.max_len", 100000)
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "1m")
	v.SetDefault("messaging.redis_stream.reclaim_idle", "30m")
	v.SetDefault("messaging.redis_stream.retry_limit", 5)
	v.SetDefault("messaging.redis_stream.dlq_alert_threshold", 100)

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9464)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.submits_per_minute", 30)
	v.SetDefault("security.auth.required", false)
	v.SetDefault("security.auth.issuer", "study-forge-api")
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-Admin-Key"})
}
