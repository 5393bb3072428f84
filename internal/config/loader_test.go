package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
app:
  name: ${TEST_APP_NAME:fallback-name}
llm:
  providers:
    openai:
      type: openai
      api_key: ${TEST_OPENAI_KEY}
      models: [gpt-4o-mini]
billing:
  rates:
    - model: gemini-1.5-flash
      input_per_1k: 0.4
      output_per_1k: 1.2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadFromAppliesDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	dir := writeConfig(t, minimalYAML)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "fallback-name", cfg.App.Name)
	assert.Equal(t, 30*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Lock.PollInterval)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Gateway.CacheTTL)
	assert.Equal(t, 4*time.Second, cfg.Gateway.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Gateway.MaxDelay)

	require.Len(t, cfg.Billing.Rates, 1)
	assert.Equal(t, "gemini-1.5-flash", cfg.Billing.Rates[0].Model)
	assert.InDelta(t, 1.2, cfg.Billing.Rates[0].OutputPer1K, 1e-9)
}

func TestLoadFromExpandsEnv(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("TEST_APP_NAME", "from-env")
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	dir := writeConfig(t, minimalYAML)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.App.Name)
	assert.Equal(t, "sk-test", cfg.LLM.Providers["openai"].APIKey)
}

func TestLoadFromMergesEnvironmentFile(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	dir := writeConfig(t, minimalYAML)
	override := "worker:\n  concurrency: 9\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.staging.yaml"), []byte(override), 0o600))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Worker.Concurrency)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(t.TempDir())
	assert.Error(t, err)
}

func TestExpandEnvKeepsUnknownPlaceholder(t *testing.T) {
	assert.Equal(t, "${TEST_SURELY_UNSET_VAR}", expandEnv("${TEST_SURELY_UNSET_VAR}"))
	assert.Equal(t, "x", expandEnv("${TEST_SURELY_UNSET_VAR:x}"))
}

func validConfig() Config {
	return Config{
		Lock:     LockConfig{TTL: 30 * time.Minute},
		Pipeline: PipelineConfig{
			MaxAttempts:   3,
			RetryDelay:    time.Minute,
			SoftTimeLimit: 25 * time.Minute,
			HardTimeLimit: 28 * time.Minute,
			SweepGrace:    2 * time.Minute,
		},
		Gateway:  GatewayConfig{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second},
		Worker:   WorkerConfig{Concurrency: 1},
		Messaging: MessagingConfig{RedisStream: RedisStreamConfig{
			ReclaimIdle: 30 * time.Minute,
			RetryLimit:  5,
		}},
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	t.Run("lock ttl must outlive hard limit", func(t *testing.T) {
		c := validConfig()
		c.Lock.TTL = 20 * time.Minute
		assert.Error(t, c.Validate())
	})

	t.Run("soft limit below hard limit", func(t *testing.T) {
		c := validConfig()
		c.Pipeline.SoftTimeLimit = c.Pipeline.HardTimeLimit
		assert.Error(t, c.Validate())
	})

	t.Run("reclaim idle covers hard limit", func(t *testing.T) {
		c := validConfig()
		c.Messaging.RedisStream.ReclaimIdle = time.Minute
		assert.Error(t, c.Validate())
	})

	t.Run("stream retry limit above pipeline attempts", func(t *testing.T) {
		c := validConfig()
		c.Messaging.RedisStream.RetryLimit = 3
		assert.Error(t, c.Validate())
	})

	t.Run("sweep grace above retry delay", func(t *testing.T) {
		c := validConfig()
		c.Pipeline.SweepGrace = c.Pipeline.RetryDelay
		assert.Error(t, c.Validate())
	})

	t.Run("base delay within max", func(t *testing.T) {
		c := validConfig()
		c.Gateway.BaseDelay = time.Minute
		assert.Error(t, c.Validate())
	})
}
