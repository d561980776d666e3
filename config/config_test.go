package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	// 测试运行目录下没有 config/config.yaml，应回落到默认配置
	cfg := LoadConfig()

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "utf8mb4", cfg.Database.Charset)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "8090", cfg.Relay.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Sync.BackoffMax)
	assert.Equal(t, 64, cfg.Sync.EventBuffer)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Cache.MaxMessages)
}

func TestEnvVarsOverrideDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "13306")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("RELAY_PORT", "9000")
	t.Setenv("SYNC_BACKOFF_BASE", "250ms")
	t.Setenv("REALTIME_URL", "ws://relay.internal:9000/ws")

	cfg := LoadConfig()

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 13306, cfg.Database.Port)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, "9000", cfg.Relay.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.BackoffBase)
	assert.Equal(t, "ws://relay.internal:9000/ws", cfg.Realtime.URL)
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("SYNC_BACKOFF_BASE", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.BackoffBase)
}
