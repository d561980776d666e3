package redis

import (
	"context"
	"testing"
	"time"

	"pairchat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreCacheConfig(t *testing.T) {
	t.Helper()
	ttl, max := HistoryCacheTTL, MaxCachedMessages
	t.Cleanup(func() { SetHistoryCacheConfig(ttl, max) })
}

func TestCacheHistorySkipsOversizedHistory(t *testing.T) {
	restoreCacheConfig(t)
	SetHistoryCacheConfig(time.Hour, 3)

	// 客户端没有底层连接：超限的历史必须在触达Redis之前被跳过
	c := &Client{}
	messages := make([]model.Message, 4)
	require.NoError(t, c.CacheHistory(context.Background(), "chat-1", messages))
}

func TestSetHistoryCacheConfig(t *testing.T) {
	restoreCacheConfig(t)

	SetHistoryCacheConfig(5*time.Minute, 10)
	assert.Equal(t, 5*time.Minute, HistoryCacheTTL)
	assert.Equal(t, 10, MaxCachedMessages)

	// 非法取值不覆盖已有配置
	SetHistoryCacheConfig(0, -1)
	assert.Equal(t, 5*time.Minute, HistoryCacheTTL)
	assert.Equal(t, 10, MaxCachedMessages)
}
