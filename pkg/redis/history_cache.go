package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pairchat/internal/model"

	"github.com/redis/go-redis/v9"
)

// 消息历史缓存key前缀，按会话ID组织
const historyKeyPrefix = "pairchat:history:"

// 缓存配置默认值
var (
	HistoryCacheTTL   = 1 * time.Hour // 历史缓存TTL
	MaxCachedMessages = 50            // 每个会话最多缓存的消息条数
)

// SetHistoryCacheConfig 设置缓存参数
func SetHistoryCacheConfig(ttl time.Duration, maxMessages int) {
	if ttl > 0 {
		HistoryCacheTTL = ttl
	}
	if maxMessages > 0 {
		MaxCachedMessages = maxMessages
	}
}

func historyKey(chatID string) string {
	return historyKeyPrefix + chatID
}

// CacheHistory 缓存一个会话的完整历史
// 消息应已按 (sent_at, id) 升序排好；缓存命中会被当作完整结果
// 返回，所以超过 MaxCachedMessages 的历史不缓存而不是截断缓存
func (c *Client) CacheHistory(ctx context.Context, chatID string, messages []model.Message) error {
	if len(messages) > MaxCachedMessages {
		return nil
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("序列化历史消息失败: %w", err)
	}
	if err := c.rdb.Set(ctx, historyKey(chatID), data, HistoryCacheTTL).Err(); err != nil {
		return fmt.Errorf("缓存历史消息失败: %w", err)
	}
	return nil
}

// GetCachedHistory 读取会话的缓存历史
// 缓存未命中返回 (nil, false, nil)
func (c *Client) GetCachedHistory(ctx context.Context, chatID string) ([]model.Message, bool, error) {
	data, err := c.rdb.Get(ctx, historyKey(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取历史缓存失败: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, false, fmt.Errorf("反序列化历史消息失败: %w", err)
	}
	return messages, true, nil
}

// InvalidateHistory 使会话的历史缓存失效
// 消息写入/删除后调用，下次读取回源数据库
func (c *Client) InvalidateHistory(ctx context.Context, chatID string) error {
	if err := c.rdb.Del(ctx, historyKey(chatID)).Err(); err != nil {
		return fmt.Errorf("清除历史缓存失败: %w", err)
	}
	return nil
}
