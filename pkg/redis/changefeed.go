package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pairchat/internal/store"
	"pairchat/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 变更事件频道前缀
// 每个集合一个频道：pairchat:feed:<collection>
const feedChannelPrefix = "pairchat:feed:"

// FeedChannel 集合对应的发布订阅频道名
func FeedChannel(collection string) string {
	return feedChannelPrefix + collection
}

// collectionOfChannel 从频道名还原集合名
func collectionOfChannel(channel string) string {
	return strings.TrimPrefix(channel, feedChannelPrefix)
}

// PublishChange 发布一条变更事件信封
func (c *Client) PublishChange(ctx context.Context, env store.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化事件信封失败: %w", err)
	}
	if err := c.rdb.Publish(ctx, FeedChannel(env.Collection), data).Err(); err != nil {
		return fmt.Errorf("发布变更事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅单个集合的变更事件
// 实现 store.FeedSource
func (c *Client) Subscribe(ctx context.Context, collection string) (store.FeedSub, error) {
	return c.subscribe(ctx, c.rdb.Subscribe(ctx, FeedChannel(collection)))
}

// SubscribeAll 订阅所有集合的变更事件（中继服务用）
func (c *Client) SubscribeAll(ctx context.Context) (store.FeedSub, error) {
	return c.subscribe(ctx, c.rdb.PSubscribe(ctx, feedChannelPrefix+"*"))
}

func (c *Client) subscribe(ctx context.Context, pubsub *redis.PubSub) (store.FeedSub, error) {
	// 确认订阅已生效，避免漏掉紧随其后的事件
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("订阅变更频道失败: %w", err)
	}

	sub := &feedSub{
		pubsub:    pubsub,
		envelopes: make(chan store.Envelope, 64),
		done:      make(chan struct{}),
	}
	go sub.pump(ctx)
	return sub, nil
}

// feedSub Redis发布订阅包装
type feedSub struct {
	pubsub    *redis.PubSub
	envelopes chan store.Envelope
	done      chan struct{}
	err       error
}

func (s *feedSub) pump(ctx context.Context) {
	defer close(s.envelopes)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			_ = s.pubsub.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env store.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("丢弃无法解析的变更事件",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			if env.Collection == "" {
				env.Collection = collectionOfChannel(msg.Channel)
			}
			select {
			case s.envelopes <- env:
			case <-s.done:
				return
			case <-ctx.Done():
				s.err = ctx.Err()
				_ = s.pubsub.Close()
				return
			}
		}
	}
}

func (s *feedSub) Envelopes() <-chan store.Envelope {
	return s.envelopes
}

func (s *feedSub) Err() error {
	return s.err
}

func (s *feedSub) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.pubsub.Close()
}
