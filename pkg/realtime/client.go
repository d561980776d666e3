package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"pairchat/config"
	"pairchat/internal/store"
	"pairchat/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client 中继客户端
// 实现 store.FeedSource：从中继拉取指定集合的信封流，
// 供不能直连 Redis 的进程接入订阅路径
type Client struct {
	baseURL string
	token   string
}

var _ store.FeedSource = (*Client)(nil)

// NewClient 创建中继客户端
func NewClient(cfg config.RealtimeConfig) *Client {
	return &Client{baseURL: cfg.URL, token: cfg.Token}
}

// Subscribe 与中继建立连接并订阅单个集合
func (c *Client) Subscribe(ctx context.Context, collection string) (store.FeedSub, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("中继地址未配置")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("中继地址无效: %w", err)
	}
	q := u.Query()
	q.Set("token", c.token)
	q.Set("collections", collection)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("连接中继失败: %w", err)
	}

	sub := &wsFeedSub{
		conn:       conn,
		collection: collection,
		envelopes:  make(chan store.Envelope, 64),
		done:       make(chan struct{}),
	}
	go sub.watchCtx(ctx)
	go sub.pump()
	return sub, nil
}

// wsFeedSub 一条中继信封订阅
type wsFeedSub struct {
	conn       *websocket.Conn
	collection string
	envelopes  chan store.Envelope
	done       chan struct{}
	closeOnce  sync.Once
	err        error
}

// watchCtx 上下文取消时关闭连接，解除读阻塞
func (s *wsFeedSub) watchCtx(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}
}

func (s *wsFeedSub) pump() {
	defer close(s.envelopes)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// 主动关闭不算故障
			select {
			case <-s.done:
			default:
				s.err = fmt.Errorf("中继连接断开: %w", err)
			}
			return
		}

		var env store.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("丢弃无法解析的中继消息", zap.Error(err))
			continue
		}
		if env.Collection != s.collection {
			continue
		}
		select {
		case s.envelopes <- env:
		case <-s.done:
			return
		}
	}
}

func (s *wsFeedSub) Envelopes() <-chan store.Envelope {
	return s.envelopes
}

func (s *wsFeedSub) Err() error {
	return s.err
}

func (s *wsFeedSub) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
