// Package realtime 变更事件的 WebSocket 中继
// 服务端把信封扇出给按集合注册的客户端，客户端侧作为
// 信封来源接入存储网关的订阅路径
package realtime

import (
	"encoding/json"
	"sync"

	"pairchat/internal/store"
	"pairchat/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// client 一条已连接的中继客户端
type client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	collections map[string]bool // 空表示订阅全部集合
}

// wants 客户端是否关心该集合
func (c *client) wants(collection string) bool {
	if len(c.collections) == 0 {
		return true
	}
	return c.collections[collection]
}

// Hub 管理所有已连接客户端并扇出事件
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub 创建扇出中心
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Publish 向所有关心该集合的客户端投递信封
func (h *Hub) Publish(env store.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("序列化信封失败", zap.String("collection", env.Collection), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(env.Collection) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// 发送缓冲已满，丢弃；客户端靠重同步兜底
			logger.Warn("客户端积压，丢弃事件",
				zap.String("client_id", c.id),
				zap.String("collection", env.Collection),
			)
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// add 注册客户端
func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove 注销客户端并关闭其发送通道
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
