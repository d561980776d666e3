package service

import (
	"context"
	"sync"
	"time"

	"pairchat/config"
	"pairchat/internal/store"
	"pairchat/pkg/logger"

	"go.uber.org/zap"
)

// SyncCoordinator 订阅生命周期协调器
// 每个客户端进程同一时刻至多一条活跃的消息订阅：切换会话或
// 关闭视图时先取消旧订阅再开新订阅，不泄漏订阅和协程
type SyncCoordinator struct {
	gw     store.Gateway
	stream *MessageService
	cfg    config.SyncConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncCoordinator 创建协调器
func NewSyncCoordinator(gw store.Gateway, stream *MessageService, cfg config.SyncConfig) *SyncCoordinator {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &SyncCoordinator{gw: gw, stream: stream, cfg: cfg}
}

// Watch 打开指定会话的变更订阅
// 已有订阅先被取消；事件依次交给 MessageService 合并，再转发给
// 可选的 onEvent 回调（UI钩子）；返回取消句柄
func (c *SyncCoordinator) Watch(ctx context.Context, chatID string, onEvent func(store.Event)) func() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	// 等旧订阅的协程退出，保证任一时刻至多一条活跃订阅
	c.wg.Wait()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	// 每条订阅有自己的退出信号；取消句柄只等这一条，
	// 陈旧句柄不会卡在后继订阅上
	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer close(done)
		c.run(runCtx, chatID, onEvent)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Close 取消当前订阅并等待退出
func (c *SyncCoordinator) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// run 订阅主循环：订阅 -> 重同步 -> 消费事件 -> 断开后退避重连
func (c *SyncCoordinator) run(ctx context.Context, chatID string, onEvent func(store.Event)) {
	defer c.wg.Done()

	backoff := c.cfg.BackoffBase
	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := c.gw.Subscribe(ctx, store.CollectionMessages, store.Filter{"chat_id": chatID})
		if err != nil {
			logger.Warn("打开消息订阅失败，退避后重试",
				zap.String("chat_id", chatID),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.BackoffMax)
			continue
		}

		// 事件通道没有跨断连的完整投递保证，
		// 每次（重新）建立订阅后都重拉历史做一次合并兜底
		if _, err := c.stream.FetchHistory(ctx, chatID); err != nil {
			logger.Warn("重同步历史失败", zap.String("chat_id", chatID), zap.Error(err))
		}
		backoff = c.cfg.BackoffBase

		if !c.consume(ctx, sub, onEvent) {
			return
		}

		if err := sub.Err(); err != nil {
			logger.Warn("消息订阅断开，退避后重连",
				zap.String("chat_id", chatID),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.cfg.BackoffMax)
	}
}

// consume 消费订阅事件直到通道关闭
// 返回 false 表示上下文已取消，不再重连
func (c *SyncCoordinator) consume(ctx context.Context, sub store.Subscription, onEvent func(store.Event)) bool {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return ctx.Err() == nil
			}
			c.stream.ApplyEvent(event)
			if onEvent != nil {
				onEvent(event)
			}
		}
	}
}

// sleepCtx 可取消的等待，返回 false 表示上下文已取消
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff 指数退避，封顶
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
