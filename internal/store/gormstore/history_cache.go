package gormstore

import (
	"context"

	"pairchat/internal/model"
	"pairchat/internal/store"
	"pairchat/pkg/logger"

	"go.uber.org/zap"
)

// HistoryOrder 消息历史的标准排序
const HistoryOrder = "sent_at ASC, id ASC"

// isHistoryQuery 是否为"单个会话的完整历史"标准查询
// 只有这种形态的查询走缓存，其他查询一律回源
func isHistoryQuery(collection string, filter store.Filter, opts store.QueryOptions) (string, bool) {
	if collection != store.CollectionMessages {
		return "", false
	}
	if opts.OrderBy != HistoryOrder || opts.Limit != 0 {
		return "", false
	}
	if len(filter) != 1 {
		return "", false
	}
	chatID, ok := filter["chat_id"].(string)
	return chatID, ok && chatID != ""
}

// tryCachedHistory 尝试用缓存满足历史查询，命中返回 true
func (s *Store) tryCachedHistory(ctx context.Context, collection string, filter store.Filter, opts store.QueryOptions, dest any) bool {
	if s.cache == nil {
		return false
	}
	chatID, ok := isHistoryQuery(collection, filter, opts)
	if !ok {
		return false
	}
	out, ok := dest.(*[]model.Message)
	if !ok {
		return false
	}

	messages, hit, err := s.cache.GetCachedHistory(ctx, chatID)
	if err != nil {
		logger.Warn("读取历史缓存失败，回源数据库", zap.String("chat_id", chatID), zap.Error(err))
		return false
	}
	if !hit {
		return false
	}
	*out = messages
	return true
}

// fillHistoryCache 历史查询回源后写缓存（尽力而为）
func (s *Store) fillHistoryCache(ctx context.Context, collection string, filter store.Filter, opts store.QueryOptions, dest any) {
	if s.cache == nil {
		return
	}
	chatID, ok := isHistoryQuery(collection, filter, opts)
	if !ok {
		return
	}
	out, ok := dest.(*[]model.Message)
	if !ok {
		return
	}
	if err := s.cache.CacheHistory(ctx, chatID, *out); err != nil {
		logger.Warn("写入历史缓存失败", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// invalidateMessageCache 消息写入/删除后使所属会话的历史缓存失效
func (s *Store) invalidateMessageCache(ctx context.Context, collection string, row any) {
	if s.cache == nil || collection != store.CollectionMessages {
		return
	}
	msg, ok := row.(*model.Message)
	if !ok || msg.ChatID == "" {
		return
	}
	if err := s.cache.InvalidateHistory(ctx, msg.ChatID); err != nil {
		logger.Warn("清除历史缓存失败", zap.String("chat_id", msg.ChatID), zap.Error(err))
	}
}
