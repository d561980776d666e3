package store

import (
	"context"
	"encoding/json"
	"fmt"

	"pairchat/internal/model"
)

// Envelope 跨进程传输的变更事件信封
// Redis 发布订阅与 WebSocket 中继均使用该 JSON 格式
type Envelope struct {
	Kind       Kind            `json:"kind"`
	Collection string          `json:"collection"`
	Row        json.RawMessage `json:"row"`
}

// FeedSub 一条信封订阅
type FeedSub interface {
	Envelopes() <-chan Envelope
	Err() error
	Close()
}

// FeedSource 信封通道来源
// 同机部署用 Redis 发布订阅，跨机部署用 WebSocket 中继客户端
type FeedSource interface {
	Subscribe(ctx context.Context, collection string) (FeedSub, error)
}

// EncodeEnvelope 把模型行编码为信封
func EncodeEnvelope(kind Kind, collection string, row any) (Envelope, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Envelope{}, fmt.Errorf("编码事件行失败: %w", err)
	}
	return Envelope{Kind: kind, Collection: collection, Row: data}, nil
}

// DecodeRow 按集合名把信封中的行还原为模型指针
func DecodeRow(collection string, raw json.RawMessage) (any, error) {
	var row any
	switch collection {
	case CollectionUsers:
		row = &model.User{}
	case CollectionFriendRequests:
		row = &model.FriendRequest{}
	case CollectionBlockedUsers:
		row = &model.BlockRelation{}
	case CollectionChats:
		row = &model.Chat{}
	case CollectionChatMembers:
		row = &model.ChatMember{}
	case CollectionMessages:
		row = &model.Message{}
	default:
		return nil, fmt.Errorf("未知集合: %s", collection)
	}
	if err := json.Unmarshal(raw, row); err != nil {
		return nil, fmt.Errorf("解码事件行失败(%s): %w", collection, err)
	}
	return row, nil
}
