package store

import "context"

// 集合名常量
// users 对本核心而言只读
const (
	CollectionUsers          = "users"
	CollectionFriendRequests = "friend_requests"
	CollectionBlockedUsers   = "blocked_users"
	CollectionChats          = "chats"
	CollectionChatMembers    = "chat_members"
	CollectionMessages       = "messages"
)

// Filter 等值过滤条件，键为列名
type Filter map[string]any

// QueryOptions 查询选项
type QueryOptions struct {
	OrderBy string // 例如 "sent_at ASC, id ASC"
	Limit   int    // 0 表示不限制
}

// Kind 变更事件类型
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event 订阅通道投递的变更事件
// Row 为对应集合的模型指针（如 *model.Message）
type Event struct {
	Kind       Kind
	Collection string
	Row        any
}

// Subscription 一条已打开的变更订阅
// 通道关闭后可通过 Err 区分正常取消与瞬时故障
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close()
}

// Gateway 远端存储网关
// 抽象任意带变更推送能力的关系型存储，由使用方注入具体实现
// dest 必须是模型切片指针（如 *[]model.Message）
type Gateway interface {
	Query(ctx context.Context, collection string, filter Filter, opts QueryOptions, dest any) error
	Insert(ctx context.Context, collection string, row any) error
	Update(ctx context.Context, collection string, filter Filter, patch map[string]any) (int64, error)
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error)
}
