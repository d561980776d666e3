package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pairchat/internal/model"
	"pairchat/internal/store"
	"pairchat/pkg/errs"

	"github.com/google/uuid"
)

// 消息历史的标准排序：先发送时间后ID，乱序到达时结果稳定
const messageOrder = "sent_at ASC, id ASC"

// MessageService 消息流
// 维护每个打开会话的本地有序视图，把本端的乐观写入和远端
// 变更事件合并成一份一致的消息序列；消息状态只允许本服务写入
type MessageService struct {
	gw store.Gateway

	mu    sync.RWMutex
	views map[string]*chatView // 会话ID -> 本地视图
}

// chatView 单个会话的本地状态
// deleted 是会话期内的删除墓碑：删除为终态，
// 晚到的同ID insert 事件会被忽略，重放/乱序因此是安全的
type chatView struct {
	messages []model.Message
	deleted  map[string]struct{}
}

// NewMessageService 创建消息服务
func NewMessageService(gw store.Gateway) *MessageService {
	return &MessageService{
		gw:    gw,
		views: make(map[string]*chatView),
	}
}

// FetchHistory 拉取会话历史并刷新本地视图
// 已有的本地消息（在途乐观写入、先于拉取到达的事件）按合并语义保留
func (s *MessageService) FetchHistory(ctx context.Context, chatID string) ([]model.Message, error) {
	var fetched []model.Message
	err := s.gw.Query(ctx, store.CollectionMessages,
		store.Filter{"chat_id": chatID},
		store.QueryOptions{OrderBy: messageOrder},
		&fetched,
	)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.views[chatID]
	if view == nil {
		view = &chatView{deleted: make(map[string]struct{})}
		s.views[chatID] = view
	}

	previous := view.messages
	view.messages = nil
	seen := make(map[string]bool, len(fetched))
	for _, msg := range fetched {
		if _, dead := view.deleted[msg.ID]; dead {
			continue
		}
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		view.insertSorted(msg)
	}
	// 本地已有但远端还没有的消息保留（重同步就是一批 insert 的合并）
	for _, msg := range previous {
		if seen[msg.ID] {
			continue
		}
		if _, dead := view.deleted[msg.ID]; dead {
			continue
		}
		seen[msg.ID] = true
		view.insertSorted(msg)
	}

	return view.snapshot(), nil
}

// Send 发送消息
// 空内容返回 ValidationError；本地视图先行乐观展示，
// 网关写入失败时回滚乐观条目并把错误交还调用方（不自动重试）
func (s *MessageService) Send(ctx context.Context, chatID, senderID, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.Validationf("message content is empty")
	}
	if chatID == "" || senderID == "" {
		return nil, errs.Validationf("chat and sender are required")
	}

	message := model.Message{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		SentAt:   time.Now(),
	}

	// 乐观应用：写入在途期间本地即可见
	applied := s.applyInsert(chatID, message)

	if err := s.gw.Insert(ctx, store.CollectionMessages, &message); err != nil {
		if applied {
			s.discardLocal(chatID, message.ID)
		}
		return nil, err
	}
	return &message, nil
}

// Delete 删除消息（硬删除）
// 远端已不存在视为成功：另一个执行流并发删除同一条消息
// 时双方都不报错
func (s *MessageService) Delete(ctx context.Context, messageID string) error {
	if _, err := s.gw.Delete(ctx, store.CollectionMessages, store.Filter{"id": messageID}); err != nil {
		if !errs.IsNotFound(err) {
			return err
		}
	}

	s.mu.Lock()
	for _, view := range s.views {
		view.remove(messageID)
		view.deleted[messageID] = struct{}{}
	}
	s.mu.Unlock()
	return nil
}

// ApplyEvent 合并一条变更事件
// 以消息ID为键，交换且幂等：同一事件重复投递或与生成顺序
// 不同的相对顺序投递都不会破坏最终序列
func (s *MessageService) ApplyEvent(event store.Event) {
	if event.Collection != store.CollectionMessages {
		return
	}
	message, ok := event.Row.(*model.Message)
	if !ok || message == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.views[message.ChatID]
	if view == nil {
		// 会话未打开，没有需要维护的本地视图
		return
	}

	switch event.Kind {
	case store.KindInsert:
		if _, dead := view.deleted[message.ID]; dead {
			// 删除是终态：晚到的 insert 不能复活已删除的消息
			return
		}
		if view.contains(message.ID) {
			// 本端乐观写入的回声，去重
			return
		}
		view.insertSorted(*message)
	case store.KindUpdate:
		if _, dead := view.deleted[message.ID]; dead {
			return
		}
		if view.contains(message.ID) {
			view.remove(message.ID)
			view.insertSorted(*message)
		}
	case store.KindDelete:
		view.remove(message.ID)
		view.deleted[message.ID] = struct{}{}
	}
}

// History 当前本地视图快照
// 会话未打开时返回空
func (s *MessageService) History(chatID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := s.views[chatID]
	if view == nil {
		return nil
	}
	return view.snapshot()
}

// Close 关闭会话视图，释放本地状态（含墓碑）
func (s *MessageService) Close(chatID string) {
	s.mu.Lock()
	delete(s.views, chatID)
	s.mu.Unlock()
}

// applyInsert 向已打开的视图乐观插入，返回是否实际应用
func (s *MessageService) applyInsert(chatID string, message model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.views[chatID]
	if view == nil {
		return false
	}
	if view.contains(message.ID) {
		return false
	}
	view.insertSorted(message)
	return true
}

// discardLocal 丢弃乐观条目（写入失败回滚，不立墓碑）
func (s *MessageService) discardLocal(chatID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view := s.views[chatID]; view != nil {
		view.remove(messageID)
	}
}

func (v *chatView) contains(messageID string) bool {
	for i := range v.messages {
		if v.messages[i].ID == messageID {
			return true
		}
	}
	return false
}

func (v *chatView) insertSorted(message model.Message) {
	at := sort.Search(len(v.messages), func(i int) bool {
		return message.Less(&v.messages[i])
	})
	v.messages = append(v.messages, model.Message{})
	copy(v.messages[at+1:], v.messages[at:])
	v.messages[at] = message
}

func (v *chatView) remove(messageID string) {
	for i := range v.messages {
		if v.messages[i].ID == messageID {
			v.messages = append(v.messages[:i], v.messages[i+1:]...)
			return
		}
	}
}

func (v *chatView) snapshot() []model.Message {
	out := make([]model.Message, len(v.messages))
	copy(out, v.messages)
	return out
}
