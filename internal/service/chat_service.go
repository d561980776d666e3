package service

import (
	"context"
	"sort"

	"pairchat/internal/model"
	"pairchat/internal/store"
	"pairchat/pkg/errs"
	"pairchat/pkg/logger"

	"go.uber.org/zap"
)

// ChatService 私聊会话目录
// 保证一对好友只有一个私聊会话，并按当前好友状态过滤可见会话
type ChatService struct {
	gw  store.Gateway
	rel *RelationshipService
}

// NewChatService 创建会话服务
func NewChatService(gw store.Gateway, rel *RelationshipService) *ChatService {
	return &ChatService{gw: gw, rel: rel}
}

// GetOrCreateChat 获取或创建一对用户的私聊会话
// 去重键 pair_key 带唯一索引，并发创建同一配对时撞到 Conflict 的一方
// 重查并收敛到赢家的那条会话
func (s *ChatService) GetOrCreateChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	if userA == "" || userB == "" {
		return nil, errs.Validationf("both users are required")
	}
	if userA == userB {
		return nil, errs.Validationf("cannot open chat with yourself")
	}

	pairKey := model.PairKey(userA, userB)
	existing, err := s.chatByPairKey(ctx, pairKey)
	if err != nil {
		return nil, err
	}

	chat := existing
	if chat == nil {
		chat = &model.Chat{IsGroup: false, PairKey: pairKey}
		if err := s.gw.Insert(ctx, store.CollectionChats, chat); err != nil {
			if !errs.IsConflict(err) {
				return nil, err
			}
			// 另一个执行流刚创建了同一配对的会话
			chat, err = s.chatByPairKey(ctx, pairKey)
			if err != nil {
				return nil, err
			}
			if chat == nil {
				return nil, errs.Conflictf("chat creation race lost and winner not found")
			}
		} else {
			logger.Debug("私聊会话已创建", zap.String("chat_id", chat.ID), zap.String("pair_key", pairKey))
		}
	}

	// 成员行插入幂等：重跑部分完成的创建流程不会产生重复行
	for _, userID := range []string{userA, userB} {
		member := &model.ChatMember{ChatID: chat.ID, UserID: userID}
		if err := s.gw.Insert(ctx, store.CollectionChatMembers, member); err != nil && !errs.IsConflict(err) {
			return nil, err
		}
	}

	return chat, nil
}

// ListVisibleChats 列出用户当前可见的私聊会话
// 可见 = 自己是成员且另一名成员仍是好友；好友关系结束后会话
// 立即隐藏但不删除，只有 RemoveFriend 才真正删除
func (s *ChatService) ListVisibleChats(ctx context.Context, userID string) ([]model.Chat, error) {
	friends, err := s.rel.ListFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	friendSet := make(map[string]bool, len(friends))
	for _, friend := range friends {
		friendSet[friend.ID] = true
	}

	var memberships []model.ChatMember
	err = s.gw.Query(ctx, store.CollectionChatMembers, store.Filter{"user_id": userID}, store.QueryOptions{}, &memberships)
	if err != nil {
		return nil, err
	}

	var visible []model.Chat
	for _, membership := range memberships {
		var chats []model.Chat
		err := s.gw.Query(ctx, store.CollectionChats, store.Filter{"id": membership.ChatID}, store.QueryOptions{Limit: 1}, &chats)
		if err != nil {
			return nil, err
		}
		if len(chats) == 0 || chats[0].IsGroup {
			continue
		}

		otherID, err := s.otherMember(ctx, membership.ChatID, userID)
		if err != nil {
			return nil, err
		}
		if otherID != "" && friendSet[otherID] {
			visible = append(visible, chats[0])
		}
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].CreatedAt.Before(visible[j].CreatedAt)
	})
	return visible, nil
}

// ChatWithUser 返回与指定用户的私聊会话
// 不存在时返回 NotFound
func (s *ChatService) ChatWithUser(ctx context.Context, userID, otherID string) (*model.Chat, error) {
	chat, err := s.chatByPairKey(ctx, model.PairKey(userID, otherID))
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, errs.NotFoundf("no chat between %s and %s", userID, otherID)
	}
	return chat, nil
}

// DeleteChat 删除会话及其全部消息和成员
func (s *ChatService) DeleteChat(ctx context.Context, chatID string) error {
	return deleteChatCascade(ctx, s.gw, chatID)
}

// chatByPairKey 按去重键查会话
func (s *ChatService) chatByPairKey(ctx context.Context, pairKey string) (*model.Chat, error) {
	return findChatByPairKey(ctx, s.gw, pairKey)
}

// otherMember 会话里除自己之外的成员ID
func (s *ChatService) otherMember(ctx context.Context, chatID, userID string) (string, error) {
	var members []model.ChatMember
	err := s.gw.Query(ctx, store.CollectionChatMembers, store.Filter{"chat_id": chatID}, store.QueryOptions{}, &members)
	if err != nil {
		return "", err
	}
	for _, member := range members {
		if member.UserID != userID {
			return member.UserID, nil
		}
	}
	return "", nil
}

// findChatByPairKey 按去重键查会话，不存在返回 nil
func findChatByPairKey(ctx context.Context, gw store.Gateway, pairKey string) (*model.Chat, error) {
	var chats []model.Chat
	err := gw.Query(ctx, store.CollectionChats, store.Filter{"pair_key": pairKey}, store.QueryOptions{Limit: 1}, &chats)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, nil
	}
	return &chats[0], nil
}

// findChatByPair 按无序用户对查私聊会话
func findChatByPair(ctx context.Context, gw store.Gateway, userA, userB string) (*model.Chat, error) {
	return findChatByPairKey(ctx, gw, model.PairKey(userA, userB))
}

// deleteChatCascade 按引用依赖顺序删除会话
// 消息和成员不允许比所属会话活得久；每一步删0行也安全，
// 重跑部分完成的删除流程是幂等的
func deleteChatCascade(ctx context.Context, gw store.Gateway, chatID string) error {
	if _, err := gw.Delete(ctx, store.CollectionMessages, store.Filter{"chat_id": chatID}); err != nil {
		return err
	}
	if _, err := gw.Delete(ctx, store.CollectionChatMembers, store.Filter{"chat_id": chatID}); err != nil {
		return err
	}
	if _, err := gw.Delete(ctx, store.CollectionChats, store.Filter{"id": chatID}); err != nil {
		return err
	}
	logger.Debug("会话已级联删除", zap.String("chat_id", chatID))
	return nil
}
