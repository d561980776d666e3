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

// RelationshipService 好友关系状态机
// 负责好友请求与拉黑状态，请求/拉黑数据只允许本服务写入
type RelationshipService struct {
	gw store.Gateway
}

// NewRelationshipService 创建关系服务
func NewRelationshipService(gw store.Gateway) *RelationshipService {
	return &RelationshipService{gw: gw}
}

// SendRequest 发送好友请求
// 任一方向已有 pending/accepted 请求，或双方存在拉黑关系时返回 Conflict
func (s *RelationshipService) SendRequest(ctx context.Context, senderID, receiverID string) (*model.FriendRequest, error) {
	if senderID == "" || receiverID == "" {
		return nil, errs.Validationf("sender and receiver are required")
	}
	if senderID == receiverID {
		return nil, errs.Validationf("cannot send request to yourself")
	}

	// 拉黑检查先于插入，拉黑中的配对不允许再建立关系
	blocked, err := s.IsBlocked(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, errs.Conflictf("pair is blocked")
	}

	existing, err := s.requestBetween(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Active() {
		return nil, errs.Conflictf("active request already exists for pair")
	}

	request := &model.FriendRequest{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     model.StatusPending,
	}
	if err := s.gw.Insert(ctx, store.CollectionFriendRequests, request); err != nil {
		return nil, err
	}

	logger.Debug("好友请求已创建",
		zap.String("request_id", request.ID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", receiverID),
	)
	return request, nil
}

// RespondToRequest 响应好友请求（接受或拒绝）
// 只允许对 pending 请求操作；并发响应时只有一方生效
func (s *RelationshipService) RespondToRequest(ctx context.Context, requestID, decision string) error {
	if decision != model.StatusAccepted && decision != model.StatusRejected {
		return errs.Validationf("decision must be accepted or rejected")
	}

	var requests []model.FriendRequest
	err := s.gw.Query(ctx, store.CollectionFriendRequests, store.Filter{"id": requestID}, store.QueryOptions{}, &requests)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return errs.NotFoundf("request %s", requestID)
	}
	if requests[0].Status != model.StatusPending {
		return errs.InvalidStatef("request is %s, not pending", requests[0].Status)
	}

	// 状态守卫写进过滤条件，和并发响应者竞争时输的一方影响0行
	count, err := s.gw.Update(ctx, store.CollectionFriendRequests,
		store.Filter{"id": requestID, "status": model.StatusPending},
		map[string]any{"status": decision},
	)
	if err != nil {
		return err
	}
	if count == 0 {
		return errs.InvalidStatef("request is no longer pending")
	}
	return nil
}

// RemoveFriend 解除好友关系
// 删除配对的请求行并级联删除私聊会话；对不存在的关系是空操作
func (s *RelationshipService) RemoveFriend(ctx context.Context, userA, userB string) error {
	// 两个方向都删，删不到不算错（幂等）
	for _, f := range pairFilters("sender_id", "receiver_id", userA, userB) {
		if _, err := s.gw.Delete(ctx, store.CollectionFriendRequests, f); err != nil {
			return err
		}
	}

	chat, err := findChatByPair(ctx, s.gw, userA, userB)
	if err != nil {
		return err
	}
	if chat == nil {
		return nil
	}
	return deleteChatCascade(ctx, s.gw, chat.ID)
}

// BlockUser 拉黑用户
// 先把配对的请求置为 blocked，再落一条拉黑行；
// 每一步各自幂等，部分失败后整体重试是安全的
func (s *RelationshipService) BlockUser(ctx context.Context, actorID, targetID string) error {
	if actorID == "" || targetID == "" {
		return errs.Validationf("actor and target are required")
	}
	if actorID == targetID {
		return errs.Validationf("cannot block yourself")
	}

	for _, f := range pairFilters("sender_id", "receiver_id", actorID, targetID) {
		if _, err := s.gw.Update(ctx, store.CollectionFriendRequests, f,
			map[string]any{"status": model.StatusBlocked}); err != nil {
			return err
		}
	}

	blocked, err := s.IsBlocked(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}

	relation := &model.BlockRelation{BlockerID: actorID, BlockedID: targetID}
	if err := s.gw.Insert(ctx, store.CollectionBlockedUsers, relation); err != nil {
		// 并发拉黑撞到唯一索引视为已完成
		if errs.IsConflict(err) {
			return nil
		}
		return err
	}

	logger.Debug("拉黑关系已建立",
		zap.String("blocker_id", actorID),
		zap.String("blocked_id", targetID),
	)
	return nil
}

// IsBlocked 双方之间是否存在拉黑关系（任一方向）
func (s *RelationshipService) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	for _, f := range pairFilters("blocker_id", "blocked_id", userA, userB) {
		var relations []model.BlockRelation
		if err := s.gw.Query(ctx, store.CollectionBlockedUsers, f, store.QueryOptions{Limit: 1}, &relations); err != nil {
			return false, err
		}
		if len(relations) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ListFriends 列出用户的好友
// 好友 = 所有 accepted 请求中的另一方
func (s *RelationshipService) ListFriends(ctx context.Context, userID string) ([]model.User, error) {
	accepted, err := s.acceptedRequests(ctx, userID)
	if err != nil {
		return nil, err
	}

	friends := make([]model.User, 0, len(accepted))
	seen := make(map[string]bool)
	for _, request := range accepted {
		otherID := request.Other(userID)
		if seen[otherID] {
			continue
		}
		seen[otherID] = true

		var users []model.User
		err := s.gw.Query(ctx, store.CollectionUsers, store.Filter{"id": otherID}, store.QueryOptions{Limit: 1}, &users)
		if err != nil {
			return nil, err
		}
		if len(users) > 0 {
			friends = append(friends, users[0])
		} else {
			// 用户资料缺失时仍保留ID，关系本身是成立的
			friends = append(friends, model.User{ID: otherID})
		}
	}
	return friends, nil
}

// ListPendingIncoming 列出发给该用户的待处理请求，新的在前
func (s *RelationshipService) ListPendingIncoming(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	var requests []model.FriendRequest
	err := s.gw.Query(ctx, store.CollectionFriendRequests,
		store.Filter{"receiver_id": userID, "status": model.StatusPending},
		store.QueryOptions{OrderBy: "created_at DESC"},
		&requests,
	)
	return requests, err
}

// ListRequests 列出涉及该用户的全部请求（请求收发箱），新的在前
func (s *RelationshipService) ListRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	var all []model.FriendRequest
	for _, f := range []store.Filter{{"sender_id": userID}, {"receiver_id": userID}} {
		var requests []model.FriendRequest
		if err := s.gw.Query(ctx, store.CollectionFriendRequests, f, store.QueryOptions{}, &requests); err != nil {
			return nil, err
		}
		all = append(all, requests...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all, nil
}

// acceptedRequests 取出涉及该用户的全部 accepted 请求
func (s *RelationshipService) acceptedRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	var all []model.FriendRequest
	filters := []store.Filter{
		{"sender_id": userID, "status": model.StatusAccepted},
		{"receiver_id": userID, "status": model.StatusAccepted},
	}
	for _, f := range filters {
		var requests []model.FriendRequest
		if err := s.gw.Query(ctx, store.CollectionFriendRequests, f, store.QueryOptions{}, &requests); err != nil {
			return nil, err
		}
		all = append(all, requests...)
	}
	return all, nil
}

// requestBetween 查找配对之间的请求（无序配对，两个方向都查）
// 优先返回占位中的请求
func (s *RelationshipService) requestBetween(ctx context.Context, userA, userB string) (*model.FriendRequest, error) {
	var found *model.FriendRequest
	for _, f := range pairFilters("sender_id", "receiver_id", userA, userB) {
		var requests []model.FriendRequest
		if err := s.gw.Query(ctx, store.CollectionFriendRequests, f, store.QueryOptions{}, &requests); err != nil {
			return nil, err
		}
		for i := range requests {
			if requests[i].Active() {
				r := requests[i]
				return &r, nil
			}
			if found == nil {
				r := requests[i]
				found = &r
			}
		}
	}
	return found, nil
}

// pairFilters 无序配对的两个方向过滤条件
func pairFilters(colA, colB, userA, userB string) []store.Filter {
	return []store.Filter{
		{colA: userA, colB: userB},
		{colA: userB, colB: userA},
	}
}
