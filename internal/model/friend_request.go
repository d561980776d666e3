package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 好友请求状态
// pending -> accepted / rejected
// 任意状态 -> blocked（终态，核心内不提供解封转换）
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusBlocked  = "blocked"
)

// FriendRequest 好友请求
// 配对键是无序的 {SenderID, ReceiverID}
// 不变式：同一对用户在任意时刻至多存在一条 pending/accepted 的请求
type FriendRequest struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SenderID   string    `gorm:"type:varchar(36);not null;index:idx_request_pair" json:"sender_id"`
	ReceiverID string    `gorm:"type:varchar(36);not null;index:idx_request_pair" json:"receiver_id"`
	Status     string    `gorm:"type:varchar(32);not null;default:'pending';comment:请求状态" json:"status"`
	CreatedAt  time.Time `gorm:"comment:创建时间" json:"created_at"`
	UpdatedAt  time.Time `gorm:"comment:更新时间" json:"updated_at"`
}

func (FriendRequest) TableName() string { return "friend_requests" }

// BeforeCreate 生成主键
func (r *FriendRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Other 返回配对中另一方的用户ID
func (r *FriendRequest) Other(userID string) string {
	if r.SenderID == userID {
		return r.ReceiverID
	}
	return r.SenderID
}

// Touches 请求是否涉及该用户
func (r *FriendRequest) Touches(userID string) bool {
	return r.SenderID == userID || r.ReceiverID == userID
}

// Active 是否为占位状态（pending/accepted）
// 用于判断能否再发起新的请求
func (r *FriendRequest) Active() bool {
	return r.Status == StatusPending || r.Status == StatusAccepted
}
