package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat 会话
// 本核心只处理单聊（IsGroup 恒为 false），群聊不在范围内
// PairKey 由成员对排序拼接而成并带唯一索引，
// 并发创建同一对用户的会话时由该约束保证只会落地一条
type Chat struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	IsGroup   bool      `gorm:"not null;default:false;comment:是否群聊" json:"is_group"`
	PairKey   string    `gorm:"type:varchar(80);uniqueIndex;comment:成员对去重键" json:"pair_key,omitempty"`
	CreatedAt time.Time `gorm:"comment:创建时间" json:"created_at"`
}

func (Chat) TableName() string { return "chats" }

// BeforeCreate 生成主键
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ChatMember 会话成员
// 不变式：单聊恰好两名不同成员，(ChatID, UserID) 唯一
type ChatMember struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_member" json:"chat_id"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_member" json:"user_id"`
	CreatedAt time.Time `gorm:"comment:创建时间" json:"created_at"`
}

func (ChatMember) TableName() string { return "chat_members" }

// BeforeCreate 生成主键
func (m *ChatMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// PairKey 计算一对用户的去重键
// 排序后拼接，与方向无关
func PairKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
