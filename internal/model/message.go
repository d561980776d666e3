package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message 消息模型
// 严格属于一个会话；展示顺序按 (SentAt, ID) 升序，
// 乱序到达时排序结果保持稳定
type Message struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);not null;index" json:"chat_id"`
	SenderID  string    `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	SentAt    time.Time `gorm:"not null;index;comment:发送时间" json:"sent_at"`
	CreatedAt time.Time `gorm:"comment:落库时间" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// BeforeCreate 生成主键与发送时间
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	return nil
}

// Less 消息排序比较：先按发送时间，再按ID打破平局
func (m *Message) Less(other *Message) bool {
	if m.SentAt.Equal(other.SentAt) {
		return m.ID < other.ID
	}
	return m.SentAt.Before(other.SentAt)
}
