package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BlockRelation 拉黑关系
// 行本身有方向（谁拉黑谁），查询时对称判断：任一方向存在即视为互相不可见
// 不变式：存在拉黑关系的一对用户不允许再有 pending/accepted 的好友请求
type BlockRelation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	BlockerID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_block_pair" json:"blocker_id"`
	BlockedID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_block_pair" json:"blocked_id"`
	CreatedAt time.Time `gorm:"comment:创建时间" json:"created_at"`
}

func (BlockRelation) TableName() string { return "blocked_users" }

// BeforeCreate 生成主键
func (b *BlockRelation) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
