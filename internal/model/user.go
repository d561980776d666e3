package model

import "time"

// User 用户模型
// 身份由外部系统提供，本核心只读，不负责注册/登录
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(64);comment:昵称" json:"name,omitempty"`
	Email     string    `gorm:"type:varchar(128);uniqueIndex;comment:邮箱" json:"email,omitempty"`
	AvatarURL string    `gorm:"type:varchar(255);comment:头像URL" json:"avatar_url,omitempty"`
	CreatedAt time.Time `gorm:"comment:创建时间" json:"created_at"`
}

func (User) TableName() string { return "users" }
