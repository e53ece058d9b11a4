// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRole 会话发起人角色常量
const (
	UserRoleVisitor  = "visitor"  // 未登录访客（默认）
	UserRoleTenant   = "tenant"   // 已登录租户
	UserRoleEmployee = "employee" // 员工
	UserRoleAdmin    = "admin"    // 管理员
)

// IsValidUserRole 判断角色是否合法
func IsValidUserRole(role string) bool {
	switch role {
	case UserRoleVisitor, UserRoleTenant, UserRoleEmployee, UserRoleAdmin:
		return true
	}
	return false
}

// ChatSession 聊天会话模型
// 对应数据库表 chat_sessions
// 每个浏览器会话创建一次，之后只有 IsActive/ClosedAt 会变化
type ChatSession struct {
	// ID 会话唯一标识，UUIDv7，按时间有序
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	// UserEmail 发起人邮箱，可选
	UserEmail *string `gorm:"size:255" json:"user_email"`

	// UserName 发起人姓名，可选
	UserName *string `gorm:"size:255" json:"user_name"`

	// UserRole 发起人角色: visitor / tenant / employee / admin
	UserRole string `gorm:"size:20;not null;default:visitor;index" json:"user_role"`

	// IsActive 会话是否可继续使用
	IsActive bool `gorm:"not null;default:true" json:"is_active"`

	// CreatedAt 会话创建时间
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	// ClosedAt 会话关闭时间，仅关闭后有值
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	// Messages 会话中的所有消息（一对多关系）
	// 删除会话时级联删除消息
	Messages []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName 指定表名
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// BeforeCreate 在插入前生成 UUIDv7
func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		s.ID = id
	}
	return nil
}
