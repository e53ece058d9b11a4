// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SenderRole 消息发送方常量
const (
	SenderRoleUser      = "user"      // 用户消息
	SenderRoleAssistant = "assistant" // AI 助手回复
)

// ChatMessage 聊天消息模型
// 对应数据库表 chat_messages
// 只追加，不更新不删除；顺序以 (created_at, id) 为准
type ChatMessage struct {
	// ID 消息唯一标识，UUIDv7
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	// SessionID 所属会话ID，外键关联 chat_sessions.id
	SessionID uuid.UUID `gorm:"type:uuid;index;not null" json:"session_id"`

	// SenderRole 发送方: user / assistant
	SenderRole string `gorm:"size:20;not null" json:"sender_role"`

	// Message 消息正文，原样存储
	Message string `gorm:"type:text;not null" json:"message"`

	// CreatedAt 消息创建时间
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 指定表名
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// BeforeCreate 在插入前生成 UUIDv7
func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id
	}
	return nil
}
