// Package repository 提供数据访问层的实现
package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cielo-chat-server/internal/model"
)

// MessageRepository 消息数据访问层
// 负责 chat_messages 表的所有数据库操作
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建 MessageRepository 实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 创建新消息
// 参数:
//   - ctx: 上下文
//   - message: 消息对象，ID 和 CreatedAt 会被自动填充
//
// 返回:
//   - error: 数据库错误（包括外键约束失败）
func (r *MessageRepository) Create(ctx context.Context, message *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// GetBySessionID 获取会话的所有消息
// 按创建时间正序排列（最早的在前），不分页
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//
// 返回:
//   - []model.ChatMessage: 消息列表，会话不存在时为空
//   - error: 数据库错误
func (r *MessageRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) ([]model.ChatMessage, error) {
	messages := make([]model.ChatMessage, 0)
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// GetLatestBySessionID 获取会话的最新 N 条消息
// 用于组装大模型上下文
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//   - limit: 要获取的消息数量
//
// 返回:
//   - []model.ChatMessage: 消息列表（按时间正序）
//   - error: 数据库错误
func (r *MessageRepository) GetLatestBySessionID(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.ChatMessage, error) {
	messages := make([]model.ChatMessage, 0, limit)

	// 子查询先按时间倒序取最新的 N 条，外层再按时间正序排列
	subQuery := r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)

	err := r.db.WithContext(ctx).
		Table("(?) as t", subQuery).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error

	return messages, err
}

// sessionCount 聚合查询的扫描目标
type sessionCount struct {
	SessionID uuid.UUID
	Total     int64
}

// CountBySessionIDs 一次聚合查询统计多个会话的消息数
// 参数:
//   - ctx: 上下文
//   - sessionIDs: 会话ID列表
//
// 返回:
//   - map[uuid.UUID]int64: 会话ID -> 消息数，没有消息的会话不在 map 中
//   - error: 数据库错误
func (r *MessageRepository) CountBySessionIDs(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return counts, nil
	}

	var rows []sessionCount
	err := r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Select("session_id, COUNT(*) AS total").
		Where("session_id IN ?", sessionIDs).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.SessionID] = row.Total
	}
	return counts, nil
}
