// Package repository 提供数据访问层的实现
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cielo-chat-server/internal/model"
)

// SessionRepository 会话数据访问层
// 负责 chat_sessions 表的所有数据库操作
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建 SessionRepository 实例
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create 创建新会话
// 参数:
//   - ctx: 上下文
//   - session: 会话对象，ID 和 CreatedAt 会被自动填充
//
// 返回:
//   - error: 数据库错误
func (r *SessionRepository) Create(ctx context.Context, session *model.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID 根据 ID 获取会话
// 参数:
//   - ctx: 上下文
//   - id: 会话ID
//
// 返回:
//   - *model.ChatSession: 会话对象，未找到返回 nil
//   - error: 数据库错误
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// List 分页获取会话，最新的在前
// 参数:
//   - ctx: 上下文
//   - limit: 每页数量
//   - offset: 跳过的记录数
//   - role: 按角色过滤，空字符串表示不过滤
//
// 返回:
//   - []model.ChatSession: 会话列表
//   - error: 数据库错误
func (r *SessionRepository) List(ctx context.Context, limit, offset int, role string) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.filtered(ctx, role).
		Order("created_at DESC").
		Order("id DESC"). // 同一时间戳下按 UUIDv7 排序
		Offset(offset).
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// Count 统计会话总数
func (r *SessionRepository) Count(ctx context.Context, role string) (int64, error) {
	var total int64
	err := r.filtered(ctx, role).Count(&total).Error
	return total, err
}

// Deactivate 关闭会话
// 将 is_active 置为 false 并记录关闭时间
// 返回:
//   - bool: 是否有记录被更新（false 表示会话不存在）
//   - error: 数据库错误
func (r *SessionRepository) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active": false,
			"closed_at": time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// filtered 构建带角色过滤的基础查询
func (r *SessionRepository) filtered(ctx context.Context, role string) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.ChatSession{})
	if role != "" {
		query = query.Where("user_role = ?", role)
	}
	return query
}
