// Package cache 提供 Redis 缓存操作的封装
// 处理会话令牌吊销、实时消息广播等需要快速访问的数据
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cielo-chat-server/internal/config"
)

const (
	keyPrefixSession   = "chat:session:"
	keySuffixRevoked   = ":revoked"
	keySuffixMessages  = ":messages"
	chatMessagePattern = keyPrefixSession + "*" + keySuffixMessages
)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 不在此处探活，连接在首次使用时建立，断开后自动重连
// 参数:
//   - cfg: Redis 连接配置
//
// 返回:
//   - *RedisCache: 缓存实例
func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &RedisCache{client: client}
}

// NewRedisCacheFromClient 使用已有客户端创建实例
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ==================== 会话令牌吊销 ====================
// 会话关闭后，该会话已签发的所有令牌立即失效

func revokedKey(sessionID uuid.UUID) string {
	return keyPrefixSession + sessionID.String() + keySuffixRevoked
}

// RevokeSessionTokens 吊销会话的全部令牌
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//   - ttl: 保留时长，取令牌有效期即可，过期后令牌本身也已失效
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) RevokeSessionTokens(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, revokedKey(sessionID), time.Now().Unix(), ttl).Err()
}

// IsSessionRevoked 检查会话令牌是否已被吊销
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//
// 返回:
//   - bool: 是否已吊销
//   - error: Redis 操作错误
func (c *RedisCache) IsSessionRevoked(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ==================== Pub/Sub ====================
// 多实例部署时，任一实例写入的消息都会广播给所有实例上的观察者

// ChatMessageChannel 返回会话消息频道名
func ChatMessageChannel(sessionID uuid.UUID) string {
	return keyPrefixSession + sessionID.String() + keySuffixMessages
}

// SessionIDFromChannel 从频道名解析会话ID
func SessionIDFromChannel(channel string) (uuid.UUID, bool) {
	if !strings.HasPrefix(channel, keyPrefixSession) || !strings.HasSuffix(channel, keySuffixMessages) {
		return uuid.Nil, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(channel, keyPrefixSession), keySuffixMessages)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PublishChatMessage 发布会话新消息
// 参数:
//   - ctx: 上下文
//   - sessionID: 会话ID
//   - message: 消息内容（会被 JSON 序列化）
//
// 返回:
//   - error: 序列化或 Redis 操作错误
func (c *RedisCache) PublishChatMessage(ctx context.Context, sessionID uuid.UUID, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, ChatMessageChannel(sessionID), data).Err()
}

// SubscribeChatMessages 按模式订阅所有会话的消息频道
// 返回 PubSub 对象，调用方负责关闭
func (c *RedisCache) SubscribeChatMessages(ctx context.Context) *redis.PubSub {
	return c.client.PSubscribe(ctx, chatMessagePattern)
}
