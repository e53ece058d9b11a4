// Package jwt 提供聊天会话令牌的生成和验证功能
// 客户端持有令牌以在页面刷新后继续使用同一会话，有效期由服务端校验
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// 定义错误类型
var (
	ErrInvalidToken = errors.New("invalid token")     // Token 无效
	ErrExpiredToken = errors.New("token has expired") // Token 已过期
)

const (
	issuer         = "cielo-chat"
	subjectSession = "chat_session"
)

// SessionClaims 会话令牌的声明（Payload）
type SessionClaims struct {
	SessionID string `json:"sid"`  // 会话 ID
	Role      string `json:"role"` // 会话发起人角色
	jwt.RegisteredClaims
}

// JWTService 提供会话令牌相关操作
type JWTService struct {
	secret        []byte        // 签名密钥
	sessionExpire time.Duration // 会话令牌有效期
	now           func() time.Time
}

// NewJWTService 创建 JWTService 实例
// 参数:
//   - secret: 签名密钥，至少 32 个字符
//   - sessionExpire: 会话令牌有效期（与客户端复用窗口一致，默认 24h）
//
// 返回:
//   - *JWTService: JWT 服务实例
func NewJWTService(secret string, sessionExpire time.Duration) *JWTService {
	return &JWTService{
		secret:        []byte(secret),
		sessionExpire: sessionExpire,
		now:           time.Now,
	}
}

// GenerateSessionToken 生成会话令牌
// 参数:
//   - sessionID: 会话 ID
//   - role: 会话发起人角色
//
// 返回:
//   - string: 令牌字符串
//   - time.Time: 过期时间
//   - error: 生成错误
func (s *JWTService) GenerateSessionToken(sessionID uuid.UUID, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.sessionExpire)

	claims := SessionClaims{
		SessionID: sessionID.String(),
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subjectSession,
		},
	}

	// HS256 签名
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateSessionToken 验证会话令牌
// 只校验签名、有效期和令牌类型；吊销与会话状态由调用方检查
// 参数:
//   - tokenString: 令牌字符串
//
// 返回:
//   - *SessionClaims: 令牌中的声明信息
//   - uuid.UUID: 解析后的会话 ID
//   - error: ErrInvalidToken / ErrExpiredToken
func (s *JWTService) ValidateSessionToken(tokenString string) (*SessionClaims, uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithSubject(subjectSession),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, uuid.Nil, ErrExpiredToken
		}
		return nil, uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, uuid.Nil, ErrInvalidToken
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, uuid.Nil, ErrInvalidToken
	}

	return claims, sessionID, nil
}

// GetSessionExpire 获取会话令牌有效期
func (s *JWTService) GetSessionExpire() time.Duration {
	return s.sessionExpire
}
