// Package websocket 提供 WebSocket 通信功能
// 管理端通过 WebSocket 实时查看会话中的新消息
package websocket

import (
	"time"
)

// MessageType 消息类型常量
const (
	// 观察者 → 服务端
	TypeHeartbeat = "heartbeat" // 心跳

	// 服务端 → 观察者
	TypeChatMessage = "chat:message" // 会话新消息
	TypePong        = "pong"         // 心跳响应
	TypeError       = "error"        // 错误消息
)

// Message WebSocket 消息结构
// 所有消息都使用这个统一的结构
type Message struct {
	Type      string      `json:"type"`      // 消息类型
	Payload   interface{} `json:"payload"`   // 消息内容
	Timestamp int64       `json:"timestamp"` // 时间戳（毫秒）
}

// NewMessage 创建新消息
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ErrorPayload 错误消息 Payload
type ErrorPayload struct {
	Code    string `json:"code"`    // 错误码
	Message string `json:"message"` // 错误信息
}
