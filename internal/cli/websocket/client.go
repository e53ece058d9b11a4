// Package websocket 订阅服务器的会话实时消息
package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 消息类型常量
const (
	TypeHeartbeat   = "heartbeat"
	TypePong        = "pong"
	TypeChatMessage = "chat:message"
	TypeError       = "error"
)

// heartbeatInterval 心跳间隔
const heartbeatInterval = 30 * time.Second

// Message WebSocket 消息结构
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessage chat:message 的 payload
type ChatMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderRole string    `json:"sender_role"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Client WebSocket 客户端
type Client struct {
	conn      *websocket.Conn
	url       string
	sendChan  chan []byte
	done      chan struct{}
	mu        sync.Mutex
	isRunning bool
	onMessage func(*Message) // 消息回调
	onClose   func()         // 连接关闭回调
}

// NewClient 创建 WebSocket 客户端
// url: 完整的 ws:// 或 wss:// 地址（含 token 参数）
func NewClient(url string) *Client {
	return &Client{
		url:      url,
		sendChan: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// OnMessage 设置消息回调
func (c *Client) OnMessage(handler func(*Message)) {
	c.onMessage = handler
}

// OnClose 设置连接关闭回调
func (c *Client) OnClose(handler func()) {
	c.onClose = handler
}

// Connect 连接到服务器
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("客户端已在运行")
	}
	c.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("连接失败 (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("连接失败: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.isRunning = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	close(c.done)

	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Done 连接断开后关闭
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// SendHeartbeat 立即发送一次心跳
func (c *Client) SendHeartbeat() error {
	data, err := json.Marshal(&Message{Type: TypeHeartbeat, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}

	select {
	case c.sendChan <- data:
		return nil
	case <-c.Done():
		return fmt.Errorf("连接已关闭")
	default:
		return fmt.Errorf("发送缓冲区已满")
	}
}

// readPump 读取消息
func (c *Client) readPump() {
	defer c.Disconnect()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] 读取错误: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WS] 解析消息失败: %v", err)
			continue
		}

		if c.onMessage != nil {
			c.onMessage(&msg)
		}
	}
}

// writePump 写入消息并定时发送心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	done := c.Done()
	for {
		select {
		case <-done:
			return

		case data := <-c.sendChan:
			c.mu.Lock()
			err := c.conn.WriteMessage(websocket.TextMessage, data)
			c.mu.Unlock()
			if err != nil {
				c.Disconnect()
				return
			}

		case <-ticker.C:
			if err := c.SendHeartbeat(); err != nil {
				return
			}
		}
	}
}

// DecodeChatMessage 解析 chat:message 的 payload
func DecodeChatMessage(msg *Message) (*ChatMessage, error) {
	if msg.Type != TypeChatMessage {
		return nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var m ChatMessage
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
