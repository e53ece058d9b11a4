package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cielo-chat-server/internal/cache"
	"cielo-chat-server/internal/service"
)

// Broker 跨实例消息广播
type Broker interface {
	PublishChatMessage(ctx context.Context, sessionID uuid.UUID, message interface{}) error
	SubscribeChatMessages(ctx context.Context) *redis.PubSub
}

// Hub 是观察者连接的中心管理器
// 负责：
// 1. 管理每个会话的观察者
// 2. 将新消息发布到 Redis
// 3. 订阅 Redis 并把消息推送给本实例上的观察者
type Hub struct {
	// 观察者映射：sessionID -> 连接集合
	watchers map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	// 待广播的新消息，单协程按入队顺序发布
	outbox chan *service.MessageResponse

	// Run 退出后关闭
	done chan struct{}
	// 订阅确认后关闭
	ready     chan struct{}
	readyOnce sync.Once

	mu sync.RWMutex

	broker Broker
	logger *zap.Logger
}

const outboxSize = 256

// NewHub 创建 Hub 实例
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	return &Hub{
		watchers:   make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbox:     make(chan *service.MessageResponse, outboxSize),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
		broker:     broker,
		logger:     logger.Named("ws"),
	}
}

// Run 启动 Hub 的主循环，ctx 取消后关闭所有连接并返回
// 应该在单独的 goroutine 中运行
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go h.subscribe(ctx)
	go h.publishLoop(ctx)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Ready 订阅请求完成（无论成功与否）后关闭
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Register 注册观察者
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister 注销观察者
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// WatcherCount 返回会话当前的观察者数量
func (h *Hub) WatcherCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[sessionID])
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.watchers[client.sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.watchers[client.sessionID] = set
	}
	set[client] = struct{}{}

	h.logger.Info("watcher registered",
		zap.String("session_id", client.sessionID.String()),
		zap.Int("watchers", len(set)),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.watchers[client.sessionID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.watchers, client.sessionID)
		}
	}
	client.Close()

	h.logger.Info("watcher unregistered", zap.String("session_id", client.sessionID.String()))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, set := range h.watchers {
		for client := range set {
			client.Close()
		}
		delete(h.watchers, sessionID)
	}
}

// NotifyMessage 广播会话新消息
// 只入队不阻塞，队列满时丢弃并记录日志
func (h *Hub) NotifyMessage(msg *service.MessageResponse) {
	select {
	case h.outbox <- msg:
	default:
		h.logger.Warn("chat message outbox full, dropping", zap.String("session_id", msg.SessionID))
	}
}

// publishLoop 依次发布队列中的消息
func (h *Hub) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.outbox:
			h.publish(ctx, msg)
		}
	}
}

// publish 发布到 Redis 由所有实例的订阅协程分发；Redis 不可用时只推送给本实例
func (h *Hub) publish(ctx context.Context, msg *service.MessageResponse) {
	sessionID, err := uuid.Parse(msg.SessionID)
	if err != nil {
		return
	}

	if err := h.broker.PublishChatMessage(ctx, sessionID, msg); err != nil {
		h.logger.Warn("publish chat message failed, delivering locally",
			zap.String("session_id", msg.SessionID),
			zap.Error(err),
		)
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		h.deliver(sessionID, data)
	}
}

// subscribe 订阅所有会话的消息频道并分发给本实例的观察者
func (h *Hub) subscribe(ctx context.Context) {
	sub := h.broker.SubscribeChatMessages(ctx)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		h.logger.Error("subscribe chat messages failed", zap.Error(err))
	}
	h.readyOnce.Do(func() { close(h.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			sessionID, ok := cache.SessionIDFromChannel(m.Channel)
			if !ok {
				continue
			}
			h.deliver(sessionID, []byte(m.Payload))
		}
	}
}

// deliver 将消息推送给会话的观察者
func (h *Hub) deliver(sessionID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.watchers[sessionID]
	if len(set) == 0 {
		return
	}

	data, err := json.Marshal(NewMessage(TypeChatMessage, json.RawMessage(payload)))
	if err != nil {
		h.logger.Error("marshal chat frame failed", zap.Error(err))
		return
	}

	for client := range set {
		client.sendRaw(data)
	}
}
