package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cielo-chat-server/internal/llm"
	"cielo-chat-server/internal/model"
)

var errStorage = errors.New("storage unavailable")

// fakeStore 内存实现的 SessionStore + MessageStore
type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.ChatSession
	messages []model.ChatMessage

	failSessionCreate bool
	failMessageCreate func(m *model.ChatMessage) bool
	failHistory       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID]*model.ChatSession)}
}

type fakeSessions struct{ *fakeStore }
type fakeMessages struct{ *fakeStore }

func (f fakeSessions) Create(ctx context.Context, session *model.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSessionCreate {
		return errStorage
	}
	session.ID = uuid.Must(uuid.NewV7())
	session.CreatedAt = time.Now().UTC()
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f fakeSessions) GetByID(ctx context.Context, id uuid.UUID) (*model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f fakeSessions) filtered(role string) []model.ChatSession {
	var out []model.ChatSession
	for _, s := range f.sessions {
		if role == "" || s.UserRole == role {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

func (f fakeSessions) List(ctx context.Context, limit, offset int, role string) ([]model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.filtered(role)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f fakeSessions) Count(ctx context.Context, role string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.filtered(role))), nil
}

func (f fakeSessions) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	s.IsActive = false
	s.ClosedAt = &now
	return true, nil
}

func (f fakeMessages) Create(ctx context.Context, message *model.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMessageCreate != nil && f.failMessageCreate(message) {
		return errStorage
	}
	// 模拟外键约束
	if _, ok := f.sessions[message.SessionID]; !ok {
		return errors.New("foreign key constraint failed")
	}
	message.ID = uuid.Must(uuid.NewV7())
	message.CreatedAt = time.Now().UTC()
	f.messages = append(f.messages, *message)
	return nil
}

func (f fakeMessages) bySession(id uuid.UUID) []model.ChatMessage {
	out := make([]model.ChatMessage, 0)
	for _, m := range f.messages {
		if m.SessionID == id {
			out = append(out, m)
		}
	}
	return out
}

func (f fakeMessages) GetBySessionID(ctx context.Context, id uuid.UUID) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySession(id), nil
}

func (f fakeMessages) GetLatestBySessionID(ctx context.Context, id uuid.UUID, limit int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHistory {
		return nil, errStorage
	}
	all := f.bySession(id)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (f fakeMessages) CountBySessionIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[uuid.UUID]int64)
	for _, id := range ids {
		if n := len(f.bySession(id)); n > 0 {
			counts[id] = int64(n)
		}
	}
	return counts, nil
}

func (f *fakeStore) countRole(sessionID uuid.UUID, role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.SenderRole == role {
			n++
		}
	}
	return n
}

// fakeCompleter 记录每次调用的上下文
type fakeCompleter struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  [][]llm.Message
	before func()
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, opts ...llm.Option) (string, error) {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := append([]llm.Message(nil), messages...)
	f.calls = append(f.calls, copied)
	return f.reply, f.err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blockingCompleter 等待 release 后返回，模拟耗时的上游调用
type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingCompleter() *blockingCompleter {
	return &blockingCompleter{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingCompleter) Complete(ctx context.Context, messages []llm.Message, opts ...llm.Option) (string, error) {
	close(b.started)
	<-b.release
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "The pool opens at 7am.", nil
}

// fakeRevoker 内存吊销列表
type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[uuid.UUID]time.Duration
	err     error
}

func newFakeRevoker() *fakeRevoker {
	return &fakeRevoker{revoked: make(map[uuid.UUID]time.Duration)}
}

func (f *fakeRevoker) RevokeSessionTokens(ctx context.Context, id uuid.UUID, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.revoked[id] = ttl
	return nil
}

func (f *fakeRevoker) IsSessionRevoked(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.revoked[id]
	return ok, nil
}

// fakeNotifier 收集通知
type fakeNotifier struct {
	ch chan *MessageResponse
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan *MessageResponse, 16)}
}

func (f *fakeNotifier) NotifyMessage(msg *MessageResponse) {
	f.ch <- msg
}
