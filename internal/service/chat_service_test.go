package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cielo-chat-server/internal/i18n"
	"cielo-chat-server/internal/llm"
	"cielo-chat-server/internal/model"
	"cielo-chat-server/pkg/jwt"
)

const testSecret = "test-secret-key-at-least-32-chars!!"

type testEnv struct {
	svc       *ChatService
	store     *fakeStore
	completer *fakeCompleter
	revoker   *fakeRevoker
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store := newFakeStore()
	completer := &fakeCompleter{reply: "We have two-bedroom units available."}
	revoker := newFakeRevoker()
	svc := NewChatService(
		fakeSessions{store},
		fakeMessages{store},
		completer,
		jwt.NewJWTService(testSecret, 24*time.Hour),
		revoker,
		zap.NewNop(),
		opts,
	)
	return &testEnv{svc: svc, store: store, completer: completer, revoker: revoker}
}

func (e *testEnv) createSession(t *testing.T) *SessionTokenResponse {
	t.Helper()
	resp, err := e.svc.CreateSession(context.Background(), &CreateSessionRequest{})
	require.NoError(t, err)
	return resp
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	resp, err := env.svc.CreateSession(ctx, &CreateSessionRequest{
		UserEmail: strPtr("  ana@example.com "),
		UserName:  strPtr(""),
		UserRole:  "Tenant",
		Locale:    i18n.LocaleSpanish,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionToken)
	assert.Equal(t, model.UserRoleTenant, resp.UserRole)
	assert.Equal(t, i18n.T(i18n.LocaleSpanish, i18n.KeyGreeting), resp.Greeting)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), resp.ExpiresAt, 5*time.Second)

	id, err := uuid.Parse(resp.SessionID)
	require.NoError(t, err)
	stored, err := fakeSessions{env.store}.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsActive)
	require.NotNil(t, stored.UserEmail)
	assert.Equal(t, "ana@example.com", *stored.UserEmail)
	assert.Nil(t, stored.UserName)
}

func TestCreateSession_Defaults(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp, err := env.svc.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.UserRoleVisitor, resp.UserRole)
	assert.Equal(t, i18n.T(i18n.LocaleEnglish, i18n.KeyGreeting), resp.Greeting)
}

func TestCreateSession_Errors(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{UserRole: "landlord"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	env.store.failSessionCreate = true
	_, err = env.svc.CreateSession(context.Background(), &CreateSessionRequest{})
	assert.ErrorIs(t, err, errStorage)
}

func TestCreateSession_ConcurrentDistinctIDs(t *testing.T) {
	env := newTestEnv(t, Options{})

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{})
			if assert.NoError(t, err) {
				ids[i] = resp.SessionID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
}

func TestResumeSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	created := env.createSession(t)

	resumed, err := env.svc.ResumeSession(ctx, created.SessionToken, i18n.LocaleEnglish)
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, resumed.SessionID)
	assert.Equal(t, created.SessionToken, resumed.SessionToken)
	assert.WithinDuration(t, created.ExpiresAt, resumed.ExpiresAt, time.Second)

	_, err = env.svc.ResumeSession(ctx, "", i18n.LocaleEnglish)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)

	_, err = env.svc.ResumeSession(ctx, "garbage", i18n.LocaleEnglish)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)

	// 令牌合法但会话不存在
	orphan, _, err := jwt.NewJWTService(testSecret, time.Hour).GenerateSessionToken(uuid.New(), model.UserRoleVisitor)
	require.NoError(t, err)
	_, err = env.svc.ResumeSession(ctx, orphan, i18n.LocaleEnglish)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	created := env.createSession(t)

	require.NoError(t, env.svc.CloseSession(ctx, created.SessionID))

	id := uuid.MustParse(created.SessionID)
	assert.Equal(t, 24*time.Hour, env.revoker.revoked[id])

	_, err := env.svc.ResumeSession(ctx, created.SessionToken, i18n.LocaleEnglish)
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.ErrorIs(t, env.svc.CloseSession(ctx, uuid.NewString()), ErrSessionNotFound)
	assert.ErrorIs(t, env.svc.CloseSession(ctx, "not-a-uuid"), ErrInvalidSessionID)
	assert.ErrorIs(t, env.svc.CloseSession(ctx, " "), ErrEmptySessionID)
}

func TestCloseSession_RevokerDownStillCloses(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	created := env.createSession(t)

	env.revoker.err = errors.New("redis down")
	require.NoError(t, env.svc.CloseSession(ctx, created.SessionID))

	env.revoker.err = nil
	_, err := env.svc.ResumeSession(ctx, created.SessionToken, i18n.LocaleEnglish)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestGetConversation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	created := env.createSession(t)

	// 无消息的会话、不存在的会话、非法 ID 都返回空列表
	for _, id := range []string{created.SessionID, uuid.NewString(), "not-a-uuid"} {
		msgs, err := env.svc.GetConversation(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	}

	for _, text := range []string{"first", "second", "third"} {
		_, err := env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: text})
		require.NoError(t, err)
	}

	msgs, err := env.svc.GetConversation(ctx, created.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "messages must be in creation order")
	}
	assert.Equal(t, "first", msgs[0].Message)
	assert.Equal(t, model.SenderRoleUser, msgs[0].SenderRole)
	assert.Equal(t, model.SenderRoleAssistant, msgs[1].SenderRole)
	assert.Equal(t, "third", msgs[4].Message)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	var created []*SessionTokenResponse
	for i := 0; i < 5; i++ {
		role := model.UserRoleVisitor
		if i == 4 {
			role = model.UserRoleTenant
		}
		resp, err := env.svc.CreateSession(ctx, &CreateSessionRequest{UserRole: role})
		require.NoError(t, err)
		created = append(created, resp)
	}
	_, err := env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created[4].SessionID, Message: "hi"})
	require.NoError(t, err)

	first, err := env.svc.ListSessions(ctx, &ListSessionsRequest{Limit: 2, Offset: 0})
	require.NoError(t, err)
	second, err := env.svc.ListSessions(ctx, &ListSessionsRequest{Limit: 2, Offset: 2})
	require.NoError(t, err)

	require.Len(t, first.Sessions, 2)
	require.Len(t, second.Sessions, 2)
	assert.EqualValues(t, 5, first.Total)

	seen := map[string]bool{}
	for _, s := range append(first.Sessions, second.Sessions...) {
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}

	// 最新的在前，消息数来自聚合查询
	assert.Equal(t, created[4].SessionID, first.Sessions[0].ID)
	assert.EqualValues(t, 2, first.Sessions[0].MessageCount)
	assert.EqualValues(t, 0, first.Sessions[1].MessageCount)
	assert.Equal(t, created[3].SessionID, first.Sessions[1].ID)

	tenants, err := env.svc.ListSessions(ctx, &ListSessionsRequest{Role: "tenant"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, tenants.Total)
	assert.Equal(t, DefaultListLimit, tenants.Limit)

	_, err = env.svc.ListSessions(ctx, &ListSessionsRequest{Role: "landlord"})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestListSessions_Paging(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name       string
		req        *ListSessionsRequest
		wantLimit  int
		wantOffset int
	}{
		{name: "nil request", req: nil, wantLimit: DefaultListLimit},
		{name: "default", req: &ListSessionsRequest{}, wantLimit: DefaultListLimit},
		{name: "too large", req: &ListSessionsRequest{Limit: 1000}, wantLimit: MaxListLimit},
		{name: "negative", req: &ListSessionsRequest{Limit: -5, Offset: -3}, wantLimit: 1},
		{name: "explicit", req: &ListSessionsRequest{Limit: 10, Offset: 20}, wantLimit: 10, wantOffset: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.svc.ListSessions(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, resp.Limit)
			assert.Equal(t, tt.wantOffset, resp.Offset)
			assert.NotNil(t, resp.Sessions)
		})
	}
}

func TestPostMessage_StoresUserMessageBeforeCompletion(t *testing.T) {
	env := newTestEnv(t, Options{})
	created := env.createSession(t)
	sessionID := uuid.MustParse(created.SessionID)

	var userRowsAtCall, assistantRowsAtCall int
	env.completer.before = func() {
		userRowsAtCall = env.store.countRole(sessionID, model.SenderRoleUser)
		assistantRowsAtCall = env.store.countRole(sessionID, model.SenderRoleAssistant)
	}

	resp, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{
		SessionID: created.SessionID,
		Message:   "Is there parking?",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, userRowsAtCall)
	assert.Equal(t, 0, assistantRowsAtCall)
	assert.Equal(t, "We have two-bedroom units available.", resp.Reply)
	assert.False(t, resp.Degraded)
	assert.Empty(t, resp.ErrorCode)
	assert.NotEmpty(t, resp.MessageID)
	assert.NotEmpty(t, resp.ReplyID)
	assert.Equal(t, 1, env.store.countRole(sessionID, model.SenderRoleAssistant))
}

func TestPostMessage_PromptContainsSystemAndHistory(t *testing.T) {
	env := newTestEnv(t, Options{SystemPrompt: "custom prompt", HistoryLimit: 4})
	ctx := context.Background()
	created := env.createSession(t)

	for i := 0; i < 3; i++ {
		_, err := env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: strings.Repeat("q", i+1)})
		require.NoError(t, err)
	}

	require.Equal(t, 3, env.completer.callCount())
	last := env.completer.calls[2]

	// system + 最近 4 条（含本条用户消息）
	require.Len(t, last, 5)
	assert.Equal(t, llm.Message{Role: llm.RoleSystem, Content: "custom prompt"}, last[0])
	assert.Equal(t, llm.RoleUser, last[1].Role)
	assert.Equal(t, "qq", last[1].Content)
	assert.Equal(t, llm.RoleAssistant, last[2].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "qqq"}, last[4])

	first := env.completer.calls[0]
	require.Len(t, first, 2)
	assert.Equal(t, "custom prompt", first[0].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "q"}, first[1])
}

func TestPostMessage_Validation(t *testing.T) {
	env := newTestEnv(t, Options{MaxMessageLength: 10})
	created := env.createSession(t)

	tests := []struct {
		name    string
		req     *PostMessageRequest
		wantErr error
	}{
		{name: "nil request", req: nil, wantErr: ErrEmptySessionID},
		{name: "missing session", req: &PostMessageRequest{Message: "hi"}, wantErr: ErrEmptySessionID},
		{name: "empty message", req: &PostMessageRequest{SessionID: created.SessionID}, wantErr: ErrEmptyMessage},
		{name: "blank message", req: &PostMessageRequest{SessionID: created.SessionID, Message: " \n\t"}, wantErr: ErrEmptyMessage},
		{name: "too long", req: &PostMessageRequest{SessionID: created.SessionID, Message: strings.Repeat("ñ", 11)}, wantErr: ErrMessageTooLong},
		{name: "malformed session", req: &PostMessageRequest{SessionID: "abc", Message: "hi"}, wantErr: ErrInvalidSessionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.PostMessage(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// 校验失败不写库、不调用大模型
	env.store.mu.Lock()
	assert.Empty(t, env.store.messages)
	env.store.mu.Unlock()
	assert.Zero(t, env.completer.callCount())

	// 恰好达到上限时允许
	_, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{SessionID: created.SessionID, Message: strings.Repeat("ñ", 10)})
	assert.NoError(t, err)
}

func TestPostMessage_CompletionFailureDegrades(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantKey  string
	}{
		{name: "not configured", err: llm.ErrNotConfigured, wantCode: ErrorCodeAINotConfigured, wantKey: i18n.KeyFallbackConfig},
		{name: "unreachable", err: errors.New("dial tcp: connection refused"), wantCode: ErrorCodeAIUnavailable, wantKey: i18n.KeyFallbackUpstream},
		{name: "upstream status", err: &llm.APIError{StatusCode: 500, Body: `{"error":"secret upstream detail"}`}, wantCode: ErrorCodeAIUpstream, wantKey: i18n.KeyFallbackUpstream},
		{name: "empty reply", err: llm.ErrEmptyCompletion, wantCode: ErrorCodeAIEmptyReply, wantKey: i18n.KeyFallbackEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			env.completer.err = tt.err
			created := env.createSession(t)
			sessionID := uuid.MustParse(created.SessionID)

			resp, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{
				SessionID: created.SessionID,
				Message:   "hello",
				Locale:    i18n.LocaleEnglish,
			})
			require.NoError(t, err)
			assert.True(t, resp.Degraded)
			assert.Equal(t, tt.wantCode, resp.ErrorCode)
			assert.Equal(t, i18n.T(i18n.LocaleEnglish, tt.wantKey), resp.Reply)
			assert.NotContains(t, resp.Reply, "secret upstream detail")
			assert.Empty(t, resp.ReplyID)

			assert.Equal(t, 1, env.store.countRole(sessionID, model.SenderRoleUser))
			assert.Equal(t, 0, env.store.countRole(sessionID, model.SenderRoleAssistant))
		})
	}
}

func TestPostMessage_LocalizedFallback(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.completer.err = llm.ErrNotConfigured
	created := env.createSession(t)

	resp, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{
		SessionID: created.SessionID,
		Message:   "hola",
		Locale:    i18n.LocaleSpanish,
	})
	require.NoError(t, err)
	assert.Equal(t, i18n.T(i18n.LocaleSpanish, i18n.KeyFallbackConfig), resp.Reply)
}

func TestPostMessage_StoreUserMessageFails(t *testing.T) {
	env := newTestEnv(t, Options{})
	created := env.createSession(t)
	env.store.failMessageCreate = func(m *model.ChatMessage) bool { return m.SenderRole == model.SenderRoleUser }

	_, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{SessionID: created.SessionID, Message: "hi"})
	assert.ErrorIs(t, err, ErrStoreMessage)
	assert.Zero(t, env.completer.callCount())
}

func TestPostMessage_OrphanSessionRejectedByStore(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{SessionID: uuid.NewString(), Message: "hi"})
	assert.ErrorIs(t, err, ErrStoreMessage)
	assert.Zero(t, env.completer.callCount())
}

func TestPostMessage_StoreReplyFailsStillReturnsReply(t *testing.T) {
	env := newTestEnv(t, Options{})
	created := env.createSession(t)
	env.store.failMessageCreate = func(m *model.ChatMessage) bool { return m.SenderRole == model.SenderRoleAssistant }

	resp, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{SessionID: created.SessionID, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, env.completer.reply, resp.Reply)
	assert.False(t, resp.Degraded)
	assert.Empty(t, resp.ReplyID)
}

func TestPostMessage_HistoryFailureSendsCurrentMessage(t *testing.T) {
	env := newTestEnv(t, Options{})
	created := env.createSession(t)
	env.store.failHistory = true

	_, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{SessionID: created.SessionID, Message: "still works?"})
	require.NoError(t, err)

	require.Equal(t, 1, env.completer.callCount())
	call := env.completer.calls[0]
	require.Len(t, call, 2)
	assert.Equal(t, llm.RoleSystem, call[0].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "still works?"}, call[1])
}

func TestPostMessage_RoundTripVerbatim(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	created := env.createSession(t)

	text := "  Hi!\n¿Aceptan mascotas? 🐶 <script>alert(1)</script>  "
	_, err := env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: text})
	require.NoError(t, err)

	msgs, err := env.svc.GetConversation(ctx, created.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, text, msgs[0].Message)
}

func TestPostMessage_RequireSessionToken(t *testing.T) {
	env := newTestEnv(t, Options{RequireSessionToken: true})
	ctx := context.Background()
	created := env.createSession(t)
	other := env.createSession(t)

	_, err := env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: "hi"})
	assert.ErrorIs(t, err, ErrInvalidSessionToken)

	_, err = env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: "hi", SessionToken: other.SessionToken})
	assert.ErrorIs(t, err, ErrInvalidSessionToken)

	resp, err := env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: "hi", SessionToken: created.SessionToken})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Reply)

	require.NoError(t, env.svc.CloseSession(ctx, created.SessionID))
	_, err = env.svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: "hi", SessionToken: created.SessionToken})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestPostMessage_NotifiesBothMessages(t *testing.T) {
	env := newTestEnv(t, Options{})
	notifier := newFakeNotifier()
	env.svc.SetNotifier(notifier)
	created := env.createSession(t)

	_, err := env.svc.PostMessage(context.Background(), &PostMessageRequest{SessionID: created.SessionID, Message: "hi"})
	require.NoError(t, err)

	// 用户消息先于助手回复
	for _, role := range []string{model.SenderRoleUser, model.SenderRoleAssistant} {
		select {
		case msg := <-notifier.ch:
			assert.Equal(t, created.SessionID, msg.SessionID)
			assert.Equal(t, role, msg.SenderRole)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notification")
		}
	}
}

func TestPostMessage_CallerCancelDoesNotAbortCompletion(t *testing.T) {
	store := newFakeStore()
	completer := newBlockingCompleter()
	svc := NewChatService(
		fakeSessions{store},
		fakeMessages{store},
		completer,
		jwt.NewJWTService(testSecret, 24*time.Hour),
		nil,
		zap.NewNop(),
		Options{},
	)
	created, err := svc.CreateSession(context.Background(), &CreateSessionRequest{})
	require.NoError(t, err)
	sessionID := uuid.MustParse(created.SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		resp *PostMessageResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := svc.PostMessage(ctx, &PostMessageRequest{SessionID: created.SessionID, Message: "When does the pool open?"})
		done <- result{resp, err}
	}()

	select {
	case <-completer.started:
	case <-time.After(time.Second):
		t.Fatal("completion not started")
	}
	cancel()
	close(completer.release)

	var r result
	select {
	case r = <-done:
	case <-time.After(time.Second):
		t.Fatal("PostMessage did not return")
	}
	require.NoError(t, r.err)
	assert.False(t, r.resp.Degraded)
	assert.Equal(t, "The pool opens at 7am.", r.resp.Reply)
	assert.NotEmpty(t, r.resp.ReplyID)
	assert.Equal(t, 1, store.countRole(sessionID, model.SenderRoleAssistant))
}

func TestResumeSession_RevokerDownFallsBackToStore(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	created := env.createSession(t)
	env.revoker.err = errors.New("redis down")

	resumed, err := env.svc.ResumeSession(ctx, created.SessionToken, i18n.LocaleEnglish)
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, resumed.SessionID)

	require.NoError(t, env.svc.CloseSession(ctx, created.SessionID))
	_, err = env.svc.ResumeSession(ctx, created.SessionToken, i18n.LocaleEnglish)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func strPtr(s string) *string {
	return &s
}
