package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tangmingchang/edustream/internal/domain"
	"github.com/tangmingchang/edustream/internal/domain/chat"
	"github.com/tangmingchang/edustream/internal/port/cache"
	"github.com/tangmingchang/edustream/internal/port/database"
	"github.com/tangmingchang/edustream/internal/port/llm"
	"github.com/tangmingchang/edustream/pkg/protocol"
)

type mockStore struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	messages      map[string][]chat.Message
	nextID        int
	listCalls     int
}

var _ database.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]chat.Message),
	}
}

func (m *mockStore) CreateConversation(_ context.Context, c *chat.Conversation) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	created := &chat.Conversation{
		ID:        fmt.Sprintf("conv-%d", m.nextID),
		Title:     c.Title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.conversations[created.ID] = created
	return created, nil
}

func (m *mockStore) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("get conversation %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) ListConversations(_ context.Context, limit int) ([]chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Conversation
	for _, c := range m.conversations {
		if len(out) == limit {
			break
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockStore) UpdateConversationTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Title = title
	return nil
}

func (m *mockStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *mockStore) CreateMessage(_ context.Context, msg *chat.Message) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	created := *msg
	created.ID = fmt.Sprintf("msg-%d", m.nextID)
	created.CreatedAt = time.Now()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], created)
	return &created, nil
}

func (m *mockStore) ListMessages(_ context.Context, conversationID string) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]chat.Message(nil), m.messages[conversationID]...), nil
}

type mockProvider struct {
	tokens []string
	err    error
	// errAfter fails the stream after that many tokens when err is set.
	errAfter int
	got      []llm.ChatMessage
}

var _ llm.Provider = (*mockProvider)(nil)

func (m *mockProvider) StreamCompletion(_ context.Context, messages []llm.ChatMessage, fn llm.TokenFunc) error {
	m.got = messages
	for i, tok := range m.tokens {
		if m.err != nil && i == m.errAfter {
			return m.err
		}
		if err := fn(tok); err != nil {
			return err
		}
	}
	if m.err != nil && m.errAfter >= len(m.tokens) {
		return m.err
	}
	return nil
}

type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	lastTTL time.Duration
}

var _ cache.Cache = (*memCache)(nil)

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.lastTTL = ttl
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type frameRecorder struct {
	frames []protocol.ServerFrame
	failAt int // fail the nth emit (1-based); 0 disables
}

func (r *frameRecorder) emit(f protocol.ServerFrame) error {
	r.frames = append(r.frames, f)
	if r.failAt > 0 && len(r.frames) == r.failAt {
		return errors.New("socket gone")
	}
	return nil
}

func (r *frameRecorder) content() string {
	var b strings.Builder
	for _, f := range r.frames {
		if f.Type == protocol.TypeChunk {
			b.WriteString(f.Content)
		}
	}
	return b.String()
}

func TestRunTurnHappyPath(t *testing.T) {
	store := newMockStore()
	provider := &mockProvider{tokens: []string{"镜头", "语言"}}
	svc := NewChatService(store, provider, newMemCache(), nil, "qwen-turbo", 0)

	conv, err := svc.CreateConversation(context.Background(), "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	rec := &frameRecorder{}
	if err := svc.RunTurn(context.Background(), conv.ID, "什么是镜头语言", rec.emit); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if len(rec.frames) < 3 {
		t.Fatalf("expected start/chunks/end, got %+v", rec.frames)
	}
	if rec.frames[0].Type != protocol.TypeStart {
		t.Fatalf("expected leading start frame, got %+v", rec.frames[0])
	}
	if last := rec.frames[len(rec.frames)-1]; last.Type != protocol.TypeEnd {
		t.Fatalf("expected trailing end frame, got %+v", last)
	}
	if rec.content() != "镜头语言" {
		t.Fatalf("expected chunk concat %q, got %q", "镜头语言", rec.content())
	}

	msgs, _ := store.ListMessages(context.Background(), conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d", len(msgs))
	}
	if msgs[1].Role != chat.RoleAssistant || msgs[1].Content != "镜头语言" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
}

func TestRunTurnSetsTitleFromFirstMessage(t *testing.T) {
	store := newMockStore()
	svc := NewChatService(store, &mockProvider{tokens: []string{"ok"}}, nil, nil, "qwen-turbo", 0)

	conv, _ := svc.CreateConversation(context.Background(), "")

	long := strings.Repeat("电", 60)
	rec := &frameRecorder{}
	if err := svc.RunTurn(context.Background(), conv.ID, long, rec.emit); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	got, _ := store.GetConversation(context.Background(), conv.ID)
	if want := strings.Repeat("电", 50); got.Title != want {
		t.Fatalf("expected runewise truncated title, got %d runes", len([]rune(got.Title)))
	}

	// A later turn must not rename the conversation.
	if err := svc.RunTurn(context.Background(), conv.ID, "second", rec.emit); err != nil {
		t.Fatalf("second RunTurn: %v", err)
	}
	got, _ = store.GetConversation(context.Background(), conv.ID)
	if got.Title != strings.Repeat("电", 50) {
		t.Fatalf("title changed on second turn: %q", got.Title)
	}
}

func TestRunTurnProviderErrorSkipsPersist(t *testing.T) {
	store := newMockStore()
	provider := &mockProvider{tokens: []string{"par", "tial"}, err: errors.New("model unavailable"), errAfter: 2}
	svc := NewChatService(store, provider, nil, nil, "qwen-turbo", 0)

	conv, _ := svc.CreateConversation(context.Background(), "")
	rec := &frameRecorder{}

	err := svc.RunTurn(context.Background(), conv.ID, "hi", rec.emit)
	if err == nil {
		t.Fatal("expected error")
	}

	for _, f := range rec.frames {
		if f.Type == protocol.TypeEnd {
			t.Fatal("end frame must not follow a failed stream")
		}
	}

	msgs, _ := store.ListMessages(context.Background(), conv.ID)
	if len(msgs) != 1 || msgs[0].Role != chat.RoleUser {
		t.Fatalf("expected only the user message persisted, got %+v", msgs)
	}
}

func TestRunTurnEmitErrorAborts(t *testing.T) {
	store := newMockStore()
	provider := &mockProvider{tokens: []string{"a", "b", "c"}}
	svc := NewChatService(store, provider, nil, nil, "qwen-turbo", 0)

	conv, _ := svc.CreateConversation(context.Background(), "")
	rec := &frameRecorder{failAt: 2} // fail on the first chunk write

	if err := svc.RunTurn(context.Background(), conv.ID, "hi", rec.emit); err == nil {
		t.Fatal("expected error when emit fails")
	}

	msgs, _ := store.ListMessages(context.Background(), conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected no assistant message after aborted emit, got %d messages", len(msgs))
	}
}

func TestRunTurnBuildsPromptFromHistory(t *testing.T) {
	store := newMockStore()
	provider := &mockProvider{tokens: []string{"ok"}}
	svc := NewChatService(store, provider, nil, nil, "qwen-turbo", 0)

	conv, _ := svc.CreateConversation(context.Background(), "")
	rec := &frameRecorder{}

	if err := svc.RunTurn(context.Background(), conv.ID, "first question", rec.emit); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := svc.RunTurn(context.Background(), conv.ID, "second question", rec.emit); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(provider.got) != 4 {
		t.Fatalf("expected system+user+assistant+user, got %d messages", len(provider.got))
	}
	if provider.got[0].Role != chat.RoleSystem {
		t.Fatalf("expected system prompt first, got %+v", provider.got[0])
	}
	if provider.got[3].Content != "second question" {
		t.Fatalf("expected latest user message last, got %+v", provider.got[3])
	}
}

func TestHistoryServedFromCache(t *testing.T) {
	store := newMockStore()
	c := newMemCache()
	svc := NewChatService(store, &mockProvider{}, c, nil, "qwen-turbo", 0)

	conv, _ := svc.CreateConversation(context.Background(), "t")
	_, _ = store.CreateMessage(context.Background(), &chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: "hi"})

	if _, err := svc.ListMessages(context.Background(), conv.ID); err != nil {
		t.Fatalf("first list: %v", err)
	}
	before := store.listCalls
	if _, err := svc.ListMessages(context.Background(), conv.ID); err != nil {
		t.Fatalf("second list: %v", err)
	}
	if store.listCalls != before {
		t.Fatalf("expected cache hit, store queried again (%d -> %d)", before, store.listCalls)
	}
}

func TestHistoryCacheUsesConfiguredTTL(t *testing.T) {
	store := newMockStore()
	c := newMemCache()
	svc := NewChatService(store, &mockProvider{}, c, nil, "qwen-turbo", 90*time.Second)

	conv, _ := svc.CreateConversation(context.Background(), "t")
	_, _ = store.CreateMessage(context.Background(), &chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: "hi"})

	if _, err := svc.ListMessages(context.Background(), conv.ID); err != nil {
		t.Fatalf("list: %v", err)
	}
	if c.lastTTL != 90*time.Second {
		t.Fatalf("expected configured TTL on cache set, got %v", c.lastTTL)
	}

	// Zero TTL falls back to the default.
	c2 := newMemCache()
	svc2 := NewChatService(store, &mockProvider{}, c2, nil, "qwen-turbo", 0)
	if _, err := svc2.ListMessages(context.Background(), conv.ID); err != nil {
		t.Fatalf("list: %v", err)
	}
	if c2.lastTTL != defaultHistoryTTL {
		t.Fatalf("expected default TTL on cache set, got %v", c2.lastTTL)
	}
}

func TestResolveConversation(t *testing.T) {
	store := newMockStore()
	svc := NewChatService(store, &mockProvider{}, nil, nil, "qwen-turbo", 0)

	fresh, err := svc.ResolveConversation(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve empty: %v", err)
	}
	if fresh.ID == "" {
		t.Fatal("expected a fresh conversation")
	}

	same, err := svc.ResolveConversation(context.Background(), fresh.ID)
	if err != nil {
		t.Fatalf("resolve existing: %v", err)
	}
	if same.ID != fresh.ID {
		t.Fatalf("expected resumed conversation %s, got %s", fresh.ID, same.ID)
	}

	other, err := svc.ResolveConversation(context.Background(), "gone")
	if err != nil {
		t.Fatalf("resolve unknown: %v", err)
	}
	if other.ID == "gone" || other.ID == "" {
		t.Fatalf("expected fresh conversation for unknown id, got %q", other.ID)
	}
}
