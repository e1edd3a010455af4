// Package service holds the application services sitting between the
// transport adapters and the ports.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tangmingchang/edustream/internal/adapter/otel"
	"github.com/tangmingchang/edustream/internal/domain/chat"
	"github.com/tangmingchang/edustream/internal/port/cache"
	"github.com/tangmingchang/edustream/internal/port/database"
	"github.com/tangmingchang/edustream/internal/port/llm"
	"github.com/tangmingchang/edustream/internal/resilience"
	"github.com/tangmingchang/edustream/pkg/protocol"
)

// systemPrompt frames the assistant as the film-production tutor the
// platform is built around.
const systemPrompt = "你是影视制作教育智能体，负责帮助学生学习影视制作知识，包括前期策划、剧本创作、拍摄技术和后期制作。回答要准确、循序渐进，并在合适时给出可操作的练习建议。"

// defaultHistoryTTL bounds how long cached conversation history stays
// valid when no TTL is configured.
const defaultHistoryTTL = 5 * time.Minute

// maxConcurrentTurns caps completion streams running at once across all
// connected chat clients.
const maxConcurrentTurns = 16

// ChatService processes chat turns and manages conversations.
type ChatService struct {
	db         database.Store
	provider   llm.Provider
	cache      cache.Cache
	metrics    *otel.Metrics
	model      string
	historyTTL time.Duration
	turns      *resilience.Limiter
}

// NewChatService creates a chat service. cache and metrics may be nil;
// a non-positive historyTTL falls back to the default.
func NewChatService(db database.Store, provider llm.Provider, c cache.Cache, metrics *otel.Metrics, model string, historyTTL time.Duration) *ChatService {
	if historyTTL <= 0 {
		historyTTL = defaultHistoryTTL
	}
	return &ChatService{
		db:         db,
		provider:   provider,
		cache:      c,
		metrics:    metrics,
		model:      model,
		historyTTL: historyTTL,
		turns:      resilience.NewLimiter(maxConcurrentTurns),
	}
}

// CreateConversation creates a conversation with the given title. An empty
// title is filled in from the first user message later.
func (s *ChatService) CreateConversation(ctx context.Context, title string) (*chat.Conversation, error) {
	return s.db.CreateConversation(ctx, &chat.Conversation{Title: title})
}

// GetConversation returns a conversation by ID.
func (s *ChatService) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	return s.db.GetConversation(ctx, id)
}

// ListConversations returns the most recent conversations, newest first.
func (s *ChatService) ListConversations(ctx context.Context, limit int) ([]chat.Conversation, error) {
	return s.db.ListConversations(ctx, limit)
}

// DeleteConversation removes a conversation and its messages.
func (s *ChatService) DeleteConversation(ctx context.Context, id string) error {
	s.invalidateHistory(ctx, id)
	return s.db.DeleteConversation(ctx, id)
}

// ListMessages returns all messages of a conversation in creation order.
func (s *ChatService) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return s.history(ctx, conversationID)
}

// ResolveConversation returns the conversation with the given id, or a fresh
// one when id is empty or unknown. A stale id from a client reconnecting
// after a wipe should not strand the user.
func (s *ChatService) ResolveConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	if id != "" {
		conv, err := s.db.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		slog.Warn("conversation not resumable, creating fresh", "conversation_id", id, "error", err)
	}
	return s.CreateConversation(ctx, "")
}

// RunTurn persists the user message, streams the assistant reply through
// emit as start/chunk/end frames and persists the reply on success. On a
// provider error nothing of the partial reply is persisted and the error is
// returned for the caller to report.
func (s *ChatService) RunTurn(ctx context.Context, conversationID, text string, emit func(protocol.ServerFrame) error) error {
	ctx, span := otel.StartTurnSpan(ctx, conversationID)
	defer span.End()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.TurnsStarted.Add(ctx, 1)
	}

	err := s.runTurn(ctx, conversationID, text, emit)

	if s.metrics != nil {
		s.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.metrics.TurnsFailed.Add(ctx, 1)
		} else {
			s.metrics.TurnsCompleted.Add(ctx, 1)
		}
	}
	return err
}

func (s *ChatService) runTurn(ctx context.Context, conversationID, text string, emit func(protocol.ServerFrame) error) error {
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	if _, err := s.db.CreateMessage(ctx, &chat.Message{
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        text,
	}); err != nil {
		return fmt.Errorf("store user message: %w", err)
	}
	s.invalidateHistory(ctx, conversationID)

	// The first user message names the conversation.
	if conv.Title == "" {
		if err := s.db.UpdateConversationTitle(ctx, conversationID, chat.TitleFrom(text)); err != nil {
			slog.Warn("set conversation title", "conversation_id", conversationID, "error", err)
		}
	}

	history, err := s.history(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	chatMessages := make([]llm.ChatMessage, 0, len(history)+1)
	chatMessages = append(chatMessages, llm.ChatMessage{Role: chat.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		if m.Role == chat.RoleSystem {
			continue
		}
		chatMessages = append(chatMessages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}

	if err := emit(protocol.Start()); err != nil {
		return err
	}

	cctx, cspan := otel.StartCompletionSpan(ctx, s.model)
	var reply strings.Builder
	streamErr := s.turns.Run(cctx, func() error {
		return s.provider.StreamCompletion(cctx, chatMessages, func(token string) error {
			reply.WriteString(token)
			if s.metrics != nil {
				s.metrics.ChunksStreamed.Add(cctx, 1)
			}
			return emit(protocol.Chunk(token))
		})
	})
	cspan.End()

	if streamErr != nil {
		// The partial reply is not persisted. The client keeps what it
		// already rendered, but history must not contain a truncated
		// assistant message presented as complete.
		slog.Error("completion stream failed", "conversation_id", conversationID, "error", streamErr)
		return fmt.Errorf("completion: %w", streamErr)
	}

	if _, err := s.db.CreateMessage(ctx, &chat.Message{
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		Content:        reply.String(),
	}); err != nil {
		return fmt.Errorf("store assistant message: %w", err)
	}
	s.invalidateHistory(ctx, conversationID)

	return emit(protocol.End())
}

func historyKey(conversationID string) string {
	return "history:" + conversationID
}

// history reads conversation messages through the cache.
func (s *ChatService) history(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, historyKey(conversationID)); err == nil && ok {
			var msgs []chat.Message
			if err := json.Unmarshal(data, &msgs); err == nil {
				return msgs, nil
			}
			// Corrupt entry: fall through to the store.
			_ = s.cache.Delete(ctx, historyKey(conversationID))
		}
	}

	msgs, err := s.db.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(msgs); err == nil {
			_ = s.cache.Set(ctx, historyKey(conversationID), data, s.historyTTL)
		}
	}
	return msgs, nil
}

func (s *ChatService) invalidateHistory(ctx context.Context, conversationID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, historyKey(conversationID))
	}
}
