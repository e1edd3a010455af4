// Package database defines the persistence port for conversation storage.
package database

import (
	"context"

	"github.com/tangmingchang/edustream/internal/domain/chat"
)

// Store is the persistence interface the chat service depends on.
type Store interface {
	// CreateConversation inserts a new conversation and returns it with
	// generated fields populated.
	CreateConversation(ctx context.Context, c *chat.Conversation) (*chat.Conversation, error)

	// GetConversation returns a conversation by ID.
	// Returns domain.ErrNotFound when it does not exist.
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)

	// ListConversations returns the most recent conversations, newest first.
	ListConversations(ctx context.Context, limit int) ([]chat.Conversation, error)

	// UpdateConversationTitle sets the title of a conversation.
	UpdateConversationTitle(ctx context.Context, id, title string) error

	// DeleteConversation removes a conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error

	// CreateMessage appends a message to a conversation and bumps the
	// conversation's updated_at.
	CreateMessage(ctx context.Context, m *chat.Message) (*chat.Message, error)

	// ListMessages returns all messages of a conversation in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}
