// Package chat holds the conversation and message types shared by the
// store, the chat service and the transport adapters.
package chat

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// maxTitleRunes bounds a conversation title derived from its first message.
const maxTitleRunes = 50

// Conversation is one chat thread. The title defaults to a truncation of
// the first user message.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single message within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateRequest is the request body for creating a conversation.
type CreateRequest struct {
	Title string `json:"title"`
}

// ValidRole reports whether role is one of the known message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// TitleFrom derives a conversation title from the first user message,
// truncated runewise so multi-byte text is not cut mid-character.
func TitleFrom(content string) string {
	runes := []rune(content)
	if len(runes) > maxTitleRunes {
		runes = runes[:maxTitleRunes]
	}
	return string(runes)
}
