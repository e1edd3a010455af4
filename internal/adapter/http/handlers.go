package http

import (
	"context"
	"net/http"

	"github.com/tangmingchang/edustream/internal/domain/chat"
)

// listLimit caps the number of conversations returned by the listing endpoint.
const listLimit = 50

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20

// ConversationService is the slice of the chat service the REST handlers use.
type ConversationService interface {
	CreateConversation(ctx context.Context, title string) (*chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// HealthReporter exposes readiness detail for the health endpoint.
type HealthReporter interface {
	State() string
}

// Handlers bundles the dependencies of all REST handlers.
type Handlers struct {
	Conversations ConversationService
	LLMBreaker    HealthReporter
}

// CreateConversation handles POST /api/v1/conversations.
func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chat.CreateRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	conv, err := h.Conversations.CreateConversation(r.Context(), req.Title)
	if err != nil {
		writeDomainError(w, err, "create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// ListConversations handles GET /api/v1/conversations.
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.Conversations.ListConversations(r.Context(), listLimit)
	if err != nil {
		writeDomainError(w, err, "list conversations")
		return
	}
	if conversations == nil {
		conversations = []chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// GetConversation handles GET /api/v1/conversations/{id}.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	conv, err := h.Conversations.GetConversation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}.
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Conversations.DeleteConversation(r.Context(), id); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConversationMessages handles GET /api/v1/conversations/{id}/messages.
func (h *Handlers) ListConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	messages, err := h.Conversations.ListMessages(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"status": "ok"}
	if h.LLMBreaker != nil {
		resp["llm_circuit"] = h.LLMBreaker.State()
	}
	writeJSON(w, http.StatusOK, resp)
}
