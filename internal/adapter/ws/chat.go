package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/tangmingchang/edustream/internal/domain/chat"
	"github.com/tangmingchang/edustream/pkg/protocol"
)

// ChatRunner is the slice of the chat service the socket handler needs.
type ChatRunner interface {
	// ResolveConversation returns the conversation with the given id, or a
	// fresh one when id is empty or unknown.
	ResolveConversation(ctx context.Context, id string) (*chat.Conversation, error)
	// RunTurn persists the user message and streams the assistant reply
	// through emit as start/chunk/end frames.
	RunTurn(ctx context.Context, conversationID, message string, emit func(protocol.ServerFrame) error) error
}

// ChatHandler serves the /ws/chat endpoint: one streaming conversation per
// connection.
type ChatHandler struct {
	chat ChatRunner
}

// NewChatHandler creates a chat socket handler backed by the given service.
func NewChatHandler(svc ChatRunner) *ChatHandler {
	return &ChatHandler{chat: svc}
}

// ServeHTTP upgrades the request and runs the per-connection chat loop.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("chat websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "")

	ctx := r.Context()

	send := func(f protocol.ServerFrame) error {
		data, err := f.Encode()
		if err != nil {
			return err
		}
		return ws.Write(ctx, websocket.MessageText, data)
	}

	conv, err := h.chat.ResolveConversation(ctx, r.URL.Query().Get("conversation_id"))
	if err != nil {
		slog.Error("resolve conversation", "error", err)
		_ = send(protocol.Error("conversation unavailable"))
		ws.Close(websocket.StatusInternalError, "conversation unavailable")
		return
	}

	// The session frame pins the conversation id for the whole connection.
	if err := send(protocol.Session(conv.ID)); err != nil {
		return
	}

	slog.Info("chat connected", "conversation_id", conv.ID, "remote", r.RemoteAddr)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			slog.Info("chat disconnected", "conversation_id", conv.ID)
			return
		}

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil || frame.Message == "" {
			if err := send(protocol.Error("expected a JSON object with a non-empty message field")); err != nil {
				return
			}
			continue
		}

		if err := h.chat.RunTurn(ctx, conv.ID, frame.Message, send); err != nil {
			slog.Error("chat turn failed", "conversation_id", conv.ID, "error", err)
			// The connection stays usable after an application error.
			if err := send(protocol.Error(err.Error())); err != nil {
				return
			}
		}
	}
}
