package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for the /ws/events channel.
const (
	EventTaskStatus = "task.status"
)

// TaskStatusEvent is broadcast when a background task's status changes.
type TaskStatusEvent struct {
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Progress int    `json:"progress,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
