package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tangmingchang/edustream/internal/adapter/ws"
	"github.com/tangmingchang/edustream/internal/port/messagequeue"
)

// TaskEventService relays background task progress (grading, media
// processing) from the queue to all event-channel WebSocket clients.
type TaskEventService struct {
	queue messagequeue.Queue
	hub   *ws.Hub
}

// NewTaskEventService creates the relay between queue and hub.
func NewTaskEventService(queue messagequeue.Queue, hub *ws.Hub) *TaskEventService {
	return &TaskEventService{queue: queue, hub: hub}
}

// Start subscribes to task status messages and broadcasts each one. The
// returned function cancels the subscription.
func (s *TaskEventService) Start(ctx context.Context) (func(), error) {
	stop, err := s.queue.Subscribe(ctx, messagequeue.SubjectTaskStatus, func(ctx context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			return fmt.Errorf("task status message: %w", err)
		}

		var p messagequeue.TaskStatusPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode task status: %w", err)
		}

		s.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
			TaskID:   p.TaskID,
			Kind:     p.Kind,
			Status:   p.Status,
			Progress: p.Progress,
			Result:   p.Result,
			Error:    p.Error,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe task status: %w", err)
	}
	return stop, nil
}
