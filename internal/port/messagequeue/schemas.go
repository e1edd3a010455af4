package messagequeue

import (
	"encoding/json"
	"fmt"
)

// TaskStatusPayload is the schema for tasks.status messages.
type TaskStatusPayload struct {
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"` // e.g. "video_generation", "script_analysis"
	Status   string `json:"status"`
	Progress int    `json:"progress"` // 0..100
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch subject {
	case SubjectTaskStatus:
		target = &TaskStatusPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
