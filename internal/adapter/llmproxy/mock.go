package llmproxy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tangmingchang/edustream/internal/port/llm"
)

// mockDelay paces the simulated stream so clients exercise their chunk
// handling instead of receiving one burst.
const mockDelay = 10 * time.Millisecond

// canned maps substrings of the user message to fixed replies.
var canned = map[string]string{
	"你好":     "你好！我是影视制作教育智能体，可以帮助你学习影视制作相关知识。",
	"什么是影视制作": "影视制作是指通过技术手段将创意转化为视听作品的过程，包括前期策划、拍摄、后期制作等环节。",
}

// Mock is an offline Provider used when no completion endpoint is
// configured. It streams a canned reply character by character.
type Mock struct {
	// Delay overrides the per-character pacing. Zero means mockDelay.
	Delay time.Duration
}

var _ llm.Provider = (*Mock)(nil)

// StreamCompletion streams a canned reply keyed on the last user message.
func (m *Mock) StreamCompletion(ctx context.Context, messages []llm.ChatMessage, fn llm.TokenFunc) error {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}

	delay := m.Delay
	if delay == 0 {
		delay = mockDelay
	}

	for _, r := range mockReply(last) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := fn(string(r)); err != nil {
			return err
		}
	}
	return nil
}

func mockReply(userMessage string) string {
	for key, reply := range canned {
		if strings.Contains(userMessage, key) {
			return reply
		}
	}
	return fmt.Sprintf("关于'%s'，这是一个很好的问题。作为影视制作教育智能体，我可以为你提供相关的知识和建议。请告诉我你想了解的具体方面。", userMessage)
}
