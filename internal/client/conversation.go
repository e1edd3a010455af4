package client

import (
	"log/slog"
	"time"

	"github.com/tangmingchang/edustream/pkg/protocol"
)

// Message is one client-side conversation entry. Content grows while the
// assistant reply streams and is frozen once the turn terminates.
type Message struct {
	Role    string
	Content string
	Failed  bool // terminated by an error instead of a normal end
	Created time.Time
}

// Conversation is the client-side transcript for one chat session.
// It is owned by the Session; the Reassembler is its only writer.
type Conversation struct {
	ID       string
	Messages []Message

	// pending indexes the assistant message currently being streamed,
	// or -1 when no turn is producing output.
	pending int
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{pending: -1}
}

// Producing reports whether an assistant reply is currently streaming.
// Value receiver: snapshots returned by value can be queried directly.
func (c Conversation) Producing() bool {
	return c.pending >= 0
}

// AppendUser records a submitted user message.
func (c *Conversation) AppendUser(content string) {
	c.Messages = append(c.Messages, Message{
		Role:    "user",
		Content: content,
		Created: time.Now(),
	})
}

// Snapshot returns a copy safe to read outside the session lock.
func (c *Conversation) Snapshot() Conversation {
	out := Conversation{ID: c.ID, pending: c.pending}
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// Reassembler folds the ordered stream events of a turn into the
// conversation. It performs no locking; the caller serializes access.
type Reassembler struct {
	conv *Conversation
	log  *slog.Logger
}

// NewReassembler creates a reassembler over conv. A nil logger falls back
// to slog.Default.
func NewReassembler(conv *Conversation, log *slog.Logger) *Reassembler {
	if log == nil {
		log = slog.Default()
	}
	return &Reassembler{conv: conv, log: log}
}

// Apply folds one server frame into the conversation. Frames that violate
// the turn ordering are discarded with a diagnostic log; they never
// corrupt the message list.
func (r *Reassembler) Apply(f protocol.ServerFrame) {
	switch f.Type {
	case protocol.TypeSession:
		// Issued once per connection; the first id wins for the life of
		// this conversation.
		if r.conv.ID == "" {
			r.conv.ID = f.ConversationID
		}

	case protocol.TypeStart:
		if r.conv.Producing() {
			r.log.Warn("protocol violation: start while a reply is pending")
			return
		}
		r.conv.Messages = append(r.conv.Messages, Message{
			Role:    "assistant",
			Created: time.Now(),
		})
		r.conv.pending = len(r.conv.Messages) - 1

	case protocol.TypeChunk:
		if !r.conv.Producing() {
			r.log.Warn("protocol violation: chunk with no pending reply")
			return
		}
		// Verbatim append: fragments may legitimately repeat substrings,
		// trimming or deduplicating would corrupt the output.
		r.conv.Messages[r.conv.pending].Content += f.Content

	case protocol.TypeEnd:
		r.conv.pending = -1

	case protocol.TypeError:
		// Partial content is preserved: a failed-but-partial reply is
		// more useful than silently discarded text.
		if r.conv.Producing() {
			r.conv.Messages[r.conv.pending].Failed = true
		}
		r.conv.pending = -1

	default:
		r.log.Warn("protocol violation: unknown frame type", "type", f.Type)
	}
}

// Fail terminates a producing turn from outside the stream (transport
// loss, session teardown). Partial content is preserved.
func (r *Reassembler) Fail() {
	if r.conv.Producing() {
		r.conv.Messages[r.conv.pending].Failed = true
	}
	r.conv.pending = -1
}
