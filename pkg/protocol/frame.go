// Package protocol defines the framed messages exchanged over a chat
// streaming connection. Both the server adapter and the terminal client
// encode and decode through this package.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Server frame types.
const (
	TypeSession = "session" // carries the conversation id, sent once after connect
	TypeStart   = "start"   // assistant reply begins
	TypeChunk   = "chunk"   // one fragment of the assistant reply
	TypeEnd     = "end"     // assistant reply complete
	TypeError   = "error"   // the turn failed
)

// ClientFrame is the single message shape a client sends: the user's
// submitted text for one turn.
type ClientFrame struct {
	Message string `json:"message"`
}

// ServerFrame is the envelope for all server-to-client messages. Which
// fields are populated depends on Type.
type ServerFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"` // session
	Content        string `json:"content,omitempty"`         // chunk
	Message        string `json:"message,omitempty"`         // error
}

// Session builds a session frame carrying the conversation identifier.
func Session(conversationID string) ServerFrame {
	return ServerFrame{Type: TypeSession, ConversationID: conversationID}
}

// Start builds a start frame.
func Start() ServerFrame { return ServerFrame{Type: TypeStart} }

// Chunk builds a chunk frame carrying one content fragment.
func Chunk(content string) ServerFrame {
	return ServerFrame{Type: TypeChunk, Content: content}
}

// End builds an end frame.
func End() ServerFrame { return ServerFrame{Type: TypeEnd} }

// Error builds an error frame with a human-readable message.
func Error(message string) ServerFrame {
	return ServerFrame{Type: TypeError, Message: message}
}

// Encode marshals the frame to its JSON wire form.
func (f ServerFrame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// DecodeServerFrame parses a server frame from its wire form. Frames with
// an unrecognized type are rejected so the consumer can skip them
// defensively instead of acting on garbage.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("decode server frame: %w", err)
	}
	switch f.Type {
	case TypeSession, TypeStart, TypeChunk, TypeEnd, TypeError:
		return f, nil
	default:
		return ServerFrame{}, fmt.Errorf("decode server frame: unknown type %q", f.Type)
	}
}

// Encode marshals the client frame to its JSON wire form.
func (f ClientFrame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode client frame: %w", err)
	}
	return data, nil
}

// DecodeClientFrame parses a client frame from its wire form.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("decode client frame: %w", err)
	}
	return f, nil
}
