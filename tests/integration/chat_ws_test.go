//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tangmingchang/edustream/internal/domain/chat"
	"github.com/tangmingchang/edustream/pkg/protocol"
)

// TestChatTurnEndToEnd drives one full streaming turn over WebSocket and
// verifies both the frame sequence and the persisted messages.
func TestChatTurnEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws/chat"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readFrame := func() protocol.ServerFrame {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		f, err := protocol.DecodeServerFrame(data)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return f
	}

	session := readFrame()
	if session.Type != protocol.TypeSession || session.ConversationID == "" {
		t.Fatalf("expected session frame with id, got %+v", session)
	}

	payload, _ := protocol.ClientFrame{Message: "你好"}.Encode()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	if f := readFrame(); f.Type != protocol.TypeStart {
		t.Fatalf("expected start frame, got %+v", f)
	}

	var reply strings.Builder
	for {
		f := readFrame()
		if f.Type == protocol.TypeEnd {
			break
		}
		if f.Type != protocol.TypeChunk {
			t.Fatalf("expected chunk or end, got %+v", f)
		}
		reply.WriteString(f.Content)
	}
	if reply.Len() == 0 {
		t.Fatal("expected a non-empty assistant reply")
	}

	// Both sides of the turn are persisted.
	resp, err := http.Get(testServer.URL + "/api/v1/conversations/" + session.ConversationID + "/messages")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser || msgs[0].Content != "你好" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != chat.RoleAssistant || msgs[1].Content != reply.String() {
		t.Fatalf("persisted reply does not match streamed reply: %+v", msgs[1])
	}

	// The first user message became the conversation title.
	resp2, err := http.Get(testServer.URL + "/api/v1/conversations/" + session.ConversationID)
	if err != nil {
		t.Fatalf("GET conversation: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	var conv chat.Conversation
	if err := json.NewDecoder(resp2.Body).Decode(&conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if conv.Title != "你好" {
		t.Fatalf("expected title from first message, got %q", conv.Title)
	}
}

// TestChatResumeConversation reconnects with an existing conversation id
// and verifies the second turn lands in the same history.
func TestChatResumeConversation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	base := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws/chat"

	runTurn := func(url, message string) string {
		t.Helper()
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		var convID string
		payloadSent := false
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			f, err := protocol.DecodeServerFrame(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			switch f.Type {
			case protocol.TypeSession:
				convID = f.ConversationID
				payload, _ := protocol.ClientFrame{Message: message}.Encode()
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					t.Fatalf("write: %v", err)
				}
				payloadSent = true
			case protocol.TypeEnd:
				if !payloadSent {
					t.Fatal("end before session frame")
				}
				return convID
			case protocol.TypeError:
				t.Fatalf("unexpected error frame: %s", f.Message)
			}
		}
	}

	convID := runTurn(base, "什么是影视制作")
	second := runTurn(base+"?conversation_id="+convID, "镜头语言呢")
	if second != convID {
		t.Fatalf("expected resumed conversation %s, got %s", convID, second)
	}

	resp, err := http.Get(testServer.URL + "/api/v1/conversations/" + convID + "/messages")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages across two turns, got %d", len(msgs))
	}
}
