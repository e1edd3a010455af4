// Package client implements the streaming chat client: a connection
// manager that guarantees exactly-once delivery of each outbound turn
// over a lazily (re-)established connection, and a reassembler that folds
// the server's framed event stream into conversation state.
package client

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// Transport is one established bidirectional framed connection.
// Implementations must deliver frames in order.
type Transport interface {
	// Write sends one frame.
	Write(ctx context.Context, data []byte) error

	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)

	// Close releases the connection.
	Close() error
}

// Dialer opens a Transport to the given URL. Injected so tests can drive
// the session with a scripted fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// maxFrameSize bounds a single inbound frame. Chunks are token-sized, but
// a generous limit avoids truncating large error payloads.
const maxFrameSize = 1 << 20

// WebSocketDialer dials the chat endpoint over WebSocket.
type WebSocketDialer struct{}

// Dial opens a WebSocket connection and wraps it as a Transport.
func (WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts a coder/websocket connection to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
