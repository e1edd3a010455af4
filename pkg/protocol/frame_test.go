package protocol

import (
	"strings"
	"testing"
)

func TestDecodeServerFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ServerFrame
		wantErr bool
	}{
		{
			name: "session",
			raw:  `{"type":"session","conversation_id":"c1"}`,
			want: ServerFrame{Type: TypeSession, ConversationID: "c1"},
		},
		{
			name: "start",
			raw:  `{"type":"start"}`,
			want: ServerFrame{Type: TypeStart},
		},
		{
			name: "chunk preserves content verbatim",
			raw:  `{"type":"chunk","content":"  !! "}`,
			want: ServerFrame{Type: TypeChunk, Content: "  !! "},
		},
		{
			name: "end",
			raw:  `{"type":"end"}`,
			want: ServerFrame{Type: TypeEnd},
		},
		{
			name: "error",
			raw:  `{"type":"error","message":"upstream failed"}`,
			want: ServerFrame{Type: TypeError, Message: "upstream failed"},
		},
		{
			name:    "unknown type rejected",
			raw:     `{"type":"pong"}`,
			wantErr: true,
		},
		{
			name:    "empty type rejected",
			raw:     `{"content":"x"}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"type":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeServerFrame([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestServerFrameRoundTrip(t *testing.T) {
	frames := []ServerFrame{
		Session("abc-123"),
		Start(),
		Chunk("Hi"),
		End(),
		Error("upstream failed"),
	}
	for _, f := range frames {
		data, err := f.Encode()
		if err != nil {
			t.Fatalf("encode %s: %v", f.Type, err)
		}
		got, err := DecodeServerFrame(data)
		if err != nil {
			t.Fatalf("decode %s: %v", f.Type, err)
		}
		if got != f {
			t.Fatalf("round trip %s: got %+v, want %+v", f.Type, got, f)
		}
	}
}

func TestChunkOmitsEmptyFields(t *testing.T) {
	data, err := Chunk("x").Encode()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "conversation_id") || strings.Contains(string(data), "message") {
		t.Fatalf("chunk frame leaks unrelated fields: %s", data)
	}
}

func TestDecodeClientFrame(t *testing.T) {
	f, err := DecodeClientFrame([]byte(`{"message":"hello"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Message != "hello" {
		t.Fatalf("got %q, want %q", f.Message, "hello")
	}

	if _, err := DecodeClientFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
