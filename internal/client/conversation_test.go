package client

import (
	"testing"

	"github.com/tangmingchang/edustream/pkg/protocol"
)

// Content of a valid event sequence equals the in-order concatenation of
// its chunks.
func TestReassemblerConcatenatesChunksInOrder(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)

	r.Apply(protocol.Start())
	for _, frag := range []string{"Hi", " ", "there", "!", "!"} {
		r.Apply(protocol.Chunk(frag))
	}
	r.Apply(protocol.End())

	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv.Messages))
	}
	if got := conv.Messages[0].Content; got != "Hi there!!" {
		t.Fatalf("content = %q, want %q", got, "Hi there!!")
	}
	if conv.Producing() {
		t.Fatal("producing flag still set after end")
	}
}

// A second start before a terminal event must not create a second pending
// message.
func TestReassemblerSecondStartDiscarded(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)

	r.Apply(protocol.Start())
	r.Apply(protocol.Chunk("a"))
	r.Apply(protocol.Start()) // protocol violation
	r.Apply(protocol.Chunk("b"))
	r.Apply(protocol.End())

	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 assistant message, got %d", len(conv.Messages))
	}
	if got := conv.Messages[0].Content; got != "ab" {
		t.Fatalf("content = %q, want %q", got, "ab")
	}
}

// Partial content survives an error terminal.
func TestReassemblerErrorPreservesPartialContent(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)

	r.Apply(protocol.Start())
	r.Apply(protocol.Chunk("par"))
	r.Apply(protocol.Chunk("tial"))
	r.Apply(protocol.Error("upstream failed"))

	if got := conv.Messages[0].Content; got != "partial" {
		t.Fatalf("content = %q, want %q", got, "partial")
	}
	if !conv.Messages[0].Failed {
		t.Fatal("message not marked failed")
	}
	if conv.Producing() {
		t.Fatal("producing flag still set after error")
	}
}

// Fragments are appended verbatim, whitespace and repeats included.
func TestReassemblerNoTrimmingOrDedup(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)

	r.Apply(protocol.Start())
	r.Apply(protocol.Chunk("  "))
	r.Apply(protocol.Chunk("!!"))
	r.Apply(protocol.Chunk("!!"))
	r.Apply(protocol.Chunk(" \n"))
	r.Apply(protocol.End())

	if got := conv.Messages[0].Content; got != "  !!!! \n" {
		t.Fatalf("content = %q, want %q", got, "  !!!! \n")
	}
}

func TestReassemblerChunkWithoutStartDiscarded(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)

	r.Apply(protocol.Chunk("orphan"))
	if len(conv.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(conv.Messages))
	}

	r.Apply(protocol.Start())
	r.Apply(protocol.Chunk("ok"))
	r.Apply(protocol.End())
	r.Apply(protocol.Chunk("late")) // terminal already observed

	if got := conv.Messages[0].Content; got != "ok" {
		t.Fatalf("content = %q, want %q", got, "ok")
	}
}

func TestReassemblerSessionIDFirstWins(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)

	r.Apply(protocol.Session("c1"))
	r.Apply(protocol.Session("c2")) // reconnect issues a new id; keep the first

	if conv.ID != "c1" {
		t.Fatalf("conversation id = %q, want %q", conv.ID, "c1")
	}
}

func TestReassemblerFailPreservesPartial(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)

	r.Apply(protocol.Start())
	r.Apply(protocol.Chunk("partial"))
	r.Fail()

	if got := conv.Messages[0].Content; got != "partial" {
		t.Fatalf("content = %q, want %q", got, "partial")
	}
	if !conv.Messages[0].Failed || conv.Producing() {
		t.Fatal("expected failed message and cleared producing flag")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	conv := NewConversation()
	r := NewReassembler(conv, nil)
	r.Apply(protocol.Start())
	r.Apply(protocol.Chunk("x"))

	snap := conv.Snapshot()
	r.Apply(protocol.Chunk("y"))

	if snap.Messages[0].Content != "x" {
		t.Fatalf("snapshot mutated: %q", snap.Messages[0].Content)
	}
	if !snap.Producing() {
		t.Fatal("snapshot lost producing flag")
	}
}

func TestProducingOnSnapshotReturnValue(t *testing.T) {
	// Snapshot results are often queried inline without binding a variable.
	if NewConversation().Snapshot().Producing() {
		t.Fatal("fresh conversation reported producing")
	}
}
