package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tangmingchang/edustream/pkg/protocol"
)

// ConnState tracks the lifecycle of the underlying transport. Idle means
// never connected, distinct from Closed (was connected, now is not).
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrTurnInProgress is returned by Send while a previous turn has not yet
// reached its terminal event. Turns are strictly serialized.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// ErrSessionClosed is returned by Send after Close.
var ErrSessionClosed = errors.New("session is closed")

// Options configures a Session.
type Options struct {
	// URL of the chat streaming endpoint.
	URL string

	// Dialer opens transports. Defaults to WebSocketDialer.
	Dialer Dialer

	// OnUpdate is invoked with a fresh snapshot after every conversation
	// mutation; the consumer re-renders the full transcript each time.
	// Called from the session's event goroutine; must not call back into
	// the session.
	OnUpdate func(Conversation)

	// OnNotice is invoked with a user-visible failure description
	// (transport loss, turn errors). Same calling rules as OnUpdate.
	OnNotice func(string)

	Logger *slog.Logger
}

// dialOutcome is the pending continuation resolved by a connect attempt.
// done is closed exactly once, after err and flushErr are set.
type dialOutcome struct {
	done     chan struct{}
	err      error // dial failure
	flushErr error // failure transmitting the queued message after open
}

// event is the single tagged unit consumed by the reassembly loop:
// either a decoded server frame or a terminal transport failure.
type event struct {
	frame protocol.ServerFrame
	err   error
}

// Session owns one logical chat context: a conversation, at most one live
// transport, and the state machine that delivers each outbound turn
// exactly once. All state is guarded by mu; stream events are applied by
// a single dedicated goroutine per connection.
type Session struct {
	url      string
	dialer   Dialer
	log      *slog.Logger
	onUpdate func(Conversation)
	onNotice func(string)

	mu         sync.Mutex
	state      ConnState
	transport  Transport
	gen        int // connection generation, guards stale loops
	dialing    *dialOutcome
	pending    string // parked outbound text, flushed on open
	hasPending bool
	turnActive bool
	closed     bool

	conv *Conversation
	asm  *Reassembler
}

// NewSession creates a session. No connection is opened until the first Send.
func NewSession(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	conv := NewConversation()
	return &Session{
		url:      opts.URL,
		dialer:   opts.Dialer,
		log:      opts.Logger,
		onUpdate: opts.OnUpdate,
		onNotice: opts.OnNotice,
		state:    StateIdle,
		conv:     conv,
		asm:      NewReassembler(conv, opts.Logger),
	}
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conversation returns a snapshot of the transcript.
func (s *Session) Conversation() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Snapshot()
}

// ConversationID returns the server-issued conversation identifier, empty
// until the session frame arrives.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.ID
}

// Send submits one user turn. Depending on connection state the message is
// transmitted immediately (Open), parked until the in-flight connect
// resolves (Connecting), or a new connection is dialed first (Idle,
// Closed). The message is transmitted exactly once or reported failed;
// it is never silently dropped and never retried automatically.
//
// Send returns once the message has been handed to the transport (or the
// attempt failed). The turn itself completes later, via OnUpdate/OnNotice.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.turnActive {
		s.mu.Unlock()
		return ErrTurnInProgress
	}

	s.conv.AppendUser(text)
	s.turnActive = true
	snapshot := s.conv.Snapshot()

	if s.state == StateOpen {
		t := s.transport
		s.mu.Unlock()
		s.update(snapshot)
		if err := s.transmit(ctx, t, text); err != nil {
			s.failTurn("send failed: " + err.Error())
			return err
		}
		return nil
	}

	if s.state == StateConnecting && s.dialing != nil {
		// Park as the single queued send; flushed when the dial resolves.
		s.pending, s.hasPending = text, true
		outcome := s.dialing
		s.mu.Unlock()
		s.update(snapshot)
		return s.await(ctx, outcome)
	}

	// Idle or Closed: lazy (re)connect, transmit once it opens.
	s.pending, s.hasPending = text, true
	s.state = StateConnecting
	outcome := &dialOutcome{done: make(chan struct{})}
	s.dialing = outcome
	s.mu.Unlock()
	s.update(snapshot)
	go s.connect(ctx, outcome)
	return s.await(ctx, outcome)
}

// await blocks on the pending continuation a connect attempt resolves.
func (s *Session) await(ctx context.Context, outcome *dialOutcome) error {
	select {
	case <-outcome.done:
		if outcome.err != nil {
			return outcome.err
		}
		return outcome.flushErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect dials a new transport, transitions the state machine, starts the
// per-connection loops and flushes the queued send. It resolves outcome
// exactly once.
func (s *Session) connect(ctx context.Context, outcome *dialOutcome) {
	t, err := s.dialer.Dial(ctx, s.url)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil {
			_ = t.Close()
		}
		outcome.err = ErrSessionClosed
		close(outcome.done)
		return
	}

	if err != nil {
		s.state = StateClosed
		s.dialing = nil
		s.hasPending = false
		s.pending = ""
		s.turnActive = false
		// No partial assistant message exists yet; conversation state is intact.
		s.mu.Unlock()
		s.log.Warn("connect failed", "url", s.url, "error", err)
		s.notice("connection failed: " + err.Error())
		outcome.err = err
		close(outcome.done)
		return
	}

	s.transport = t
	s.state = StateOpen
	s.dialing = nil
	s.gen++
	gen := s.gen

	text, flush := s.pending, s.hasPending
	s.pending, s.hasPending = "", false

	events := make(chan event, 16)
	s.mu.Unlock()

	go s.readLoop(t, events)
	go s.applyLoop(gen, events)

	if flush {
		if werr := s.transmit(ctx, t, text); werr != nil {
			s.failTurn("send failed: " + werr.Error())
			outcome.flushErr = werr
		}
	}
	close(outcome.done)
}

// transmit encodes and writes one client frame.
func (s *Session) transmit(ctx context.Context, t Transport, text string) error {
	data, err := protocol.ClientFrame{Message: text}.Encode()
	if err != nil {
		return err
	}
	if err := t.Write(ctx, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop pumps raw frames off the transport into the typed event
// channel. Undecodable frames are dropped with a diagnostic; a read error
// is forwarded as the terminal event and the channel is closed.
func (s *Session) readLoop(t Transport, events chan<- event) {
	for {
		data, err := t.Read(context.Background())
		if err != nil {
			events <- event{err: err}
			close(events)
			return
		}
		f, derr := protocol.DecodeServerFrame(data)
		if derr != nil {
			s.log.Warn("dropping malformed frame", "error", derr)
			continue
		}
		events <- event{frame: f}
	}
}

// applyLoop is the dedicated reassembly loop for one connection: it
// consumes the ordered event stream and folds it into the conversation.
func (s *Session) applyLoop(gen int, events <-chan event) {
	for ev := range events {
		s.mu.Lock()
		if s.gen != gen {
			// A newer connection owns the session; this loop is stale.
			s.mu.Unlock()
			return
		}

		if ev.err != nil {
			wasActive := s.turnActive || s.conv.Producing()
			closing := s.closed
			s.asm.Fail()
			s.turnActive = false
			s.transport = nil
			s.state = StateClosed
			snapshot := s.conv.Snapshot()
			s.mu.Unlock()

			s.update(snapshot)
			if wasActive && !closing {
				s.log.Warn("connection lost mid-turn", "error", ev.err)
				s.notice("connection lost")
			}
			return
		}

		s.asm.Apply(ev.frame)
		if terminal(ev.frame.Type) {
			s.turnActive = false
		}
		snapshot := s.conv.Snapshot()
		s.mu.Unlock()

		s.update(snapshot)
		if ev.frame.Type == protocol.TypeError {
			s.notice(ev.frame.Message)
		}
	}
}

func terminal(frameType string) bool {
	return frameType == protocol.TypeEnd || frameType == protocol.TypeError
}

// failTurn aborts the in-flight turn after a local send failure.
func (s *Session) failTurn(message string) {
	s.mu.Lock()
	s.asm.Fail()
	s.turnActive = false
	snapshot := s.conv.Snapshot()
	s.mu.Unlock()
	s.update(snapshot)
	s.notice(message)
}

// Close releases the transport. A producing turn is terminated as if the
// transport had failed; partial content is preserved.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosing
	t := s.transport
	s.transport = nil
	s.asm.Fail()
	s.turnActive = false
	s.state = StateClosed
	s.mu.Unlock()

	if t != nil {
		return t.Close()
	}
	return nil
}

func (s *Session) update(snapshot Conversation) {
	if s.onUpdate != nil {
		s.onUpdate(snapshot)
	}
}

func (s *Session) notice(text string) {
	if s.onNotice != nil {
		s.onNotice(text)
	}
}
