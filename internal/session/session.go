// Package session owns the per-connection request lifecycle: the coordinator
// state machine that accepts one request at a time, relays the merged partial
// stream to the client, and delivers exactly one final frame per request.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// State is the coordinator state machine position for one session.
type State int

const (
	// StateIdle accepts a new request.
	StateIdle State = iota

	// StateDispatching launches the backend fan-out.
	StateDispatching

	// StateStreaming relays partial events until merge-complete.
	StateStreaming

	// StateSynthesizing combines terminal tasks into the final response.
	StateSynthesizing

	// StateCancelled is entered on client cancel or disconnect mid-request.
	StateCancelled

	// StateClosed is the absorbing terminal state; no transitions out.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateSynthesizing:
		return "synthesizing"
	case StateCancelled:
		return "cancelled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Request rejection errors.
var (
	ErrBusy   = errors.New("session: a request is already in flight")
	ErrClosed = errors.New("session: closed")
)

// Session is one logical client conversation channel. Its state is mutated
// only by the owning coordinator plus Cancel/Close, which may arrive from the
// transport goroutine.
type Session struct {
	id string

	mu         sync.Mutex
	state      State
	activeChat string
	cancel     context.CancelFunc
}

// New creates an idle session. An empty id is replaced with a generated one.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{id: id, state: StateIdle}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveChat returns the chat id of the in-flight request, or "".
func (s *Session) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChat
}

// begin claims the session for a new request, moving Idle to Dispatching.
func (s *Session) begin(chatID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateIdle, StateCancelled:
		// A cancelled session accepts the next request; cancellation scoped
		// the previous request, not the session.
	default:
		return ErrBusy
	}

	s.state = StateDispatching
	s.activeChat = chatID
	s.cancel = cancel
	return nil
}

// advance moves the state machine forward if the session is still in `from`.
// Returns false when cancellation or close raced ahead.
func (s *Session) advance(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// settle returns the session to Idle after a request completes, unless it was
// cancelled or closed in the meantime.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCancelled, StateClosed:
		return
	}
	s.state = StateIdle
	s.activeChat = ""
	s.cancel = nil
}

// Cancel aborts the in-flight request, if any, and propagates cancellation to
// every outstanding backend task. Idempotent; a no-op on an idle session.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDispatching, StateStreaming, StateSynthesizing:
		s.state = StateCancelled
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
}

// Close cancels any in-flight request and moves the session to its absorbing
// terminal state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateClosed
}
