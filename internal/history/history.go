// Package history keeps a rolling in-memory conversation window per chat id,
// used to give backends context from earlier turns. It is deliberately not a
// persistence layer: everything is lost on process exit.
package history

import (
	"fmt"
	"strings"
	"sync"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultWindow is the number of messages kept per chat when none is
// configured.
const DefaultWindow = 10

// Message is one recorded conversation turn.
type Message struct {
	Role    string
	Content string

	// Note records how an assistant turn was produced (synthesis method).
	Note string
}

// Store is a concurrency-safe in-memory history store keyed by chat id.
type Store struct {
	mu       sync.RWMutex
	window   int
	sessions map[string][]Message
}

// NewStore creates a Store keeping at most window messages per chat.
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:   window,
		sessions: make(map[string][]Message),
	}
}

// Append records a message for the chat, creating the chat on first use and
// trimming to the configured window (oldest first).
func (s *Store) Append(chatID, role, content, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.sessions[chatID], Message{Role: role, Content: content, Note: note})
	if len(msgs) > s.window {
		msgs = msgs[len(msgs)-s.window:]
	}
	s.sessions[chatID] = msgs
}

// Messages returns a copy of the chat's recorded messages, oldest first.
func (s *Store) Messages(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[chatID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Formatted renders the chat's history as a context preamble for backend
// prompts. Returns "" when the chat has no history.
func (s *Store) Formatted(chatID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[chatID]
	if len(msgs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n--- Previous Conversation ---\n")
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", capitalize(msg.Role), msg.Content)
	}
	sb.WriteString("--- End of Previous Conversation ---\n")
	return sb.String()
}

// Remove discards the chat's history entirely.
func (s *Store) Remove(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
