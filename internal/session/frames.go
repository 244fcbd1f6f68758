package session

import (
	"strings"

	"github.com/dusk-indust/chorus/internal/backend"
	"github.com/dusk-indust/chorus/internal/orchestrator"
)

// Inbound actions.
const ActionMessage = "message"

// Outbound frame type discriminators.
const (
	TypeThinking = "thinking"
	TypePartial  = "partial"
	TypeFinal    = "final"
	TypeError    = "error"
)

// Client-visible error codes.
const (
	CodeValidation    = "validation_error"
	CodeBusy          = "busy"
	CodeConfiguration = "configuration_error"
	CodeInternal      = "internal_error"
)

// Inbound is one client request frame.
type Inbound struct {
	Action string `json:"action"`
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt"`
}

// Validate checks the frame against the inbound contract. The returned string
// is a client-facing reason; empty means valid.
func (in Inbound) Validate() string {
	switch {
	case in.Action != ActionMessage:
		return "unrecognized action"
	case in.ChatID == "":
		return "missing chat_id"
	case strings.TrimSpace(in.Prompt) == "":
		return "missing prompt"
	}
	return ""
}

// ThinkingFrame announces that a request is being processed.
type ThinkingFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	Topic  string `json:"topic"`
}

// PartialFrame forwards one backend chunk to the client.
type PartialFrame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	Backend string `json:"backend"`
	Seq     int    `json:"seq"`
	Text    string `json:"text"`
}

// FinalFrame delivers the merged response for one request.
type FinalFrame struct {
	Type      string   `json:"type"`
	ChatID    string   `json:"chat_id"`
	Text      string   `json:"text"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// ErrorFrame reports a session-level error. ChatID is null when the error is
// not attributable to a chat (e.g. a frame that failed validation before the
// chat id was known).
type ErrorFrame struct {
	Type    string  `json:"type"`
	ChatID  *string `json:"chat_id"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}

func thinkingFrame(chatID, prompt string) ThinkingFrame {
	return ThinkingFrame{Type: TypeThinking, ChatID: chatID, Topic: topic(prompt)}
}

func partialFrame(chatID string, ev backend.Event) PartialFrame {
	return PartialFrame{
		Type:    TypePartial,
		ChatID:  chatID,
		Backend: ev.Backend,
		Seq:     ev.Seq,
		Text:    ev.Text,
	}
}

func finalFrame(resp *orchestrator.MergedResponse) FinalFrame {
	return FinalFrame{
		Type:      TypeFinal,
		ChatID:    resp.ChatID,
		Text:      resp.Text,
		Succeeded: resp.Succeeded,
		Failed:    resp.Failed,
	}
}

func errorFrame(chatID, code, message string) ErrorFrame {
	frame := ErrorFrame{Type: TypeError, Code: code, Message: message}
	if chatID != "" {
		frame.ChatID = &chatID
	}
	return frame
}

// topic derives a short thinking-indicator topic from the prompt: its first
// five words, with an ellipsis when truncated.
func topic(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) <= 5 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:5], " ") + "..."
}
