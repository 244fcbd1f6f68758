// Package openaicompat implements backend.Adapter for any provider that
// speaks the OpenAI-compatible streaming chat-completions protocol. Several
// hosted providers (and local gateways) expose this surface behind different
// base URLs, so one adapter covers them all.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dusk-indust/chorus/internal/backend"
)

// Compile-time interface check.
var _ backend.Adapter = (*Adapter)(nil)

// doneSentinel terminates an OpenAI-compatible SSE stream.
const doneSentinel = "[DONE]"

// Adapter streams chat completions from one OpenAI-compatible endpoint.
type Adapter struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the underlying *http.Client. The client must not
// set a Timeout: stream lifetimes are bounded by the invocation context.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) {
		a.http = hc
	}
}

// New creates an adapter for the given backend name. baseURL is the API root
// (e.g. "https://api.deepseek.com/v1"); apiKey may be empty for unauthenticated
// local gateways.
func New(name, baseURL, model, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		name:    name,
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the backend identifier.
func (a *Adapter) Name() string { return a.name }

// --- Wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Invoke starts one streamed completion. The returned error covers failures
// to establish the stream; failures mid-stream arrive as the terminal Event.
func (a *Adapter) Invoke(ctx context.Context, prompt string) (<-chan backend.Event, error) {
	if prompt == "" {
		return nil, backend.NewError(a.name, backend.ErrKindProvider, "empty prompt", nil)
	}

	body, err := json.Marshal(chatRequest{
		Model:    a.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	url := a.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backend.NewError(a.name, backend.ErrKindConnection, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr(a.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := providerMessage(raw, resp.StatusCode)
		return nil, backend.NewError(a.name, backend.ErrKindProvider, msg, nil)
	}

	ch := make(chan backend.Event)
	go a.stream(ctx, resp.Body, ch)
	return ch, nil
}

// stream reads SSE frames from body and converts them to backend events.
// It emits exactly one terminal event unless ctx is cancelled first, and
// always closes ch.
func (a *Adapter) stream(ctx context.Context, body io.ReadCloser, ch chan<- backend.Event) {
	defer close(ch)
	defer body.Close()

	sc := newDataScanner(body)
	seq := 0
	sawFinish := false

	for {
		payload, ok := sc.Next()
		if !ok {
			// Stream ended without [DONE]. If the provider already signaled a
			// finish reason, treat it as a clean completion.
			var err error
			if !sawFinish {
				err = classifyTransportErr(a.name, streamEndErr(ctx))
			}
			a.send(ctx, ch, backend.Event{Backend: a.name, Seq: seq, Final: true, Err: err})
			return
		}

		if payload == doneSentinel {
			a.send(ctx, ch, backend.Event{Backend: a.name, Seq: seq, Final: true})
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			a.send(ctx, ch, backend.Event{
				Backend: a.name,
				Seq:     seq,
				Final:   true,
				Err:     backend.NewError(a.name, backend.ErrKindProvider, "malformed stream chunk", err),
			})
			return
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !a.send(ctx, ch, backend.Event{Backend: a.name, Seq: seq, Text: choice.Delta.Content}) {
					return
				}
				seq++
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				sawFinish = true
			}
		}
	}
}

// send delivers ev unless ctx is done first. Returns false when the consumer
// is gone.
func (a *Adapter) send(ctx context.Context, ch chan<- backend.Event, ev backend.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamEndErr picks the most descriptive error for an abruptly ended body.
func streamEndErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("stream ended before completion")
}

// classifyTransportErr maps transport failures onto the adapter taxonomy.
// Context cancellation passes through unwrapped so the caller can tell a
// deliberate cancel from a genuine failure.
func classifyTransportErr(name string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return backend.NewError(name, backend.ErrKindTimeout, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return backend.NewError(name, backend.ErrKindConnection, err.Error(), err)
	}
}

// providerMessage extracts a human-readable message from an error response
// body, falling back to the HTTP status.
func providerMessage(raw []byte, status int) string {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", status, env.Error.Message)
	}
	return fmt.Sprintf("HTTP %d", status)
}
