// Package backend defines the uniform contract between the orchestrator and
// the language-model backends it fans out to. A concrete adapter normalizes
// one provider's native streaming protocol into the Event stream defined
// here; the orchestrator never sees anything provider-specific.
package backend

import "context"

// Adapter is the interface every model backend implements.
//
// Implementations are expected to:
//   - treat the prompt as read-only
//   - honor ctx cancellation promptly
//   - emit exactly one terminal Event per invocation (Final set), after
//     which the channel is closed and no further events are sent
type Adapter interface {
	// Name returns the backend identifier used in task tracking and in
	// client-visible frames.
	Name() string

	// Invoke starts one generation for the prompt and returns a channel of
	// partial events. The returned error covers failures to start only;
	// failures during streaming arrive as a terminal Event with Err set.
	Invoke(ctx context.Context, prompt string) (<-chan Event, error)
}

// Event is one chunk of output attributable to one backend invocation.
//
// Seq is monotonic per invocation, starting at 0, with no gaps. The terminal
// event carries Final=true and, on failure, a non-nil Err (normally an
// *Error); it may also carry trailing text.
type Event struct {
	Backend string
	Seq     int
	Text    string
	Final   bool
	Err     error
}
