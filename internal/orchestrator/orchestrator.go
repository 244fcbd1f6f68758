// Package orchestrator implements the fan-out / merge pipeline: one prompt is
// dispatched to every configured backend concurrently, the backends' partial
// output streams are multiplexed into a single arrival-ordered stream, and
// once every backend reaches a terminal state the successful outputs are
// synthesized into one merged response.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/chorus/internal/backend"
)

// TaskState is the lifecycle state of one backend invocation.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskStreaming TaskState = "streaming"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskTimedOut  TaskState = "timed-out"
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal returns true if no further events are expected from the task.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskTimedOut, TaskCancelled:
		return true
	}
	return false
}

// Request is one user turn. Immutable after creation.
type Request struct {
	ID        string
	ChatID    string
	Prompt    string
	CreatedAt time.Time
}

// NewRequest creates a Request correlated to the caller-supplied chat id.
func NewRequest(chatID, prompt string) *Request {
	return &Request{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Prompt:    prompt,
		CreatedAt: time.Now(),
	}
}

// BackendTask tracks one in-flight backend invocation. The merger is the
// sole writer while the task is active; once the state is terminal the task
// is immutable and safe to read from any goroutine.
type BackendTask struct {
	name   string
	cancel context.CancelFunc

	mu     sync.Mutex
	state  TaskState
	chunks []string
	err    error
}

func newBackendTask(name string, cancel context.CancelFunc) *BackendTask {
	return &BackendTask{
		name:   name,
		cancel: cancel,
		state:  TaskPending,
	}
}

// Backend returns the backend identifier this task belongs to.
func (t *BackendTask) Backend() string { return t.name }

// State returns the task's current lifecycle state.
func (t *BackendTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Text returns the accumulated partial text in emission order.
func (t *BackendTask) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.chunks, "")
}

// Err returns the failure detail, non-nil iff the task failed or timed out.
func (t *BackendTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel aborts the underlying invocation.
func (t *BackendTask) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *BackendTask) appendChunk(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, text)
}

func (t *BackendTask) markStreaming() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskPending {
		t.state = TaskStreaming
	}
}

// finish moves the task to a terminal state. Once terminal, further finish
// calls are ignored.
func (t *BackendTask) finish(state TaskState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return
	}
	t.state = state
	t.err = err
}

// MergedResponse is the final synthesized answer for one request.
type MergedResponse struct {
	ChatID    string
	Text      string
	Succeeded []string
	Failed    []string

	// Method records how the text was produced (e.g. "unanimous_agreement",
	// "judge_arbitration", "degraded_concatenation", "no_successful_backends").
	Method string
}

// stateForTerminal maps a terminal event's error onto a task state.
func stateForTerminal(err error) TaskState {
	switch {
	case err == nil:
		return TaskSucceeded
	case errors.Is(err, context.Canceled):
		return TaskCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return TaskTimedOut
	}
	if be, ok := backend.AsError(err); ok && be.Kind == backend.ErrKindTimeout {
		return TaskTimedOut
	}
	return TaskFailed
}
