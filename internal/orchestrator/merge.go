package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/dusk-indust/chorus/internal/backend"
)

// Merger multiplexes the per-backend event streams into one arrival-ordered
// output stream and tracks terminal-state completion. It is the single
// synchronization point between the backend goroutines and the consumer.
type Merger struct{}

// NewMerger creates a Merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Run consumes the dispatcher's funnel and produces the client-facing partial
// stream. Events are forwarded in arrival order across backends; within one
// backend, sequence numbers must be strictly increasing with no gaps, and a
// violation fails that task without affecting the others.
//
// The returned out channel carries validated partial events and is closed
// when merging ends. done is closed exactly once, after out, when every task
// has reached a terminal state — it is the sole gate for synthesis.
//
// Cancelling ctx stops forwarding, marks the remaining tasks cancelled, and
// still reports completion; the funnel is drained in the background so the
// backend goroutines can exit.
func (m *Merger) Run(ctx context.Context, tasks map[string]*BackendTask, events <-chan backend.Event) (out <-chan backend.Event, done <-chan struct{}) {
	outCh := make(chan backend.Event)
	doneCh := make(chan struct{})

	go m.run(ctx, tasks, events, outCh, doneCh)

	return outCh, doneCh
}

func (m *Merger) run(ctx context.Context, tasks map[string]*BackendTask, events <-chan backend.Event, out chan<- backend.Event, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	nextSeq := make(map[string]int, len(tasks))
	remaining := len(tasks)

	for remaining > 0 {
		select {
		case <-ctx.Done():
			m.cancelAll(ctx, tasks, events)
			return

		case ev, ok := <-events:
			if !ok {
				// Funnel closed early: the dispatcher guarantees one terminal
				// per task, so this only happens on a pump bug. Fail whatever
				// is left rather than hanging.
				for _, t := range tasks {
					if !t.State().IsTerminal() {
						t.finish(TaskFailed, fmt.Errorf("orchestrator: stream ended with task %s non-terminal", t.Backend()))
					}
				}
				return
			}

			if m.consume(ctx, tasks, nextSeq, ev, out) {
				remaining--
			}
			if ctx.Err() != nil {
				m.cancelAll(ctx, tasks, events)
				return
			}
		}
	}

	// All tasks terminal; discard any protocol-violating stragglers so the
	// pumps can exit, then report completion.
	go func() {
		for ev := range events {
			log.Printf("WARNING: backend %s emitted event after merge completed; discarding", ev.Backend)
		}
	}()
}

// consume applies one event to its task. Returns true if the event moved the
// task to a terminal state.
func (m *Merger) consume(ctx context.Context, tasks map[string]*BackendTask, nextSeq map[string]int, ev backend.Event, out chan<- backend.Event) bool {
	task, ok := tasks[ev.Backend]
	if !ok {
		log.Printf("WARNING: event from unknown backend %q; discarding", ev.Backend)
		return false
	}

	if task.State().IsTerminal() {
		// Protocol violation: events after terminal are logged and discarded.
		log.Printf("WARNING: backend %s emitted event after terminal state %s; discarding", ev.Backend, task.State())
		return false
	}

	if ev.Text != "" {
		if ev.Seq != nextSeq[ev.Backend] {
			log.Printf("WARNING: backend %s sequence violation: got %d, want %d", ev.Backend, ev.Seq, nextSeq[ev.Backend])
			task.finish(TaskFailed, backend.NewError(ev.Backend, backend.ErrKindProvider,
				fmt.Sprintf("sequence violation: got %d, want %d", ev.Seq, nextSeq[ev.Backend]), nil))
			return true
		}
		nextSeq[ev.Backend]++

		task.markStreaming()
		task.appendChunk(ev.Text)

		select {
		case out <- ev:
		case <-ctx.Done():
			return false
		}
	}

	if ev.Final {
		task.finish(stateForTerminal(ev.Err), ev.Err)
		return true
	}
	return false
}

// cancelAll marks every non-terminal task cancelled, aborts its invocation,
// and drains the funnel in the background.
func (m *Merger) cancelAll(ctx context.Context, tasks map[string]*BackendTask, events <-chan backend.Event) {
	for _, t := range tasks {
		if !t.State().IsTerminal() {
			t.finish(TaskCancelled, ctx.Err())
		}
		t.Cancel()
	}
	go func() {
		for range events {
		}
	}()
}
