package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/chorus/internal/backend"
)

// TestPipeline_MixedOutcomes runs the full dispatch -> merge -> synthesize
// chain with one healthy backend, one that fails on connect, and one that
// stalls mid-stream until the per-backend timeout fires.
func TestPipeline_MixedOutcomes(t *testing.T) {
	adapters := []backend.Adapter{
		&scriptedAdapter{name: "a", chunks: []string{"Quan", "tum"}},
		&scriptedAdapter{name: "b", startErr: backend.NewError("b", backend.ErrKindConnection, "refused", nil)},
		&scriptedAdapter{name: "c", chunks: []string{"Cla"}, block: true},
	}

	d := NewDispatcher(adapters, 200*time.Millisecond)
	tasks, events, err := d.Dispatch(context.Background(), "what is quantum?")
	require.NoError(t, err)

	out, done := NewMerger().Run(context.Background(), tasks, events)

	var partials []backend.Event
	timeout := time.After(5 * time.Second)
	for out != nil || done != nil {
		select {
		case ev, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			partials = append(partials, ev)
		case <-done:
			done = nil
		case <-timeout:
			t.Fatal("pipeline did not complete")
		}
	}

	// Partials arrive from the live backends only; the healthy backend's
	// chunks keep their emission order.
	var aTexts []string
	for _, ev := range partials {
		if ev.Backend == "a" {
			aTexts = append(aTexts, ev.Text)
		}
		assert.NotEqual(t, "b", ev.Backend, "a failed connect produces no partials")
	}
	assert.Equal(t, []string{"Quan", "tum"}, aTexts)

	assert.Equal(t, TaskSucceeded, tasks["a"].State())
	assert.Equal(t, TaskFailed, tasks["b"].State())
	assert.Equal(t, TaskTimedOut, tasks["c"].State())

	s := NewSynthesizer(ConcatStrategy{}, time.Second)
	resp, err := s.Synthesize(context.Background(), testRequest("what is quantum?"), tasks)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, resp.Succeeded)
	assert.Equal(t, []string{"b", "c"}, resp.Failed)
	assert.Equal(t, "Quantum", resp.Text, "the stalled backend's partial text is excluded")
	assert.Equal(t, MethodConcat, resp.Method)
}

// TestPipeline_CancellationMidStream cancels the request while backends are
// still streaming and verifies no synthesis-worthy success remains.
func TestPipeline_CancellationMidStream(t *testing.T) {
	gate := make(chan struct{})
	adapters := []backend.Adapter{
		&scriptedAdapter{name: "a", chunks: []string{"x"}, gate: gate, block: true},
		&scriptedAdapter{name: "b", chunks: []string{"y"}, gate: gate, block: true},
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(adapters, 10*time.Second)
	tasks, events, err := d.Dispatch(ctx, "hi")
	require.NoError(t, err)

	out, done := NewMerger().Run(ctx, tasks, events)

	close(gate)
	// Wait for at least one partial before cancelling.
	select {
	case <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("no partial arrived")
	}
	cancel()

	for range out {
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("merge did not complete after cancel")
	}

	for name, task := range tasks {
		assert.True(t, task.State().IsTerminal(), "task %s must settle", name)
		assert.NotEqual(t, TaskSucceeded, task.State())
	}
}
