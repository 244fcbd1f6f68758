package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/chorus/internal/backend"
	"github.com/dusk-indust/chorus/internal/history"
	"github.com/dusk-indust/chorus/internal/orchestrator"
)

// stubAdapter plays back fixed chunks then a terminal event. block keeps the
// stream open until the context expires.
type stubAdapter struct {
	name     string
	chunks   []string
	failWith error
	startErr error
	block    bool
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Invoke(ctx context.Context, prompt string) (<-chan backend.Event, error) {
	if a.startErr != nil {
		return nil, a.startErr
	}
	ch := make(chan backend.Event)
	go func() {
		defer close(ch)
		for i, text := range a.chunks {
			select {
			case ch <- backend.Event{Backend: a.name, Seq: i, Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if a.block {
			<-ctx.Done()
			return
		}
		select {
		case ch <- backend.Event{Backend: a.name, Seq: len(a.chunks), Final: true, Err: a.failWith}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// captureSink records every frame. onSend, when set, runs after each capture
// and may drive the session (e.g. cancel it mid-stream).
type captureSink struct {
	mu     sync.Mutex
	frames []any
	err    error
	onSend func(frame any)
}

func (s *captureSink) Send(frame any) error {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	err := s.err
	cb := s.onSend
	s.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
	return err
}

func (s *captureSink) all() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.frames))
	copy(out, s.frames)
	return out
}

func newCoordinator(adapters ...backend.Adapter) (*Coordinator, *history.Store) {
	h := history.NewStore(history.DefaultWindow)
	d := orchestrator.NewDispatcher(adapters, time.Second)
	s := orchestrator.NewSynthesizer(orchestrator.ConcatStrategy{}, time.Second)
	return NewCoordinator(d, orchestrator.NewMerger(), s, h), h
}

func msgFrame(chatID, prompt string) Inbound {
	return Inbound{Action: ActionMessage, ChatID: chatID, Prompt: prompt}
}

func TestHandleMessage_HappyPath_FrameSequence(t *testing.T) {
	coord, hist := newCoordinator(&stubAdapter{name: "a", chunks: []string{"hel", "lo"}})
	sess := New("s1")
	sink := &captureSink{}

	err := coord.HandleMessage(context.Background(), sess, msgFrame("c1", "say hello to the nice user please"), sink)
	require.NoError(t, err)

	frames := sink.all()
	require.NotEmpty(t, frames)

	thinking, ok := frames[0].(ThinkingFrame)
	require.True(t, ok, "first frame must be thinking, got %T", frames[0])
	assert.Equal(t, "c1", thinking.ChatID)
	assert.Equal(t, "say hello to the nice...", thinking.Topic)

	final, ok := frames[len(frames)-1].(FinalFrame)
	require.True(t, ok, "last frame must be final, got %T", frames[len(frames)-1])
	assert.Equal(t, "hello", final.Text)
	assert.Equal(t, []string{"a"}, final.Succeeded)
	assert.Empty(t, final.Failed)

	var texts []string
	for _, f := range frames[1 : len(frames)-1] {
		p, ok := f.(PartialFrame)
		require.True(t, ok, "middle frames must be partials, got %T", f)
		texts = append(texts, p.Text)
	}
	assert.Equal(t, []string{"hel", "lo"}, texts)

	assert.Equal(t, StateIdle, sess.State(), "session settles back to idle")

	msgs := hist.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, history.RoleUser, msgs[0].Role)
	assert.Equal(t, history.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestHandleMessage_InvalidFrame_ErrorFrameOnly(t *testing.T) {
	coord, _ := newCoordinator(&stubAdapter{name: "a", chunks: []string{"x"}})
	sess := New("s1")
	sink := &captureSink{}

	err := coord.HandleMessage(context.Background(), sess, Inbound{Action: "typing", ChatID: "c1"}, sink)
	require.NoError(t, err)

	frames := sink.all()
	require.Len(t, frames, 1)
	ef, ok := frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, ef.Code)
	assert.Equal(t, StateIdle, sess.State())
}

func TestHandleMessage_MissingChatID_NullChatInErrorFrame(t *testing.T) {
	coord, _ := newCoordinator(&stubAdapter{name: "a"})
	sess := New("s1")
	sink := &captureSink{}

	err := coord.HandleMessage(context.Background(), sess, Inbound{Action: ActionMessage, Prompt: "hi"}, sink)
	require.NoError(t, err)

	frames := sink.all()
	require.Len(t, frames, 1)
	ef := frames[0].(ErrorFrame)
	assert.Equal(t, CodeValidation, ef.Code)
	assert.Nil(t, ef.ChatID)
}

func TestHandleMessage_ZeroBackends_ConfigurationError(t *testing.T) {
	coord, _ := newCoordinator()
	sess := New("s1")
	sink := &captureSink{}

	err := coord.HandleMessage(context.Background(), sess, msgFrame("c1", "hi"), sink)
	require.NoError(t, err)

	frames := sink.all()
	require.Len(t, frames, 1, "one error frame, nothing else")
	ef, ok := frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, CodeConfiguration, ef.Code)
	assert.Equal(t, StateIdle, sess.State(), "session stays usable")
}

func TestHandleMessage_BusyRejection(t *testing.T) {
	coord, _ := newCoordinator(&stubAdapter{name: "a", chunks: []string{"x"}, block: true})
	sess := New("s1")

	first := &captureSink{}
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- coord.HandleMessage(context.Background(), sess, msgFrame("c1", "slow one"), first)
	}()

	// Wait until the first request owns the session.
	require.Eventually(t, func() bool {
		return sess.State() != StateIdle
	}, 2*time.Second, 5*time.Millisecond)

	second := &captureSink{}
	err := coord.HandleMessage(context.Background(), sess, msgFrame("c2", "me too"), second)
	require.NoError(t, err)

	frames := second.all()
	require.Len(t, frames, 1)
	ef, ok := frames[0].(ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, CodeBusy, ef.Code)
	require.NotNil(t, ef.ChatID)
	assert.Equal(t, "c2", *ef.ChatID)

	// Release the blocked backend and let the first request wind down.
	sess.Cancel()
	require.NoError(t, <-firstDone)
}

func TestHandleMessage_CancelMidStream_NoFinalFrame(t *testing.T) {
	coord, hist := newCoordinator(&stubAdapter{name: "a", chunks: []string{"x"}, block: true})
	sess := New("s1")

	sink := &captureSink{}
	sink.onSend = func(frame any) {
		if _, ok := frame.(PartialFrame); ok {
			sess.Cancel()
		}
	}

	err := coord.HandleMessage(context.Background(), sess, msgFrame("c1", "hi"), sink)
	require.NoError(t, err)

	for _, f := range sink.all() {
		_, isFinal := f.(FinalFrame)
		assert.False(t, isFinal, "cancelled request must not deliver a final frame")
	}
	assert.Equal(t, StateCancelled, sess.State())

	msgs := hist.Messages("c1")
	require.Len(t, msgs, 1, "only the user turn is recorded")
	assert.Equal(t, history.RoleUser, msgs[0].Role)
}

func TestHandleMessage_CancelledSessionAcceptsNextRequest(t *testing.T) {
	coord, _ := newCoordinator(&stubAdapter{name: "a", chunks: []string{"ok"}})
	sess := New("s1")
	sess.begin("c0", func() {})
	sess.Cancel()
	require.Equal(t, StateCancelled, sess.State())

	sink := &captureSink{}
	err := coord.HandleMessage(context.Background(), sess, msgFrame("c1", "hi"), sink)
	require.NoError(t, err)

	frames := sink.all()
	_, ok := frames[len(frames)-1].(FinalFrame)
	assert.True(t, ok)
	assert.Equal(t, StateIdle, sess.State())
}

func TestHandleMessage_ClosedSession_Rejected(t *testing.T) {
	coord, _ := newCoordinator(&stubAdapter{name: "a", chunks: []string{"ok"}})
	sess := New("s1")
	sess.Close()

	sink := &captureSink{}
	err := coord.HandleMessage(context.Background(), sess, msgFrame("c1", "hi"), sink)
	require.NoError(t, err)

	frames := sink.all()
	require.Len(t, frames, 1)
	ef := frames[0].(ErrorFrame)
	assert.Equal(t, CodeBusy, ef.Code)
	assert.Equal(t, "session is closed", ef.Message)
	assert.Equal(t, StateClosed, sess.State())
}

func TestHandleMessage_AllBackendsFail_FinalStillDelivered(t *testing.T) {
	coord, hist := newCoordinator(
		&stubAdapter{name: "a", startErr: backend.NewError("a", backend.ErrKindConnection, "refused", nil)},
		&stubAdapter{name: "b", failWith: backend.NewError("b", backend.ErrKindProvider, "overloaded", nil)},
	)
	sess := New("s1")
	sink := &captureSink{}

	err := coord.HandleMessage(context.Background(), sess, msgFrame("c1", "hi"), sink)
	require.NoError(t, err)

	frames := sink.all()
	final, ok := frames[len(frames)-1].(FinalFrame)
	require.True(t, ok)
	assert.Empty(t, final.Text)
	assert.Empty(t, final.Succeeded)
	assert.ElementsMatch(t, []string{"a", "b"}, final.Failed)

	assert.Len(t, hist.Messages("c1"), 1, "no assistant turn without a success")
	assert.Equal(t, StateIdle, sess.State())
}

func TestHandleMessage_SinkFailure_CancelsRequest(t *testing.T) {
	coord, _ := newCoordinator(&stubAdapter{name: "a", chunks: []string{"x", "y"}, block: true})
	sess := New("s1")

	sink := &captureSink{}
	sink.onSend = func(frame any) {
		if _, ok := frame.(PartialFrame); ok {
			sink.mu.Lock()
			sink.err = context.Canceled
			sink.mu.Unlock()
		}
	}

	err := coord.HandleMessage(context.Background(), sess, msgFrame("c1", "hi"), sink)
	require.Error(t, err)
	assert.Equal(t, StateCancelled, sess.State())
}

func TestHandleMessage_SecondTurnCarriesHistory(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	record := adapterFunc{name: "a", fn: func(ctx context.Context, prompt string) (<-chan backend.Event, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		ch := make(chan backend.Event, 2)
		ch <- backend.Event{Backend: "a", Seq: 0, Text: "answer"}
		ch <- backend.Event{Backend: "a", Seq: 1, Final: true}
		close(ch)
		return ch, nil
	}}

	coord, _ := newCoordinator(record)
	sess := New("s1")

	require.NoError(t, coord.HandleMessage(context.Background(), sess, msgFrame("c1", "first question"), &captureSink{}))
	require.NoError(t, coord.HandleMessage(context.Background(), sess, msgFrame("c1", "second question"), &captureSink{}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, prompts, 2)
	assert.Equal(t, "first question", prompts[0], "first turn has no history preamble")
	assert.Contains(t, prompts[1], "--- Previous Conversation ---")
	assert.Contains(t, prompts[1], "User: first question")
	assert.Contains(t, prompts[1], "Assistant: answer")
	assert.Contains(t, prompts[1], "User's current question: second question")
}

// adapterFunc adapts a bare function to backend.Adapter.
type adapterFunc struct {
	name string
	fn   func(ctx context.Context, prompt string) (<-chan backend.Event, error)
}

func (a adapterFunc) Name() string { return a.name }

func (a adapterFunc) Invoke(ctx context.Context, prompt string) (<-chan backend.Event, error) {
	return a.fn(ctx, prompt)
}
