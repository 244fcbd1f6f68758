package session

import (
	"context"
	"errors"

	"github.com/dusk-indust/chorus/internal/history"
	"github.com/dusk-indust/chorus/internal/orchestrator"
)

// Sink delivers outbound frames to the client transport. A Send error means
// the client is unreachable; the coordinator cancels the request and stops
// sending.
type Sink interface {
	Send(frame any) error
}

// Coordinator drives one session's request lifecycle: validate, dispatch,
// relay the merged partial stream, synthesize, deliver the final frame. One
// session is never processed by two coordinator invocations concurrently
// (the Busy rejection enforces this); different sessions run fully in
// parallel.
type Coordinator struct {
	dispatcher *orchestrator.Dispatcher
	merger     *orchestrator.Merger
	synth      *orchestrator.Synthesizer
	history    *history.Store
}

// NewCoordinator wires a Coordinator from the pipeline components.
func NewCoordinator(d *orchestrator.Dispatcher, m *orchestrator.Merger, s *orchestrator.Synthesizer, h *history.Store) *Coordinator {
	return &Coordinator{
		dispatcher: d,
		merger:     m,
		synth:      s,
		history:    h,
	}
}

// HandleMessage processes one inbound request frame to completion. Rejections
// (validation, busy, configuration) are delivered as error frames and return
// nil; a non-nil return means the sink failed and the connection is dead.
// The client always receives either partials followed by exactly one final
// frame, or exactly one error frame — a request is never silently dropped.
func (c *Coordinator) HandleMessage(ctx context.Context, sess *Session, in Inbound, sink Sink) error {
	if reason := in.Validate(); reason != "" {
		return sink.Send(errorFrame(in.ChatID, CodeValidation, reason))
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.begin(in.ChatID, cancel); err != nil {
		msg := "a request is already in flight"
		if errors.Is(err, ErrClosed) {
			msg = "session is closed"
		}
		return sink.Send(errorFrame(in.ChatID, CodeBusy, msg))
	}

	req := orchestrator.NewRequest(in.ChatID, c.contextualPrompt(in.ChatID, in.Prompt))
	c.history.Append(in.ChatID, history.RoleUser, in.Prompt, "")

	tasks, events, err := c.dispatcher.Dispatch(reqCtx, req.Prompt)
	if err != nil {
		sess.settle()
		if errors.Is(err, orchestrator.ErrNoBackends) {
			return sink.Send(errorFrame(in.ChatID, CodeConfiguration, "no backends configured"))
		}
		return sink.Send(errorFrame(in.ChatID, CodeInternal, "dispatch failed"))
	}

	if err := sink.Send(thinkingFrame(in.ChatID, in.Prompt)); err != nil {
		// The fan-out is already running; cancel it and wait for every task
		// to settle before reporting the dead sink.
		sess.Cancel()
		_, done := c.merger.Run(reqCtx, tasks, events)
		<-done
		return err
	}

	if !sess.advance(StateDispatching, StateStreaming) {
		// Cancelled between dispatch and streaming; the merger still runs to
		// drive every task terminal, but nothing is forwarded.
		_, done := c.merger.Run(reqCtx, tasks, events)
		<-done
		return nil
	}

	out, done := c.merger.Run(reqCtx, tasks, events)

	var sinkErr error
	for ev := range out {
		if sinkErr != nil || sess.State() == StateCancelled {
			continue // drain without forwarding
		}
		if err := sink.Send(partialFrame(in.ChatID, ev)); err != nil {
			sinkErr = err
			sess.Cancel()
		}
	}
	<-done

	if sinkErr != nil {
		return sinkErr
	}
	if !sess.advance(StateStreaming, StateSynthesizing) {
		// Cancelled mid-stream: discard partial state, no synthesis, no
		// further frames for this chat id.
		return nil
	}

	resp, err := c.synth.Synthesize(reqCtx, req, tasks)
	if err != nil {
		sess.settle()
		return sink.Send(errorFrame(in.ChatID, CodeInternal, "synthesis failed"))
	}

	if sess.State() == StateCancelled {
		return nil
	}

	if len(resp.Succeeded) > 0 {
		c.history.Append(in.ChatID, history.RoleAssistant, resp.Text, resp.Method)
	}

	if err := sink.Send(finalFrame(resp)); err != nil {
		sess.Cancel()
		return err
	}

	sess.settle()
	return nil
}

// contextualPrompt prepends the chat's formatted history to the current
// prompt so backends see earlier turns.
func (c *Coordinator) contextualPrompt(chatID, prompt string) string {
	h := c.history.Formatted(chatID)
	if h == "" {
		return prompt
	}
	return h + "\nUser's current question: " + prompt
}
