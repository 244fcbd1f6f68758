package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Synthesis method identifiers recorded on MergedResponse.
const (
	MethodUnanimous = "unanimous_agreement"
	MethodJudge     = "judge_arbitration"
	MethodConcat    = "concatenation"
	MethodDegraded  = "degraded_concatenation"
	MethodNone      = "no_successful_backends"
)

// BackendOutput is one successful backend's accumulated text, handed to the
// merge strategy.
type BackendOutput struct {
	Backend string
	Text    string
}

// Strategy combines the successful backends' outputs into one final text.
// Outputs arrive sorted by backend name, so deterministic strategies produce
// identical results across runs.
type Strategy interface {
	// Merge returns the combined text and the method identifier describing
	// how it was produced.
	Merge(ctx context.Context, prompt string, outputs []BackendOutput) (text, method string, err error)
}

// Synthesizer produces the single MergedResponse for a request. The strategy
// invocation is bounded by a timeout and any strategy failure degrades to a
// deterministic concatenation of the raw successful outputs — synthesis never
// propagates failure to the caller once all tasks are terminal.
type Synthesizer struct {
	strategy Strategy
	timeout  time.Duration
}

// NewSynthesizer creates a Synthesizer with the given strategy and per-request
// synthesis timeout.
func NewSynthesizer(strategy Strategy, timeout time.Duration) *Synthesizer {
	return &Synthesizer{
		strategy: strategy,
		timeout:  timeout,
	}
}

// Synthesize combines the terminal tasks into the request's MergedResponse.
// It must be called only after the merger's completion signal; a non-terminal
// task is a caller bug and returns an error.
func (s *Synthesizer) Synthesize(ctx context.Context, req *Request, tasks map[string]*BackendTask) (*MergedResponse, error) {
	succeeded, failed := partition(tasks)
	for _, t := range tasks {
		if !t.State().IsTerminal() {
			return nil, fmt.Errorf("orchestrator: synthesize called with task %s in non-terminal state %s", t.Backend(), t.State())
		}
	}

	resp := &MergedResponse{
		ChatID:    req.ChatID,
		Succeeded: names(succeeded),
		Failed:    names(failed),
	}

	if len(succeeded) == 0 {
		resp.Method = MethodNone
		return resp, nil
	}

	outputs := make([]BackendOutput, 0, len(succeeded))
	for _, t := range succeeded {
		outputs = append(outputs, BackendOutput{Backend: t.Backend(), Text: t.Text()})
	}

	mctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, method, err := s.strategy.Merge(mctx, req.Prompt, outputs)
	if err != nil {
		log.Printf("WARNING: merge strategy failed for chat %s: %v; degrading to concatenation", req.ChatID, err)
		resp.Text = concatOutputs(outputs)
		resp.Method = MethodDegraded
		return resp, nil
	}

	resp.Text = text
	resp.Method = method
	return resp, nil
}

// partition splits tasks into succeeded and not-succeeded, each sorted by
// backend name for deterministic ordering.
func partition(tasks map[string]*BackendTask) (succeeded, failed []*BackendTask) {
	for _, t := range tasks {
		if t.State() == TaskSucceeded {
			succeeded = append(succeeded, t)
		} else {
			failed = append(failed, t)
		}
	}
	byName := func(ts []*BackendTask) {
		sort.Slice(ts, func(i, j int) bool { return ts[i].Backend() < ts[j].Backend() })
	}
	byName(succeeded)
	byName(failed)
	return succeeded, failed
}

func names(tasks []*BackendTask) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Backend())
	}
	return out
}

// concatOutputs joins outputs in their (already sorted) order, labeling each
// section with its backend.
func concatOutputs(outputs []BackendOutput) string {
	if len(outputs) == 1 {
		return outputs[0].Text
	}
	sections := make([]string, 0, len(outputs))
	for _, o := range outputs {
		sections = append(sections, fmt.Sprintf("[%s]\n%s", o.Backend, o.Text))
	}
	return strings.Join(sections, "\n\n---\n\n")
}
