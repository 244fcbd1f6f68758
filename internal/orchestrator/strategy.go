package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/chorus/internal/backend"
)

// Compile-time interface checks.
var (
	_ Strategy = (*JudgeStrategy)(nil)
	_ Strategy = (*ConcatStrategy)(nil)
)

// JudgeStrategy arbitrates between backend outputs with a designated judge
// backend. When every successful backend produced identical text the judge is
// skipped entirely; otherwise the judge is asked to pick or synthesize the
// best answer. A judge failure surfaces as an error so the synthesizer can
// apply its degraded fallback.
type JudgeStrategy struct {
	judge backend.Adapter
}

// NewJudgeStrategy creates a JudgeStrategy using judge as the arbiter.
func NewJudgeStrategy(judge backend.Adapter) *JudgeStrategy {
	return &JudgeStrategy{judge: judge}
}

// Merge implements Strategy.
func (j *JudgeStrategy) Merge(ctx context.Context, prompt string, outputs []BackendOutput) (string, string, error) {
	if len(outputs) == 0 {
		return "", "", fmt.Errorf("judge: no outputs to merge")
	}

	if unanimous(outputs) {
		return outputs[0].Text, MethodUnanimous, nil
	}

	events, err := j.judge.Invoke(ctx, judgePrompt(prompt, outputs))
	if err != nil {
		return "", "", fmt.Errorf("judge %s: %w", j.judge.Name(), err)
	}

	var sb strings.Builder
loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			sb.WriteString(ev.Text)
			if ev.Final {
				if ev.Err != nil {
					return "", "", fmt.Errorf("judge %s: %w", j.judge.Name(), ev.Err)
				}
				break loop
			}
		case <-ctx.Done():
			return "", "", fmt.Errorf("judge %s: %w", j.judge.Name(), ctx.Err())
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", "", fmt.Errorf("judge %s: empty verdict", j.judge.Name())
	}
	return text, MethodJudge, nil
}

// unanimous reports whether every output carries identical text.
func unanimous(outputs []BackendOutput) bool {
	for _, o := range outputs[1:] {
		if o.Text != outputs[0].Text {
			return false
		}
	}
	return true
}

// judgePrompt frames the arbitration request for the judge backend.
func judgePrompt(prompt string, outputs []BackendOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The user asked: %q\n\n", prompt)
	for _, o := range outputs {
		fmt.Fprintf(&sb, "%s says: %q\n", o.Backend, o.Text)
	}
	sb.WriteString("\nIf the answers are similar, return the best one. " +
		"If they disagree, choose the most accurate and trustworthy answer, " +
		"or synthesize a consensus. Respond only with the chosen answer.")
	return sb.String()
}

// ConcatStrategy deterministically concatenates the outputs. Used when no
// judge backend is configured.
type ConcatStrategy struct{}

// Merge implements Strategy.
func (ConcatStrategy) Merge(_ context.Context, _ string, outputs []BackendOutput) (string, string, error) {
	if len(outputs) == 0 {
		return "", "", fmt.Errorf("concat: no outputs to merge")
	}
	return concatOutputs(outputs), MethodConcat, nil
}
