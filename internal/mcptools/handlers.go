package mcptools

import (
	"context"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/chorus/internal/history"
	"github.com/dusk-indust/chorus/internal/orchestrator"
)

// Service handles MCP tool calls. It drives the same dispatch/merge/
// synthesize pipeline as the streaming server, but blocks until the merged
// response is ready since MCP tool results are not streamed.
type Service struct {
	dispatcher *orchestrator.Dispatcher
	merger     *orchestrator.Merger
	synth      *orchestrator.Synthesizer
	history    *history.Store
	judge      string
}

// NewService creates a Service over the given pipeline components. judge is
// the judge backend name reported by list_backends; it may be empty.
func NewService(d *orchestrator.Dispatcher, m *orchestrator.Merger, s *orchestrator.Synthesizer, h *history.Store, judge string) *Service {
	return &Service{
		dispatcher: d,
		merger:     m,
		synth:      s,
		history:    h,
		judge:      judge,
	}
}

// Ask fans the prompt out to every configured backend and returns the merged
// response once all backends are terminal.
func (s *Service) Ask(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	chatID := input.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}

	prompt := input.Prompt
	if h := s.history.Formatted(chatID); h != "" {
		prompt = h + "\nUser's current question: " + input.Prompt
	}

	req := orchestrator.NewRequest(chatID, prompt)
	s.history.Append(chatID, history.RoleUser, input.Prompt, "")

	tasks, events, err := s.dispatcher.Dispatch(ctx, req.Prompt)
	if err != nil {
		return nil, AskOutput{}, err
	}

	out, done := s.merger.Run(ctx, tasks, events)
	for range out {
		// Partial chunks are not surfaced over MCP; drain until terminal.
	}
	<-done

	resp, err := s.synth.Synthesize(ctx, req, tasks)
	if err != nil {
		return nil, AskOutput{}, err
	}

	if len(resp.Succeeded) > 0 {
		s.history.Append(chatID, history.RoleAssistant, resp.Text, resp.Method)
	}

	return nil, AskOutput{
		Text:      resp.Text,
		Succeeded: resp.Succeeded,
		Failed:    resp.Failed,
		Method:    resp.Method,
	}, nil
}

// ListBackends reports the configured backend names and the judge.
func (s *Service) ListBackends(_ context.Context, _ *mcp.CallToolRequest, _ ListBackendsInput) (*mcp.CallToolResult, ListBackendsOutput, error) {
	return nil, ListBackendsOutput{
		Backends: s.dispatcher.Backends(),
		Judge:    s.judge,
	}, nil
}
