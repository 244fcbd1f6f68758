package mcptools

// --- MCP tool types for the chorusd server mode (--serve-mcp) ---
// These tools are exposed when the binary runs as an MCP server, letting an
// MCP client fan a prompt out to every configured backend and get the merged
// answer as a structured result.

// AskInput is the input for the ask MCP tool.
type AskInput struct {
	Prompt string `json:"prompt" jsonschema:"the user prompt to fan out to every configured backend"`
	ChatID string `json:"chatId,omitempty" jsonschema:"optional chat id to carry conversation history across calls"`
}

// AskOutput is the result of the ask MCP tool.
type AskOutput struct {
	Text      string   `json:"text"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Method    string   `json:"method"`
}

// ListBackendsInput is the input for the list_backends MCP tool.
type ListBackendsInput struct{}

// ListBackendsOutput is the result of the list_backends MCP tool.
type ListBackendsOutput struct {
	Backends []string `json:"backends"`
	Judge    string   `json:"judge,omitempty"`
}
