package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by goreleaser at build time.
var version = "dev"

// NewServer creates an MCP server with the chorus tools registered:
// ask and list_backends.
func NewServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "chorus",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Fan a prompt out to every configured model backend and return the merged answer with the succeeded/failed backend sets.",
	}, svc.Ask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_backends",
		Description: "List the configured model backends and the judge backend, if any.",
	}, svc.ListBackends)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
