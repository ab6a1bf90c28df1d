package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName and ServerVersion identify this server to MCP clients.
const (
	ServerName    = "postgres-mcp"
	ServerVersion = "1.0.0"
)

// NewServer creates an MCP server with every registered tool wired through
// the service's dispatcher, so that transport calls get the same pending
// operation bookkeeping and response shaping as direct Dispatch calls.
func NewServer(svc *Service) *server.MCPServer {
	srv := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
	)

	for _, entry := range svc.entries {
		name := entry.tool.Name
		srv.AddTool(entry.tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return svc.Dispatch(ctx, name, request.GetArguments())
		})
	}

	return srv
}
