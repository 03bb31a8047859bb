// Package operation exposes gatekeeper operations as MCP tools.
package operation

import (
	"github.com/go-training/oauth-gatekeeper/pkg/operation/provider"

	"github.com/mark3labs/mcp-go/server"
)

/*
RegisterProviderTools registers the provider tools to the specified MCPServer instance.

Parameters:
  - s: Pointer to the MCPServer instance where the tools will be registered.

The handlers expect the session registry in the request context
(oauth.WithRegistry), and authorization_url also reads the inbound request
(oauth.WithRequest).
*/
func RegisterProviderTools(s *server.MCPServer) {
	tool := &Tool{}

	tool.RegisterRead(server.ServerTool{
		Tool:    provider.ListProvidersTool,
		Handler: provider.HandleListProvidersTool,
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    provider.ProviderStatusTool,
		Handler: provider.HandleProviderStatusTool,
	})
	tool.RegisterWrite(server.ServerTool{
		Tool:    provider.AuthorizationURLTool,
		Handler: provider.HandleAuthorizationURLTool,
	})
	tool.RegisterWrite(server.ServerTool{
		Tool:    provider.AuthenticatedFetchTool,
		Handler: provider.HandleAuthenticatedFetchTool,
	})

	s.AddTools(tool.Tools()...)
}

// Tool collects tools before they are added to an MCPServer. Write tools
// change credential state or call providers; read tools only inspect it.
type Tool struct {
	write []server.ServerTool
	read  []server.ServerTool
}

// RegisterWrite registers a ServerTool as a write operation.
func (t *Tool) RegisterWrite(s server.ServerTool) {
	t.write = append(t.write, s)
}

// RegisterRead registers a ServerTool as a read operation.
func (t *Tool) RegisterRead(s server.ServerTool) {
	t.read = append(t.read, s)
}

// Tools returns all registered tools, write tools first.
func (t *Tool) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(t.write)+len(t.read))
	tools = append(tools, t.write...)
	tools = append(tools, t.read...)
	return tools
}

// ReadOnly returns only the read tools.
func (t *Tool) ReadOnly() []server.ServerTool {
	return append([]server.ServerTool(nil), t.read...)
}
