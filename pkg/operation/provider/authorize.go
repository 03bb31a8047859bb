package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/oauth"

	"github.com/mark3labs/mcp-go/mcp"
)

// AuthorizationURLTool defines the MCP tool that starts an authorization flow.
var AuthorizationURLTool = mcp.NewTool("authorization_url",
	mcp.WithDescription(`Start the authorization flow of a provider.

Returns the URL the user must open in a browser to grant access. When the
session is already authorized, no URL is returned.`),
	mcp.WithString("provider",
		mcp.Description("The provider id, as returned by list_providers"),
		mcp.Required(),
	),
)

// HandleAuthorizationURLTool is an MCP tool handler that advances the flow
// of a provider and returns the consent URL.
func HandleAuthorizationURLTool(
	ctx context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	id, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	logger.Info("Handling authorization_url tool", "provider", id)

	a, res, err := lookup(ctx, id)
	if res != nil || err != nil {
		return res, err
	}

	// The flow starts fresh: query parameters of the MCP transport request
	// must not be mistaken for a callback. Client-side redirects are captured
	// instead of written to the MCP response.
	inbound := oauth.RequestFromContext(ctx)
	inbound.Query = nil
	inbound.Writer = nil
	inbound.Redirect = func(string) {}

	result, err := a.Authorized(ctx, inbound, true)
	if err != nil && !errors.Is(err, oauth.ErrResponseCommitted) {
		logger.Error("Failed to start authorization", "provider", id, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to start authorization: %v", err)), nil
	}
	return jsonResult(result)
}
