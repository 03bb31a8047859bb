package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/oauth"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"

	"github.com/mark3labs/mcp-go/mcp"
)

// FetchResponse is the result of authenticated_fetch.
type FetchResponse struct {
	StatusCode    int          `json:"status_code"`
	ContentType   string       `json:"content_type,omitempty"`
	Body          any          `json:"body"`
	Authorization oauth.Result `json:"authorization"`
}

// AuthenticatedFetchTool defines the MCP tool for calling a provider API with the session's credentials.
var AuthenticatedFetchTool = mcp.NewTool("authenticated_fetch",
	mcp.WithDescription(`Call a provider API with the session's credentials.

Relative resources are resolved against the provider's service endpoint.
Expired tokens are refreshed when possible. When the provider rejects the
credentials, the result carries a redirect_required authorization status
with the URL the user must open.`),
	mcp.WithString("provider",
		mcp.Description("The provider id, as returned by list_providers"),
		mcp.Required(),
	),
	mcp.WithString("resource",
		mcp.Description("Absolute URL or path relative to the service endpoint, e.g. /user"),
		mcp.Required(),
	),
	mcp.WithString("method",
		mcp.Description("HTTP method"),
		mcp.Enum(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete),
	),
	mcp.WithString("body",
		mcp.Description("Raw request body for non-GET methods"),
	),
	mcp.WithString("content_type",
		mcp.Description("Content type of body, defaults to application/json"),
	),
)

// HandleAuthenticatedFetchTool is an MCP tool handler that sends an
// authenticated request to a provider.
func HandleAuthenticatedFetchTool(
	ctx context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	id, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	method := strings.ToUpper(req.GetString("method", http.MethodGet))
	logger.Info("Handling authenticated_fetch tool", "provider", id, "method", method)

	a, res, err := lookup(ctx, id)
	if res != nil || err != nil {
		return res, err
	}

	cfg := a.Config()
	if !cfg.OwnsURL(resource) {
		return mcp.NewToolResultError(fmt.Sprintf("resource %q is outside the endpoints of provider %q", resource, id)), nil
	}

	call := transport.Call{Method: method, URL: resource}
	if body := req.GetString("body", ""); body != "" && method != http.MethodGet {
		call.Body = []byte(body)
		call.Headers = http.Header{"Content-Type": {req.GetString("content_type", "application/json")}}
	}

	inbound := oauth.RequestFromContext(ctx)
	inbound.Query = nil
	inbound.Writer = nil

	result, err := a.Fetch(ctx, inbound, call)
	switch {
	case errors.Is(err, oauth.ErrNotAuthorized):
		return mcp.NewToolResultError(fmt.Sprintf("provider %q is not authorized, call authorization_url first", id)), nil
	case errors.Is(err, transport.ErrAuthentication):
		logger.Error("Provider call failed", "provider", id, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	case err != nil:
		logger.Error("Fetch failed", "provider", id, "error", err)
		return nil, err
	}

	return jsonResult(FetchResponse{
		StatusCode:    result.Envelope.Code,
		ContentType:   result.Envelope.ContentType,
		Body:          result.Envelope.Result,
		Authorization: result.Result,
	})
}
