// Package provider provides MCP tools for inspecting and using the OAuth
// providers of the calling session.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/oauth"

	"github.com/mark3labs/mcp-go/mcp"
)

// Summary describes one provider without exposing any credential.
type Summary struct {
	ID         string      `json:"id"`
	Kind       oauth.Kind  `json:"kind"`
	Template   string      `json:"template,omitempty"`
	Authorized bool        `json:"authorized"`
	Status     *StatusInfo `json:"status,omitempty"`
}

// StatusInfo is the credential metadata reported by provider_status.
type StatusInfo struct {
	Scope           string     `json:"scope,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Expired         bool       `json:"expired"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	PendingURL      string     `json:"pending_authorization_url,omitempty"`
}

// ListProvidersTool defines the MCP tool for listing the configured providers.
var ListProvidersTool = mcp.NewTool("list_providers",
	mcp.WithDescription("List the configured OAuth providers and whether the session is authorized with each"),
)

// ProviderStatusTool defines the MCP tool for showing one provider's authorization state.
var ProviderStatusTool = mcp.NewTool("provider_status",
	mcp.WithDescription("Show the authorization state of one provider: scope, expiry and refresh availability. Tokens are never returned."),
	mcp.WithString("provider",
		mcp.Description("The provider id, as returned by list_providers"),
		mcp.Required(),
	),
)

// HandleListProvidersTool is an MCP tool handler that lists every provider
// in the session registry.
func HandleListProvidersTool(
	ctx context.Context,
	_ mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Handling list_providers tool")

	registry, err := oauth.RegistryFromContext(ctx)
	if err != nil {
		logger.Error("Missing registry from context", "error", err)
		return nil, err
	}

	summaries := make([]Summary, 0, len(registry.IDs()))
	for _, id := range registry.IDs() {
		a, err := registry.Provider(id)
		if err != nil {
			return nil, err
		}
		s, err := summarize(ctx, a, false)
		if err != nil {
			logger.Error("Failed to read provider state", "provider", id, "error", err)
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return jsonResult(summaries)
}

// HandleProviderStatusTool is an MCP tool handler that reports the
// authorization state of a single provider.
func HandleProviderStatusTool(
	ctx context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	id, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	logger.Info("Handling provider_status tool", "provider", id)

	a, res, err := lookup(ctx, id)
	if res != nil || err != nil {
		return res, err
	}
	s, err := summarize(ctx, a, true)
	if err != nil {
		logger.Error("Failed to read provider state", "provider", id, "error", err)
		return nil, err
	}
	return jsonResult(s)
}

// lookup resolves a provider id in the session registry. An unknown id is
// reported as a tool error so the model can correct itself.
func lookup(ctx context.Context, id string) (oauth.Authorizer, *mcp.CallToolResult, error) {
	registry, err := oauth.RegistryFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := registry.Provider(id)
	if errors.Is(err, oauth.ErrUnknownProvider) {
		return nil, mcp.NewToolResultError(fmt.Sprintf("unknown provider %q, available: %v", id, registry.IDs())), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return a, nil, nil
}

func summarize(ctx context.Context, a oauth.Authorizer, detailed bool) (Summary, error) {
	st, err := a.Snapshot(ctx)
	if err != nil {
		return Summary{}, err
	}
	cfg := a.Config()
	s := Summary{
		ID:         cfg.ID,
		Kind:       cfg.Kind,
		Template:   cfg.Template,
		Authorized: st.Authorized(),
	}
	if !detailed {
		return s, nil
	}

	info := &StatusInfo{
		Scope:           st.Scope,
		Expired:         st.Expired(time.Now()),
		HasRefreshToken: st.RefreshToken != "",
		PendingURL:      st.AuthorizationURL,
	}
	if st.AccessTokenExpires > 0 {
		exp := time.Unix(st.AccessTokenExpires, 0).UTC()
		info.ExpiresAt = &exp
	}
	s.Status = info
	return s, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
