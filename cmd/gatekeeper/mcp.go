package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/oauth"
	"github.com/go-training/oauth-gatekeeper/pkg/operation"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpFlags struct {
	session string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the provider tools over stdio",
	Long: `Serve the provider tools to an MCP client over stdio.

Without --session the tools use the credentials of the command line
commands. With --session they use the credentials of that gateway session,
so authorization URLs handed out here complete at the running gateway when
both share a redis or sqlite store.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpFlags.session, "session", "", "gateway session id to act for")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(_ *cobra.Command, _ []string) error {
	if mcpFlags.session != "" {
		if _, err := uuid.Parse(mcpFlags.session); err != nil {
			return fmt.Errorf("invalid session id %q: %w", mcpFlags.session, err)
		}
	}

	st, closeFn, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	g, err := newGateway(cfg, st, nil)
	if err != nil {
		return err
	}

	scope := localScope
	if mcpFlags.session != "" {
		scope = sessionScope(mcpFlags.session)
	}
	if err := g.bindScope(context.Background(), scope); err != nil {
		return err
	}
	reg, err := g.scoped(scope)
	if err != nil {
		return err
	}

	req := cliRequest()
	req.Method = http.MethodPost
	req.Session = scope
	s := operation.NewServer("oauth-gatekeeper", version)
	return server.ServeStdio(s, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
		ctx = core.WithRequestID(ctx)
		if mcpFlags.session != "" {
			ctx = core.WithSession(ctx, mcpFlags.session)
		}
		ctx = oauth.WithRegistry(ctx, reg)
		return oauth.WithRequest(ctx, req)
	}))
}
