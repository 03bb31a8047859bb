package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/metrics"
	"github.com/go-training/oauth-gatekeeper/pkg/oauth"
	"github.com/go-training/oauth-gatekeeper/pkg/operation"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"

	"github.com/appleboy/graceful"
	sloggin "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Run the HTTP gateway.

Routes:
  GET  /auth/:provider            start or check authorization
  GET  /auth/:provider/callback   provider redirect target
  POST /auth/:provider/revoke     revoke the session's token
  POST /auth/:provider/reset      forget the session's credentials
  ANY  /api/:provider/*resource   call the provider API
  GET  /profile/:provider         normalized user profile
  GET  /providers                 providers and session status
  POST /mcp                       MCP streamable HTTP endpoint
  GET  /metrics                   Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	base, closeFn, err := openStore(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	g, err := newGateway(cfg, base, metrics.New(reg))
	if err != nil {
		closeFn()
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           g.router(reg),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	m := graceful.NewManager()
	m.AddRunningJob(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			slog.Info("Gateway listening", "addr", cfg.Addr, "base_url", cfg.BaseURL, "store", cfg.Store)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		select {
		case err := <-errCh:
			slog.Error("Server error", "err", err)
			return err
		case <-ctx.Done():
		}

		slog.Info("Shutdown signal received, shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	m.AddShutdownJob(func() error {
		closeFn()
		return nil
	})

	<-m.Done()
	slog.Info("Server shutdown gracefully")
	return nil
}

// router builds the gateway's HTTP routes. gatherer backs /metrics.
func (g *gateway) router(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(sloggin.SetLogger(), gin.Recovery(), corsMiddleware(sessionHeader))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/providers", g.sessionMiddleware, g.handleProviders)

	auth := r.Group("/auth/:provider")
	auth.GET("", g.sessionMiddleware, providerMiddleware, g.handleAuthorize)
	auth.GET("/callback", g.callbackMiddleware, providerMiddleware, g.handleCallback)
	auth.POST("/revoke", g.sessionMiddleware, providerMiddleware, g.handleRevoke)
	auth.POST("/reset", g.sessionMiddleware, providerMiddleware, g.handleReset)

	r.GET("/profile/:provider", g.sessionMiddleware, providerMiddleware, g.handleProfile)
	r.Any("/api/:provider/*resource", g.sessionMiddleware, providerMiddleware, g.handleFetch)

	mcpHandler := gin.WrapH(g.mcpServer())
	r.POST("/mcp", mcpHandler)
	r.GET("/mcp", mcpHandler)
	r.DELETE("/mcp", mcpHandler)
	return r
}

// mcpServer exposes the provider tools over streamable HTTP.
func (g *gateway) mcpServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(operation.NewServer("oauth-gatekeeper", version),
		server.WithHeartbeatInterval(30*time.Second),
		server.WithHTTPContextFunc(g.mcpContext),
	)
}

// mcpContext attaches the session registry named by the request. The
// state parameter is bound to the gateway host, where the callback lands.
func (g *gateway) mcpContext(ctx context.Context, r *http.Request) context.Context {
	ctx = core.WithRequestID(ctx)
	sid := sessionID(r, g.cfg.SessionCookie)
	if sid == "" {
		return ctx
	}
	if err := g.bindScope(ctx, sessionScope(sid)); err != nil {
		core.LoggerFromCtx(ctx).Error("Failed to bind session", "error", err)
		return ctx
	}
	reg, err := g.session(sid)
	if err != nil {
		core.LoggerFromCtx(ctx).Error("Failed to build session registry", "error", err)
		return ctx
	}
	req := oauth.RequestFromHTTP(nil, r)
	req.Origin = r.Host
	req.Session = sessionScope(sid)
	ctx = core.WithSession(ctx, sid)
	ctx = oauth.WithRegistry(ctx, reg)
	return oauth.WithRequest(ctx, req)
}

type providerStatus struct {
	ID         string     `json:"id"`
	Kind       oauth.Kind `json:"kind"`
	Authorized bool       `json:"authorized"`
}

func (g *gateway) handleProviders(c *gin.Context) {
	ctx := c.Request.Context()
	reg, err := oauth.RegistryFromContext(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]providerStatus, 0, len(reg.IDs()))
	for _, id := range reg.IDs() {
		a, err := reg.Provider(id)
		if err != nil {
			writeError(c, err)
			return
		}
		st, err := a.Snapshot(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		out = append(out, providerStatus{ID: id, Kind: a.Kind(), Authorized: st.Authorized()})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

func (g *gateway) handleAuthorize(c *gin.Context) {
	a := authorizerFrom(c)
	res, err := a.Authorized(c.Request.Context(), oauthRequest(c, c.Writer), true)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Status == oauth.StatusRedirectRequired {
		c.Redirect(http.StatusFound, res.RedirectURL)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": a.ProviderID(), "authorization": res})
}

func (g *gateway) handleCallback(c *gin.Context) {
	ctx := c.Request.Context()
	a := authorizerFrom(c)
	req := oauthRequest(c, c.Writer)
	res, err := a.CheckAuthenticationProgress(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	switch res.Status {
	case oauth.StatusRedirectRequired:
		c.Redirect(http.StatusFound, res.RedirectURL)
		return
	case oauth.StatusUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"provider": a.ProviderID(), "authorization": res})
		return
	}

	body := gin.H{"provider": a.ProviderID(), "authorization": res}
	user, _, err := oauth.FetchIdentity(ctx, a, req)
	switch {
	case err == nil && user != nil:
		body["user"] = user
	case err != nil && !errors.Is(err, oauth.ErrUnmappedEndpoint):
		core.LoggerFromCtx(ctx).Warn("Failed to fetch identity after authorization", "provider", a.ProviderID(), "error", err)
	}
	c.JSON(http.StatusOK, body)
}

func (g *gateway) handleRevoke(c *gin.Context) {
	a := authorizerFrom(c)
	if err := a.Revoke(c.Request.Context(), c.PostForm("user_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *gateway) handleReset(c *gin.Context) {
	a := authorizerFrom(c)
	if err := a.ResetAuthorization(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *gateway) handleProfile(c *gin.Context) {
	a := authorizerFrom(c)
	user, res, err := oauth.FetchIdentity(c.Request.Context(), a, oauthRequest(c, nil))
	if err != nil {
		writeError(c, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"provider": a.ProviderID(), "authorization": res})
		return
	}
	c.JSON(http.StatusOK, user)
}

// handleFetch forwards the request to the provider API. The path after
// /api/:provider/ is the resource; the query is passed along.
func (g *gateway) handleFetch(c *gin.Context) {
	a := authorizerFrom(c)
	pc := a.Config()
	resource := strings.TrimPrefix(c.Param("resource"), "/")
	if !pc.OwnsURL(resource) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "resource is outside the provider's endpoints"})
		return
	}

	call := transport.Call{Method: c.Request.Method, URL: resource}
	if c.Request.Method == http.MethodGet {
		call.Payload = c.Request.URL.Query()
	} else {
		if q := c.Request.URL.RawQuery; q != "" {
			call.URL += "?" + q
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(body) > 0 {
			call.Body = body
			call.Headers = http.Header{"Content-Type": {c.GetHeader("Content-Type")}}
		}
	}

	res, err := a.Fetch(c.Request.Context(), oauthRequest(c, nil), call)
	if err != nil {
		writeError(c, err)
		return
	}
	if !res.Result.Authorized() {
		c.JSON(http.StatusUnauthorized, gin.H{"provider": a.ProviderID(), "authorization": res.Result})
		return
	}
	env := res.Envelope
	contentType := env.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(env.Code, contentType, env.Raw)
}

// writeError maps an authorization error to an HTTP status.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, oauth.ErrResponseCommitted) {
		c.Abort()
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider), errors.Is(err, oauth.ErrUnmappedEndpoint):
		status = http.StatusNotFound
	case errors.Is(err, oauth.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, oauth.ErrNotAuthorized), errors.Is(err, oauth.ErrProviderError):
		status = http.StatusUnauthorized
	case errors.Is(err, oauth.ErrUnsupportedGrantFlow), errors.Is(err, oauth.ErrNotImplemented):
		status = http.StatusNotImplemented
	case errors.Is(err, oauth.ErrMalformedTokenResponse), errors.Is(err, transport.ErrAuthentication):
		status = http.StatusBadGateway
	}

	logger := core.LoggerFromCtx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
	} else {
		logger.Warn("Request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
