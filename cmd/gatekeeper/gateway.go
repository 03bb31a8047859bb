package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-training/oauth-gatekeeper/pkg/config"
	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/metrics"
	"github.com/go-training/oauth-gatekeeper/pkg/oauth"
	"github.com/go-training/oauth-gatekeeper/pkg/store"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"

	"github.com/google/uuid"
)

// localScope namespaces the credentials of the command line commands.
const localScope = "local"

const sessionPrefix = "session:"

// sessionScope namespaces the credentials of one browser or MCP session.
func sessionScope(id string) string {
	return sessionPrefix + id
}

// scopeFromContext returns the credential scope a request acts for.
func scopeFromContext(ctx context.Context) string {
	if sid := core.SessionFromContext(ctx); sid != "" {
		return sessionScope(sid)
	}
	return localScope
}

// callbackKey is the base store key naming the scope behind a state's
// session handle.
func callbackKey(handle string) string {
	return "callback:" + handle
}

// gateway builds per-session registries over one credential store. The
// provider executors are shared by every session.
type gateway struct {
	cfg       *config.Config
	providers []oauth.ProviderConfig
	base      core.CredentialStore
	metrics   *metrics.Metrics
	signer    *oauth.StateSigner
	executors map[string]*transport.Executor

	// bound caches the scopes whose callback key is already stored.
	bound sync.Map
}

func newGateway(c *config.Config, base core.CredentialStore, m *metrics.Metrics) (*gateway, error) {
	providers, err := loadProviders(c)
	if err != nil {
		return nil, err
	}
	g := &gateway{
		cfg:       c,
		providers: providers,
		base:      base,
		metrics:   m,
		signer:    oauth.NewStateSigner([]byte(c.StateSecret)),
		executors: make(map[string]*transport.Executor, len(providers)),
	}
	for _, pc := range providers {
		exec, err := transport.NewExecutor(transport.Options{
			CertificateFile: pc.CertificateFile,
			UserAgent:       pc.UserAgent,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, err)
		}
		g.executors[pc.ID] = exec
	}
	return g, nil
}

// loadProviders reads the provider file and points every provider without
// a redirect URI at this gateway's callback route.
func loadProviders(c *config.Config) ([]oauth.ProviderConfig, error) {
	providers, err := oauth.LoadProviderFile(c.Providers)
	if err != nil {
		return nil, err
	}
	for i := range providers {
		if providers[i].RedirectURI == "" {
			providers[i].RedirectURI = c.CallbackURL(providers[i].ID)
		}
		if providers[i].UserAgent == "" {
			providers[i].UserAgent = c.UserAgent
		}
	}
	return providers, nil
}

// registry returns a registry of every provider persisting into st.
func (g *gateway) registry(st core.CredentialStore) (*oauth.Registry, error) {
	r := oauth.NewRegistry(st,
		oauth.WithLogger(slog.Default()),
		oauth.WithMetrics(g.metrics),
		oauth.WithStateSigner(g.signer),
	)
	for _, pc := range g.providers {
		if _, err := r.Register(pc, oauth.WithExecutor(g.executors[pc.ID])); err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, err)
		}
	}
	return r, nil
}

// scoped returns the registry of one credential scope.
func (g *gateway) scoped(scope string) (*oauth.Registry, error) {
	return g.registry(store.Scoped(g.base, scope))
}

// session returns the registry of one browser or MCP session.
func (g *gateway) session(id string) (*oauth.Registry, error) {
	return g.scoped(sessionScope(id))
}

// local returns the registry used by the command line commands.
func (g *gateway) local() (*oauth.Registry, error) {
	return g.scoped(localScope)
}

// bindScope records scope under its state handle, so a provider callback
// that carries neither the session cookie nor the session header can be
// run in the scope that started the flow.
func (g *gateway) bindScope(ctx context.Context, scope string) error {
	if _, ok := g.bound.Load(scope); ok {
		return nil
	}
	if err := g.base.Set(ctx, callbackKey(g.signer.SessionHandle(scope)), scope, false); err != nil {
		return fmt.Errorf("failed to bind %s: %w", scope, err)
	}
	if err := g.base.Sync(ctx); err != nil {
		return err
	}
	g.bound.Store(scope, struct{}{})
	return nil
}

// scopeFromState returns the scope a callback's state was issued for, or
// "" when the state is missing, invalid or unbound.
func (g *gateway) scopeFromState(ctx context.Context, state string) string {
	if state == "" {
		return ""
	}
	claims, err := g.signer.Parse(state)
	if err != nil || claims.Session == "" {
		return ""
	}
	scope, err := core.GetOr(ctx, g.base, callbackKey(claims.Session), "")
	if err != nil {
		core.LoggerFromCtx(ctx).Error("Failed to look up callback scope", "error", err)
		return ""
	}
	if scope == localScope {
		return scope
	}
	if sid, ok := strings.CutPrefix(scope, sessionPrefix); ok {
		if _, err := uuid.Parse(sid); err == nil {
			return scope
		}
	}
	return ""
}

// openStore creates the configured store. The returned func closes it.
func openStore(c *config.Config) (core.CredentialStore, func(), error) {
	st, err := store.NewStore(c.StoreConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", c.Store, err)
	}
	return st, func() { closeStore(st) }, nil
}

func closeStore(st core.CredentialStore) {
	c, ok := st.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}
}
