// Package oauth drives OAuth 2.0 and OAuth 1.0a authorization flows and
// sends authenticated requests to provider APIs.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/go-training/oauth-gatekeeper/pkg/metrics"
	"github.com/go-training/oauth-gatekeeper/pkg/transport"
)

// Authorizer is the authorization state machine of one provider.
type Authorizer interface {
	ProviderID() string
	Kind() Kind
	Config() ProviderConfig

	// Authorized reports whether an access token is present. When it is not
	// and startFlow is set, the flow is advanced one step.
	Authorized(ctx context.Context, req Request, startFlow bool) (Result, error)
	// CheckAuthenticationProgress advances the flow using the inbound request.
	CheckAuthenticationProgress(ctx context.Context, req Request) (Result, error)
	// Fetch sends an authenticated request. Relative URLs resolve against the
	// service endpoint.
	Fetch(ctx context.Context, req Request, call transport.Call) (*FetchResult, error)
	// Revoke asks the provider to revoke the token, then forgets it.
	Revoke(ctx context.Context, providerUserID string) error
	// ResetAuthorization removes every stored field of the provider.
	ResetAuthorization(ctx context.Context) error

	Snapshot(ctx context.Context) (TokenState, error)
	Restore(ctx context.Context, st TokenState) error
}

type options struct {
	executor *transport.Executor
	logger   *slog.Logger
	metrics  *metrics.Metrics
	signer   *StateSigner
	now      func() time.Time
}

// Option configures an Authorizer.
type Option func(*options)

// WithExecutor sets the executor used for provider calls.
func WithExecutor(e *transport.Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the counters flows are recorded in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStateSigner sets the signer for OAuth 2.0 state parameters.
func WithStateSigner(s *StateSigner) Option {
	return func(o *options) {
		o.signer = s
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates the Authorizer matching cfg.Kind.
func New(cfg ProviderConfig, store core.CredentialStore, opts ...Option) (Authorizer, error) {
	b, err := newBase(cfg, store, opts...)
	if err != nil {
		return nil, err
	}
	switch b.cfg.Kind {
	case KindOAuth1:
		return &OAuth1Authorizer{base: b}, nil
	default:
		return &OAuth2Authorizer{base: b}, nil
	}
}

// base holds what both state machines share: configuration, endpoints and
// the credential store fields of one provider.
type base struct {
	cfg       ProviderConfig
	endpoints *EndpointMap
	store     core.CredentialStore
	exec      *transport.Executor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	signer    *StateSigner
	now       func() time.Time
}

func newBase(cfg ProviderConfig, store core.CredentialStore, opts ...Option) (*base, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("provider %q: credential store is required", cfg.ID)
	}
	endpoints, err := cfg.EndpointMap()
	if err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.executor == nil {
		o.executor, err = transport.NewExecutor(transport.Options{
			CertificateFile: cfg.CertificateFile,
			UserAgent:       cfg.UserAgent,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.ID, err)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.signer == nil {
		o.signer = NewStateSigner(nil)
	}
	if o.now == nil {
		o.now = time.Now
	}

	return &base{
		cfg:       cfg,
		endpoints: endpoints,
		store:     store,
		exec:      o.executor,
		logger:    o.logger.With("provider", cfg.ID),
		metrics:   o.metrics,
		signer:    o.signer,
		now:       o.now,
	}, nil
}

func (b *base) ProviderID() string {
	return b.cfg.ID
}

func (b *base) Kind() Kind {
	return b.cfg.Kind
}

// Config returns a copy of the provider configuration.
func (b *base) Config() ProviderConfig {
	c := b.cfg
	c.Scope = append([]string(nil), b.cfg.Scope...)
	c.Endpoints = maps.Clone(b.cfg.Endpoints)
	return c
}

// Endpoints exposes the endpoint map.
func (b *base) Endpoints() *EndpointMap {
	return b.endpoints
}

func (b *base) key(field string) string {
	return core.Key(b.cfg.ID, field)
}

func (b *base) get(ctx context.Context, field string) (string, error) {
	return core.GetOr(ctx, b.store, b.key(field), "")
}

func (b *base) set(ctx context.Context, field, value string) error {
	return b.store.Set(ctx, b.key(field), value, true)
}

func (b *base) remove(ctx context.Context, fields ...string) error {
	for _, f := range fields {
		if _, err := b.store.Remove(ctx, b.key(f)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", f, err)
		}
	}
	return nil
}

func (b *base) Snapshot(ctx context.Context) (TokenState, error) {
	return LoadTokenState(ctx, b.store, b.cfg.ID)
}

func (b *base) Restore(ctx context.Context, st TokenState) error {
	return SaveTokenState(ctx, b.store, b.cfg.ID, st)
}

func (b *base) ResetAuthorization(ctx context.Context) error {
	removed, err := b.store.RemoveMany(ctx, core.ProviderPattern(b.cfg.ID))
	if err != nil {
		return fmt.Errorf("failed to reset authorization: %w", err)
	}
	b.logger.Debug("authorization reset", "removed", len(removed))
	return b.store.Sync(ctx)
}

func (b *base) clearProfileRefresh(ctx context.Context) error {
	return b.remove(ctx, FieldProfileRefresh)
}

// deliver hands an authorization URL to the caller the way the flow type asks.
func (b *base) deliver(req Request, location string) (Result, error) {
	b.metrics.Redirect(b.cfg.ID, string(b.cfg.FlowType))
	if b.cfg.FlowType == FlowClientSide {
		return redirectResult(location), req.commitRedirect(location)
	}
	return redirectResult(location), nil
}

// resolve turns a resource into an absolute URL. Relative resources are
// joined to the service endpoint. The service endpoint's default params are
// merged into every call on its host.
func (b *base) resolve(call *transport.Call) error {
	u, err := url.Parse(call.URL)
	if err != nil {
		return fmt.Errorf("invalid resource %q: %w", call.URL, err)
	}

	ep, err := b.endpoints.Get(RoleService)
	if u.IsAbs() {
		if err == nil && sameHost(u, ep.URL) {
			addParams(&call.Payload, ep.Params)
		}
		return nil
	}
	if err != nil {
		return err
	}
	target := strings.TrimRight(ep.URL, "/")
	if resource := strings.TrimLeft(call.URL, "/"); resource != "" {
		target += "/" + resource
	}
	call.URL = target
	addParams(&call.Payload, ep.Params)
	return nil
}

func sameHost(u *url.URL, raw string) bool {
	o, err := url.Parse(raw)
	return err == nil && o.Scheme == u.Scheme && strings.EqualFold(o.Host, u.Host)
}

// addParams merges defaults into v without overriding present keys.
func addParams(v *url.Values, defaults map[string]string) {
	if len(defaults) == 0 {
		return
	}
	if *v == nil {
		*v = url.Values{}
	}
	for k, val := range defaults {
		if v.Get(k) == "" {
			v.Set(k, val)
		}
	}
}
