package oauth

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
)

// Registry holds the authorizers of one session, keyed by provider id.
type Registry struct {
	mu        sync.RWMutex
	store     core.CredentialStore
	opts      []Option
	providers map[string]Authorizer
}

// NewRegistry creates a registry whose authorizers persist into store.
// opts are applied to every authorizer it creates.
func NewRegistry(store core.CredentialStore, opts ...Option) *Registry {
	return &Registry{
		store:     store,
		opts:      opts,
		providers: make(map[string]Authorizer),
	}
}

// Register creates the authorizer for cfg, replacing any provider with the
// same id. opts are applied after the registry options.
func (r *Registry) Register(cfg ProviderConfig, opts ...Option) (Authorizer, error) {
	a, err := New(cfg, r.store, append(slices.Clone(r.opts), opts...)...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.providers[cfg.ID] = a
	r.mu.Unlock()
	return a, nil
}

// RegisterAll registers every config and stops at the first failure.
func (r *Registry) RegisterAll(cfgs []ProviderConfig) error {
	for _, cfg := range cfgs {
		if _, err := r.Register(cfg); err != nil {
			return fmt.Errorf("provider %q: %w", cfg.ID, err)
		}
	}
	return nil
}

// Provider returns the authorizer registered under id.
func (r *Registry) Provider(id string) (Authorizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return a, nil
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Store returns the credential store the registry persists into.
func (r *Registry) Store() core.CredentialStore {
	return r.store
}

type registryKey struct{}

// WithRegistry returns a new context carrying r.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// RegistryFromContext retrieves the Registry from the context.
func RegistryFromContext(ctx context.Context) (*Registry, error) {
	r, ok := ctx.Value(registryKey{}).(*Registry)
	if !ok || r == nil {
		return nil, fmt.Errorf("missing provider registry")
	}
	return r, nil
}
