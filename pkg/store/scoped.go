package store

import (
	"context"
	"strings"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
)

// ScopedStore namespaces every key of an underlying store with "<scope>:".
// The hosting layer uses one scope per user session.
type ScopedStore struct {
	base   core.CredentialStore
	prefix string
}

// Scoped wraps base so that all keys live under scope.
func Scoped(base core.CredentialStore, scope string) *ScopedStore {
	return &ScopedStore{
		base:   base,
		prefix: scope + ":",
	}
}

func (s *ScopedStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", core.ErrEmptyKey
	}
	return s.base.Get(ctx, s.prefix+key)
}

func (s *ScopedStore) Set(ctx context.Context, key, value string, overwrite bool) error {
	if key == "" {
		return core.ErrEmptyKey
	}
	return s.base.Set(ctx, s.prefix+key, value, overwrite)
}

func (s *ScopedStore) Remove(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, core.ErrEmptyKey
	}
	return s.base.Remove(ctx, s.prefix+key)
}

func (s *ScopedStore) RemoveMany(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, core.ErrEmptyPattern
	}
	removed, err := s.base.RemoveMany(ctx, s.prefix+pattern)
	for i, key := range removed {
		removed[i] = strings.TrimPrefix(key, s.prefix)
	}
	return removed, err
}

func (s *ScopedStore) Sync(ctx context.Context) error {
	return s.base.Sync(ctx)
}
