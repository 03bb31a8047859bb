package core

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrKeyNotFound is returned when a key is not present in the credential store.
	ErrKeyNotFound = errors.New("credential key not found")
	// ErrEmptyKey is returned when a store operation is given an empty key.
	ErrEmptyKey = errors.New("credential key cannot be empty")
	// ErrEmptyPattern is returned when RemoveMany is given an empty pattern.
	ErrEmptyPattern = errors.New("key pattern cannot be empty")
)

// CredentialStore defines the interface for persisting provider credentials.
// Keys are namespaced by provider id: "<providerId>.<field>".
type CredentialStore interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. When overwrite is false an existing value is kept.
	Set(ctx context.Context, key, value string, overwrite bool) error
	// Remove deletes key and reports whether it existed.
	Remove(ctx context.Context, key string) (bool, error)
	// RemoveMany deletes every key matching the glob pattern and returns the removed keys.
	RemoveMany(ctx context.Context, pattern string) ([]string, error)
	// Sync flushes pending writes to the backing medium.
	Sync(ctx context.Context) error
}

// Key joins a provider id and a field name into a store key.
func Key(providerID, field string) string {
	return providerID + "." + field
}

// ProviderPattern returns the glob matching every key of a provider.
func ProviderPattern(providerID string) string {
	return providerID + ".*"
}

// SplitKey splits a store key into provider id and field.
func SplitKey(key string) (providerID, field string, ok bool) {
	return strings.Cut(key, ".")
}

// GetOr returns the value stored under key, or def when the key is absent.
func GetOr(ctx context.Context, s CredentialStore, key, def string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Take reads key and removes it from the store.
// Returns an empty string when the key is absent.
func Take(ctx context.Context, s CredentialStore, key string) (string, error) {
	v, err := GetOr(ctx, s, key, "")
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", nil
	}
	if _, err := s.Remove(ctx, key); err != nil {
		return "", err
	}
	return v, nil
}
