package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	"github.com/redis/rueidis"
)

// keyPrefix namespaces every credential key in Redis.
const keyPrefix = "gatekeeper:"

// RedisStore implements the core.CredentialStore interface using Redis via rueidis.
// It provides persistent storage shared between gatekeeper instances.
type RedisStore struct {
	client rueidis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
// A positive ttl expires every written key after that duration.
func NewRedisStore(client rueidis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL expires credential keys; zero keeps them forever.
	TTL time.Duration
	// DisableCache turns off client-side caching (needed for servers without RESP3 tracking).
	DisableCache bool
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress:  []string{opts.Addr},
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: opts.DisableCache,
	}
	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client, opts.TTL), nil
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption, ttl time.Duration) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}

// Get retrieves a value from Redis by key.
// Uses client-side caching with a 10 second TTL; writes through this store invalidate it.
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", core.ErrEmptyKey
	}

	cmd := r.client.B().Get().Key(keyPrefix + key).Cache()
	result, err := r.client.DoCache(ctx, cmd, 10*time.Second).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", core.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get credential from redis: %w", err)
	}

	return result, nil
}

// Set stores a value in Redis, using SET NX when overwrite is false.
func (r *RedisStore) Set(ctx context.Context, key, value string, overwrite bool) error {
	if key == "" {
		return core.ErrEmptyKey
	}

	var cmd rueidis.Completed
	switch {
	case overwrite && r.ttl > 0:
		cmd = r.client.B().Set().Key(keyPrefix + key).Value(value).ExSeconds(int64(r.ttl.Seconds())).Build()
	case overwrite:
		cmd = r.client.B().Set().Key(keyPrefix + key).Value(value).Build()
	case r.ttl > 0:
		cmd = r.client.B().Set().Key(keyPrefix + key).Value(value).Nx().ExSeconds(int64(r.ttl.Seconds())).Build()
	default:
		cmd = r.client.B().Set().Key(keyPrefix + key).Value(value).Nx().Build()
	}

	if err := r.client.Do(ctx, cmd).Error(); err != nil && !rueidis.IsRedisNil(err) {
		return fmt.Errorf("failed to save credential to redis: %w", err)
	}

	return nil
}

// Remove deletes a key from Redis and reports whether it existed.
func (r *RedisStore) Remove(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, core.ErrEmptyKey
	}

	cmd := r.client.B().Del().Key(keyPrefix + key).Build()
	result, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to delete credential from redis: %w", err)
	}

	return result > 0, nil
}

// RemoveMany scans for keys matching the glob pattern and deletes them.
func (r *RedisStore) RemoveMany(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, core.ErrEmptyPattern
	}

	var matched []string
	var cursor uint64
	for {
		cmd := r.client.B().Scan().Cursor(cursor).Match(keyPrefix + pattern).Count(100).Build()
		entry, err := r.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan credentials in redis: %w", err)
		}
		matched = append(matched, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	removed := []string{}
	for _, key := range matched {
		cmd := r.client.B().Del().Key(key).Build()
		n, err := r.client.Do(ctx, cmd).AsInt64()
		if err != nil {
			return removed, fmt.Errorf("failed to delete credential from redis: %w", err)
		}
		if n > 0 {
			removed = append(removed, strings.TrimPrefix(key, keyPrefix))
		}
	}
	sort.Strings(removed)

	return removed, nil
}

// Sync checks the connection; Redis persists writes on its own.
func (r *RedisStore) Sync(ctx context.Context) error {
	cmd := r.client.B().Ping().Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}
