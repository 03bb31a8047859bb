package store

import (
	"fmt"
	"strings"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
)

// StoreType represents the type of store backend.
type StoreType string

const (
	// StoreTypeMemory keeps credentials in process memory.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeRedis keeps credentials in Redis, shared between gateway replicas.
	StoreTypeRedis StoreType = "redis"
	// StoreTypeBolt keeps credentials in a bbolt database file.
	StoreTypeBolt StoreType = "bolt"
	// StoreTypeFile keeps credentials in a TOML file.
	StoreTypeFile StoreType = "file"
	// StoreTypeSQLite keeps credentials in a SQLite database.
	StoreTypeSQLite StoreType = "sqlite"
)

// backend opens one store type from its configuration.
type backend struct {
	needsPath bool
	open      func(Config) (core.CredentialStore, error)
}

var backends = map[StoreType]backend{
	StoreTypeMemory: {open: func(Config) (core.CredentialStore, error) {
		return NewMemoryStore(), nil
	}},
	StoreTypeRedis: {open: func(c Config) (core.CredentialStore, error) {
		return NewRedisStoreFromOptions(c.Redis)
	}},
	StoreTypeBolt: {needsPath: true, open: func(c Config) (core.CredentialStore, error) {
		return NewBoltStore(c.Path)
	}},
	StoreTypeFile: {needsPath: true, open: func(c Config) (core.CredentialStore, error) {
		return NewFileStore(c.Path)
	}},
	StoreTypeSQLite: {needsPath: true, open: func(c Config) (core.CredentialStore, error) {
		return NewSQLiteStore(c.Path)
	}},
}

var aliases = map[string]StoreType{
	"bbolt":   StoreTypeBolt,
	"toml":    StoreTypeFile,
	"sqlite3": StoreTypeSQLite,
}

// Config selects and configures a credential store backend.
type Config struct {
	Type StoreType
	// Redis is read by the redis backend only.
	Redis RedisOptions
	// Path is the database or file location of the bolt, file and sqlite backends.
	Path string
}

// Factory creates store instances based on configuration.
type Factory struct {
	config Config
}

// NewFactory creates a new store factory with the provided configuration.
func NewFactory(config Config) *Factory {
	return &Factory{
		config: config,
	}
}

// Create opens the configured backend. The returned store is nil whenever
// the error is not.
func (f *Factory) Create() (core.CredentialStore, error) {
	b, ok := backends[f.config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s", f.config.Type)
	}
	if b.needsPath && f.config.Path == "" {
		return nil, fmt.Errorf("%s store requires a path", f.config.Type)
	}
	s, err := b.open(f.config)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewStore is shorthand for NewFactory(config).Create().
func NewStore(config Config) (core.CredentialStore, error) {
	return NewFactory(config).Create()
}

// NewStoreFromType creates a store from command line style arguments.
func NewStoreFromType(storeType, path string, redisOpts RedisOptions) (core.CredentialStore, error) {
	return NewStore(Config{
		Type:  ParseStoreType(storeType),
		Redis: redisOpts,
		Path:  path,
	})
}

// ParseStoreType parses a backend name or alias, case-insensitively.
// Unknown names fall back to StoreTypeMemory.
func ParseStoreType(s string) StoreType {
	name := strings.ToLower(strings.TrimSpace(s))
	if t, ok := aliases[name]; ok {
		return t
	}
	if t := StoreType(name); t.IsValid() {
		return t
	}
	return StoreTypeMemory
}

// String returns the string representation of a StoreType.
func (t StoreType) String() string {
	return string(t)
}

// IsValid returns true if the StoreType is valid.
func (t StoreType) IsValid() bool {
	_, ok := backends[t]
	return ok
}

// NeedsPath reports whether the backend stores its data at Config.Path.
func (t StoreType) NeedsPath() bool {
	return backends[t].needsPath
}

// MustCreate creates a store and panics if creation fails.
func MustCreate(config Config) core.CredentialStore {
	store, err := NewStore(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create store: %v", err))
	}
	return store
}

// RedisConfig creates a Redis store configuration with the provided options.
func RedisConfig(redisOpts RedisOptions) Config {
	return Config{
		Type:  StoreTypeRedis,
		Redis: redisOpts,
	}
}

// MemoryConfig creates a memory store configuration.
func MemoryConfig() Config {
	return Config{
		Type: StoreTypeMemory,
	}
}

// PathConfig creates a configuration for one of the path-backed stores.
func PathConfig(t StoreType, path string) Config {
	return Config{
		Type: t,
		Path: path,
	}
}
