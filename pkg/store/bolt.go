package store

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	bolt "go.etcd.io/bbolt"
)

var credentialsBucket = []byte("credentials")

// BoltStore implements the core.CredentialStore interface on a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the bbolt database at path.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating credentials bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Get retrieves a value by key.
func (b *BoltStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", core.ErrEmptyKey
	}

	var value string
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(credentialsBucket).Get([]byte(key))
		if v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	if !found {
		return "", core.ErrKeyNotFound
	}

	return value, nil
}

// Set stores a value, keeping an existing one unless overwrite is true.
func (b *BoltStore) Set(ctx context.Context, key, value string, overwrite bool) error {
	if key == "" {
		return core.ErrEmptyKey
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		if !overwrite && bucket.Get([]byte(key)) != nil {
			return nil
		}
		return bucket.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}

	return nil
}

// Remove deletes a key and reports whether it existed.
func (b *BoltStore) Remove(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, core.ErrEmptyKey
	}

	existed := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		if bucket.Get([]byte(key)) == nil {
			return nil
		}
		existed = true
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("deleting credential: %w", err)
	}

	return existed, nil
}

// RemoveMany deletes every key matching the glob pattern.
// Keys come back in bbolt's byte order, which is sorted.
func (b *BoltStore) RemoveMany(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, core.ErrEmptyPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	removed := []string{}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		var matched [][]byte
		err := bucket.ForEach(func(k, _ []byte) error {
			if ok, _ := path.Match(pattern, string(k)); ok {
				matched = append(matched, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range matched {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed = append(removed, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deleting credentials: %w", err)
	}

	return removed, nil
}

// Sync forces an fsync of the database file.
func (b *BoltStore) Sync(ctx context.Context) error {
	return b.db.Sync()
}
