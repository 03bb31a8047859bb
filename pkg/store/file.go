package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// credentialFile is the on-disk layout of a FileStore.
type credentialFile struct {
	Credentials map[string]string `toml:"credentials"`
}

// FileStore keeps credentials in memory and writes them to a TOML file on Sync.
type FileStore struct {
	*MemoryStore
	path string
}

// NewFileStore loads the credentials file at path, if present.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *FileStore) load() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}

	var file credentialFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing credentials file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range file.Credentials {
		f.values[k] = v
	}
	return nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Sync writes all credentials to disk, replacing the file atomically.
func (f *FileStore) Sync(ctx context.Context) error {
	f.mu.RLock()
	file := credentialFile{Credentials: make(map[string]string, len(f.values))}
	for k, v := range f.values {
		file.Credentials[k] = v
	}
	f.mu.RUnlock()

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encoding credentials file: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting credentials file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credentials file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (f *FileStore) Close() error {
	return f.Sync(context.Background())
}
