package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
)

// LocalStore implements provider.ObjectStore on a local directory,
// mirroring the same logical namespace as the S3 store so a run can
// complete when the primary store is unavailable.
type LocalStore struct {
	root string
}

// NewLocal creates a LocalStore rooted at dir, creating it if needed.
func NewLocal(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

// path resolves a key inside the root, rejecting traversal outside it.
func (l *LocalStore) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.root, cleaned), nil
}

// Get returns the object at key, or provider.ErrNotFound.
func (l *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provider.ErrNotFound
		}
		return nil, &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	return data, nil
}

// Put upserts the object at key. The write goes through a temp file
// and rename so a crash never leaves a half-written object.
func (l *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	p, err := l.path(key)
	if err != nil {
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	return nil
}

// Delete removes the object at key. Missing keys are not an error.
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return &provider.StorageError{Store: "local", Key: key, Err: err}
	}
	return nil
}

// List returns all keys under prefix.
func (l *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, &provider.StorageError{Store: "local", Key: prefix, Err: err}
	}
	return keys, nil
}
