package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFS implements Store over a directory on the local filesystem.
// Keys are joined under BaseDir; intermediate directories are created on
// Put as needed.
type LocalFS struct {
	BaseDir string
}

// NewLocalFS returns a Store rooted at baseDir.
func NewLocalFS(baseDir string) *LocalFS {
	return &LocalFS{BaseDir: baseDir}
}

func (l *LocalFS) path(key string) string {
	return filepath.Join(l.BaseDir, filepath.FromSlash(key))
}

// Get reads the object at key.
func (l *LocalFS) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	return data, nil
}

// Put writes data to key, creating parent directories as needed.
func (l *LocalFS) Put(ctx context.Context, key string, data []byte) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("objectstore: mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}
