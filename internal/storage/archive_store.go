package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveStore keeps a copy of every marking archive handed to a client.
type ArchiveStore interface {
	// Put stores data under name and returns where it was written.
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// LocalArchiveStore writes archives below a directory.
type LocalArchiveStore struct {
	dir string
}

// NewLocalArchiveStore creates dir if needed.
func NewLocalArchiveStore(dir string) (*LocalArchiveStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &LocalArchiveStore{dir: dir}, nil
}

// Put writes through a temporary file so readers never see partial archives.
func (s *LocalArchiveStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + filepath.FromSlash(name))
	if clean == string(filepath.Separator) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	path := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}
	return path, nil
}
