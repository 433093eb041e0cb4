package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileBackend keeps each collection in <dir>/<collection>.json
type FileBackend struct {
	dir string
}

// NewFileBackend creates dir if needed
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data dir")
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(collection string) string {
	return filepath.Join(b.dir, collection+".json")
}

// Load reads the collection file
func (b *FileBackend) Load(_ context.Context, collection string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(collection))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Save writes to a temp file and renames it over the collection file
func (b *FileBackend) Save(_ context.Context, collection string, data []byte) error {
	tmp, err := os.CreateTemp(b.dir, collection+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path(collection))
}

// Close is a no-op
func (b *FileBackend) Close() error {
	return nil
}
