package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid object key")

// FileStorage stores recordings on the local filesystem and serves them
// under a public base URL.
type FileStorage struct {
	basePath  string
	publicURL string
}

func NewFileStorage(basePath, publicURL string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{
		basePath:  basePath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Upload writes the object through a temporary file so readers never see
// a partial recording.
func (fs *FileStorage) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	path, err := fs.path(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create object file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write object data: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store object: %w", err)
	}

	return fs.url(key), nil
}

// Open returns a stored object.
func (fs *FileStorage) Open(key string) (io.ReadCloser, error) {
	path, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (fs *FileStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(clean)), nil
}

func (fs *FileStorage) url(key string) string {
	if fs.publicURL == "" {
		return "file://" + filepath.ToSlash(filepath.Join(fs.basePath, key))
	}
	return fs.publicURL + "/" + key
}
