package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists objects onto the local filesystem, one directory per
// bucket. It is intended for development and test environments where an
// object storage service is not available.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath. baseURL is the
// prefix under which the directory is served; it may be empty.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if !filepath.IsAbs(basePath) {
		if abs, err := filepath.Abs(basePath); err == nil {
			basePath = abs
		}
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	full, err := s.resolve(ctx, bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	return nil
}

func (s *FileStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	full, err := s.resolve(ctx, bucket, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, path)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

func (s *FileStore) Remove(ctx context.Context, bucket, path string) error {
	full, err := s.resolve(ctx, bucket, path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, path)
		}
		return fmt.Errorf("storage: remove file: %w", err)
	}
	return nil
}

func (s *FileStore) PublicURL(bucket, path string) string {
	key, err := objectKey(bucket, path)
	if err != nil {
		return ""
	}
	if s.baseURL == "" {
		return "file://" + filepath.ToSlash(filepath.Join(s.basePath, filepath.FromSlash(key)))
	}
	return s.baseURL + "/" + (&url.URL{Path: key}).EscapedPath()
}

func (s *FileStore) resolve(ctx context.Context, bucket, path string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := objectKey(bucket, path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

func objectKey(bucket, path string) (string, error) {
	b, err := sanitizeKey(bucket)
	if err != nil || strings.Contains(b, "/") {
		return "", errors.New("storage: invalid bucket")
	}
	p, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}
	return b + "/" + p, nil
}

var _ ObjectStore = (*FileStore)(nil)
