package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// Buckets used by the pipeline.
const (
	BucketRaw       = "raw"
	BucketSegmented = "segmented"
	BucketProcessed = "processed-images"
)

// DefaultBuckets are ensured at startup by stores that need it.
var DefaultBuckets = []string{BucketRaw, BucketSegmented, BucketProcessed}

// ErrObjectNotFound is returned by Download and Remove for missing objects.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore persists blobs addressed by bucket and path.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	PublicURL(bucket, path string) string
	Remove(ctx context.Context, bucket, path string) error
}

// VariantPath is the deterministic location of a product's image variant.
func VariantPath(userID, productID, variant, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return userID + "/" + productID + "/" + variant + strings.ToLower(ext)
}

// ContentTypeFor guesses the MIME type from a path extension.
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
