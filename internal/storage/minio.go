package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOOptions configures a MinIOStore.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicBaseURL overrides the host used in PublicURL, e.g. a CDN in front
	// of the bucket. Defaults to the endpoint.
	PublicBaseURL string
	Buckets       []string
}

// MinIOStore is an ObjectStore backed by any S3-compatible server.
type MinIOStore struct {
	client  *minio.Client
	baseURL string
}

// NewMinIOStore connects and ensures every configured bucket exists.
func NewMinIOStore(ctx context.Context, opts MinIOOptions) (*MinIOStore, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create minio client: %w", err)
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	for _, bucket := range buckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("storage: check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", bucket, err)
		}
	}

	base := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if base == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + endpoint
	}
	return &MinIOStore{client: client, baseURL: base}, nil
}

func (m *MinIOStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = ContentTypeFor(path)
	}
	_, err := m.client.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (m *MinIOStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrap("download", bucket, path, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.wrap("download", bucket, path, err)
	}
	return data, nil
}

func (m *MinIOStore) Remove(ctx context.Context, bucket, path string) error {
	if err := m.client.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return m.wrap("remove", bucket, path, err)
	}
	return nil
}

func (m *MinIOStore) PublicURL(bucket, path string) string {
	return m.baseURL + "/" + bucket + "/" + (&url.URL{Path: path}).EscapedPath()
}

func (m *MinIOStore) wrap(op, bucket, path string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, path)
	}
	return fmt.Errorf("storage: %s %s/%s: %w", op, bucket, path, err)
}

var _ ObjectStore = (*MinIOStore)(nil)
