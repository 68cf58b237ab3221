package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://cdn.local/static/")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx := context.Background()
	path := VariantPath("user-1", "prod-1", "processed", "")

	if err := store.Upload(ctx, BucketProcessed, path, []byte("v1"), "image/png"); err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if err := store.Upload(ctx, BucketProcessed, path, []byte("v2"), "image/png"); err != nil {
		t.Fatalf("overwrite error: %v", err)
	}
	data, err := store.Download(ctx, BucketProcessed, path)
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("data = %q, want v2", data)
	}
	if _, err := os.Stat(filepath.Join(dir, BucketProcessed, "user-1", "prod-1", "processed.png")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	want := "http://cdn.local/static/processed-images/user-1/prod-1/processed.png"
	if got := store.PublicURL(BucketProcessed, path); got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}

	if err := store.Remove(ctx, BucketProcessed, path); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := store.Download(ctx, BucketProcessed, path); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Download after remove = %v, want ErrObjectNotFound", err)
	}
	if err := store.Remove(ctx, BucketProcessed, path); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("second Remove = %v, want ErrObjectNotFound", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx := context.Background()
	cases := []struct{ bucket, path string }{
		{BucketRaw, "../../etc/passwd"},
		{"../raw", "a.png"},
		{"raw/nested", "a.png"},
		{BucketRaw, ""},
	}
	for _, tc := range cases {
		if err := store.Upload(ctx, tc.bucket, tc.path, []byte("x"), ""); err == nil {
			t.Fatalf("expected error for %q/%q", tc.bucket, tc.path)
		}
	}
}

func TestVariantPath(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{"", "u/p/original.png"},
		{".JPG", "u/p/original.jpg"},
		{"webp", "u/p/original.webp"},
	}
	for _, tc := range tests {
		if got := VariantPath("u", "p", "original", tc.ext); got != tc.want {
			t.Fatalf("VariantPath(%q) = %q, want %q", tc.ext, got, tc.want)
		}
	}
}
