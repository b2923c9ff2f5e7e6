package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"

	"github.com/Ronitkothari22/distributed-video-processing/pkg/client/s3"
)

// S3Storage keeps uploads in an S3-compatible bucket so server and workers
// can run on different hosts. The locator is the object key.
type S3Storage struct {
	storage *s3.StorageS3
	tempDir string
}

func NewS3Storage(storage *s3.StorageS3, tempDir string) (*S3Storage, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &S3Storage{storage: storage, tempDir: tempDir}, nil
}

func (s *S3Storage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if s.storage == nil || s.storage.Client == nil {
		return "", fmt.Errorf("s3 client not initialized")
	}
	key := "uploads/" + name
	_, err := s.storage.Client.PutObject(ctx, s.storage.Bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return key, nil
}

// Fetch downloads the object to a temp file and returns its path plus a
// cleanup removing the copy.
func (s *S3Storage) Fetch(ctx context.Context, locator string) (string, func(), error) {
	if s.storage == nil || s.storage.Client == nil {
		return "", nil, fmt.Errorf("s3 client not initialized")
	}
	local := filepath.Join(s.tempDir, filepath.Base(locator))
	if err := s.storage.Client.FGetObject(ctx, s.storage.Bucket, locator, local, minio.GetObjectOptions{}); err != nil {
		return "", nil, fmt.Errorf("s3 get object: %w", err)
	}
	return local, func() { os.Remove(local) }, nil
}
