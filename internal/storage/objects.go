package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned when the requested object does not exist
var ErrObjectNotFound = errors.New("object not found")

// MinioSource fetches audio objects from a MinIO bucket into transient files
type MinioSource struct {
	client *minio.Client
	bucket string
}

// NewMinioSource connects to a MinIO endpoint
func NewMinioSource(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioSource, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to MinIO at %s: %w", endpoint, err)
	}

	return &MinioSource{
		client: client,
		bucket: bucket,
	}, nil
}

// Bucket returns the configured bucket name
func (s *MinioSource) Bucket() string {
	return s.bucket
}

// Fetch downloads object name into a new file in store and returns its path.
// The caller owns the file and removes it through the store.
func (s *MinioSource) Fetch(ctx context.Context, store *TransientStore, name string) (string, error) {
	info, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%s/%s: %w", s.bucket, name, ErrObjectNotFound)
		}
		return "", fmt.Errorf("stat %s/%s: %w", s.bucket, name, err)
	}

	path := store.Reserve(info.ContentType)
	if err := s.client.FGetObject(ctx, s.bucket, name, path, minio.GetObjectOptions{}); err != nil {
		store.Remove(path)
		return "", &TransientStorageError{Op: "download", Path: path, Err: err}
	}

	return path, nil
}
