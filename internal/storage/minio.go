// Package storage wraps the media object store. Jobs reference media by
// bucket/key; the worker confirms presence here before any AI work runs.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	return nil
}

// ObjectInfo is the subset of object metadata the pipeline needs.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

type MediaStore struct {
	client *minio.Client
	bucket string
}

func NewMediaStore(config Config) (*MediaStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &MediaStore{client: client, bucket: config.Bucket}, nil
}

func (s *MediaStore) Bucket() string {
	return s.bucket
}

// Stat confirms an object is present in durable storage and returns its
// metadata.
func (s *MediaStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stat object %s/%s: %w", s.bucket, key, err)
	}
	return ObjectInfo{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

// ListKeys returns the keys under a prefix, in listing order. Uploaders
// store sampled poster frames under "<job id>/frames/".
func (s *MediaStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects under %s/%s: %w", s.bucket, prefix, object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// Fetch downloads the full object body.
func (s *MediaStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", s.bucket, key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}
