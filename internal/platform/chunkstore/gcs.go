package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore reads values as objects from a Cloud Storage bucket. An optional
// object prefix scopes the store to a folder within the bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore constructs a GCSStore for the given bucket.
func NewGCSStore(client *storage.Client, bucket, prefix string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("chunkstore: storage client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("chunkstore: bucket name is required")
	}
	return &GCSStore{bucket: client.Bucket(bucket), prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

// Get implements Store.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.Object(s.object(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("chunkstore: open object %q: %w", key, err)
	}
	defer reader.Close()

	value, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: read object %q: %w", key, err)
	}
	return value, nil
}

func (s *GCSStore) object(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
