// Package chunkstore reads opaque blobs that may have been split into numbered
// chunks by the ingestion pipeline. Large boundary payloads exceed single-value
// limits of the backing stores, so the writer records a metadata document under
// the logical key and the payload under "<key>_chunk_<n>" entries.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrKeyNotFound indicates the logical key has no value in the backing store.
var ErrKeyNotFound = errors.New("chunkstore: key not found")

// Store retrieves raw values by key from a blob backend.
type Store interface {
	// Get returns the raw bytes stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// ChunkMeta is the metadata document stored under the logical key when the
// payload was chunked.
type ChunkMeta struct {
	IsChunked   bool `json:"isChunked"`
	TotalChunks int  `json:"totalChunks"`
}

// ChunkKey returns the storage key of the i-th chunk of a logical key.
func ChunkKey(dataKey string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", dataKey, i)
}
