package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/climate-atlas/boundary-api/internal/platform/chunkstore"
)

var (
	// ErrBoundaryDataNotFound indicates the chunk store holds no payload under the data key.
	ErrBoundaryDataNotFound = errors.New("boundary_loader: data not found")
	// ErrMissingChunk indicates a chunked payload is incomplete in the store.
	ErrMissingChunk = errors.New("boundary_loader: missing chunk")
	// ErrChunkPayload indicates the stored payload or its metadata is malformed.
	ErrChunkPayload = errors.New("boundary_loader: malformed payload")

	errLoaderStoreRequired = errors.New("boundary_loader: chunk store is required")
)

const defaultChunkParallelism = 8

// BoundaryPayloadLoaderDeps wires dependencies for the payload loader.
type BoundaryPayloadLoaderDeps struct {
	Store       chunkstore.Store
	Parallelism int
	Logger      func(context.Context, string, map[string]any)
}

// BoundaryPayloadLoader assembles boundary payloads from the chunk store.
// Successful loads are memoized per data key and concurrent requests for the
// same key are coalesced into a single store round trip. Failed loads are
// never cached, so a retry after a partial upload sees fresh data.
type BoundaryPayloadLoader struct {
	store       chunkstore.Store
	parallelism int
	logger      func(context.Context, string, map[string]any)

	group singleflight.Group

	mu      sync.RWMutex
	results map[string][]byte
}

// NewBoundaryPayloadLoader constructs a BoundaryPayloadLoader.
func NewBoundaryPayloadLoader(deps BoundaryPayloadLoaderDeps) (*BoundaryPayloadLoader, error) {
	if deps.Store == nil {
		return nil, errLoaderStoreRequired
	}
	parallelism := deps.Parallelism
	if parallelism <= 0 {
		parallelism = defaultChunkParallelism
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &BoundaryPayloadLoader{
		store:       deps.Store,
		parallelism: parallelism,
		logger:      logger,
		results:     make(map[string][]byte),
	}, nil
}

// Load returns the full payload stored under dataKey, reassembling chunked
// payloads. Callers must not mutate the returned slice.
func (l *BoundaryPayloadLoader) Load(ctx context.Context, dataKey string) ([]byte, error) {
	if l == nil || l.store == nil {
		return nil, errLoaderStoreRequired
	}
	dataKey = strings.TrimSpace(dataKey)
	if dataKey == "" {
		return nil, fmt.Errorf("%w: empty data key", ErrChunkPayload)
	}

	l.mu.RLock()
	if cached, ok := l.results[dataKey]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	payload, err, _ := l.group.Do(dataKey, func() (any, error) {
		l.mu.RLock()
		if cached, ok := l.results[dataKey]; ok {
			l.mu.RUnlock()
			return cached, nil
		}
		l.mu.RUnlock()

		data, err := l.fetch(ctx, dataKey)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.results[dataKey] = data
		l.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.([]byte), nil
}

// Forget drops the memoized payload for dataKey so the next Load hits the store.
func (l *BoundaryPayloadLoader) Forget(dataKey string) {
	if l == nil {
		return
	}
	dataKey = strings.TrimSpace(dataKey)
	l.mu.Lock()
	delete(l.results, dataKey)
	l.mu.Unlock()
	l.group.Forget(dataKey)
}

func (l *BoundaryPayloadLoader) fetch(ctx context.Context, dataKey string) ([]byte, error) {
	value, err := l.store.Get(ctx, dataKey)
	if err != nil {
		if errors.Is(err, chunkstore.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBoundaryDataNotFound, dataKey)
		}
		return nil, fmt.Errorf("boundary_loader: get %q: %w", dataKey, err)
	}

	meta, ok := decodeChunkMeta(value)
	if !ok {
		// Unchunked payloads are stored directly under the data key.
		return value, nil
	}
	if meta.TotalChunks <= 0 {
		return nil, fmt.Errorf("%w: %s declares %d chunks", ErrChunkPayload, dataKey, meta.TotalChunks)
	}

	l.logger(ctx, "boundary_loader.chunked_fetch", map[string]any{
		"data_key": dataKey,
		"chunks":   meta.TotalChunks,
	})

	chunks := make([][]byte, meta.TotalChunks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i := 0; i < meta.TotalChunks; i++ {
		i := i
		g.Go(func() error {
			chunk, err := l.store.Get(gctx, chunkstore.ChunkKey(dataKey, i))
			if err != nil {
				if errors.Is(err, chunkstore.ErrKeyNotFound) {
					return fmt.Errorf("%w: %s chunk %d of %d", ErrMissingChunk, dataKey, i, meta.TotalChunks)
				}
				return fmt.Errorf("boundary_loader: get chunk %d of %q: %w", i, dataKey, err)
			}
			chunks[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	assembled := make([]byte, 0, total)
	for _, chunk := range chunks {
		assembled = append(assembled, chunk...)
	}
	return assembled, nil
}

// decodeChunkMeta reports whether the stored value is a chunk metadata document
// rather than an inline payload.
func decodeChunkMeta(value []byte) (chunkstore.ChunkMeta, bool) {
	trimmed := strings.TrimSpace(string(value))
	if !strings.HasPrefix(trimmed, "{") {
		return chunkstore.ChunkMeta{}, false
	}
	var meta chunkstore.ChunkMeta
	if err := json.Unmarshal([]byte(trimmed), &meta); err != nil {
		return chunkstore.ChunkMeta{}, false
	}
	if !meta.IsChunked {
		return chunkstore.ChunkMeta{}, false
	}
	return meta, true
}
