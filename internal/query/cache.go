package query

import (
	"context"
	"sync"
	"time"

	"github.com/kgraph/backend/internal/storage/models"
)

// EmbeddingCache stores query embeddings keyed by raw query text. The redis
// client satisfies it for a shared cache.
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool, error)
	Set(ctx context.Context, text string, embedding []float32) error
	Len(ctx context.Context) (int, error)
}

type MemoryEmbeddingCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

func NewMemoryEmbeddingCache() *MemoryEmbeddingCache {
	return &MemoryEmbeddingCache{entries: make(map[string][]float32)}
}

func (c *MemoryEmbeddingCache) Get(_ context.Context, text string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[text]
	return v, ok, nil
}

func (c *MemoryEmbeddingCache) Set(_ context.Context, text string, embedding []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[text] = embedding
	return nil
}

func (c *MemoryEmbeddingCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

type cacheEntry struct {
	response   *models.QueryResponse
	generation uint64
	storedAt   time.Time
}

// responseCache holds one response per cache key, evicting the oldest entry
// once capacity is reached.
type responseCache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	order    []string
	capacity int
}

func newResponseCache(capacity int) *responseCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &responseCache{entries: make(map[string]*cacheEntry), capacity: capacity}
}

// get returns the entry for key when it was computed at generation.
func (c *responseCache) get(key string, generation uint64) (*models.QueryResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.generation != generation {
		return nil, false
	}
	return e.response, true
}

func (c *responseCache) put(key string, generation uint64, resp *models.QueryResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{response: resp, generation: generation, storedAt: time.Now()}

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// cloneResponse copies the results, suggestions and metadata maps of resp so
// cached entries never share them with a response handed to a caller. Nested
// metadata values are still shared.
func cloneResponse(resp *models.QueryResponse) *models.QueryResponse {
	out := *resp
	if resp.Results != nil {
		out.Results = make([]models.QueryResult, len(resp.Results))
		for i, r := range resp.Results {
			r.SourceChunkIDs = cloneStrings(r.SourceChunkIDs)
			r.Metadata = cloneMetadata(r.Metadata)
			out.Results[i] = r
		}
	}
	out.Suggestions = cloneStrings(resp.Suggestions)
	out.Metadata = cloneMetadata(resp.Metadata)
	return &out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *responseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// snapshot returns cached responses in insertion order.
func (c *responseCache) snapshot() []*models.QueryResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.QueryResponse, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.entries[k].response)
	}
	return out
}

// chunkEmbeddings caches vectors computed for chunks delivered without one.
// Keys include the content hash so edited chunks are re-embedded.
type chunkEmbeddings struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

func newChunkEmbeddings() *chunkEmbeddings {
	return &chunkEmbeddings{entries: make(map[string][]float32)}
}

func (c *chunkEmbeddings) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *chunkEmbeddings) put(key string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
}
