package embed

import (
	"container/list"
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
)

// Cached wraps a Provider with an LRU cache keyed by an FNV-1a hash of the
// input text, avoiding redundant calls for repeated chunk text (e.g. a file
// re-indexed with only a trailing-whitespace change).
type Cached struct {
	base Provider

	mu      sync.RWMutex
	cache   map[string]*list.Element
	lru     *list.List
	maxSize int

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	embedding []float32
}

// NewCached wraps base with an LRU cache holding up to maxSize embeddings
// (0 defaults to 10000).
func NewCached(base Provider, maxSize int) *Cached {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cached{base: base, cache: make(map[string]*list.Element, maxSize), lru: list.New(), maxSize: maxSize}
}

func hashText(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return strconv.FormatUint(h.Sum64(), 36)
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	c.mu.RLock()
	if elem, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)
		c.mu.Lock()
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		c.mu.Unlock()
		return entry.embedding, nil
	}
	c.mu.RUnlock()
	atomic.AddUint64(&c.misses, 1)

	embedding, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).embedding, nil
	}
	for c.lru.Len() >= c.maxSize {
		c.evictOldest()
	}
	elem := c.lru.PushFront(&cacheEntry{key: key, embedding: embedding})
	c.cache[key] = elem
	return embedding, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := hashText(text)
		c.mu.RLock()
		elem, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			results[i] = elem.Value.(*cacheEntry).embedding
			atomic.AddUint64(&c.hits, 1)
			c.mu.Lock()
			c.lru.MoveToFront(elem)
			c.mu.Unlock()
			continue
		}
		atomic.AddUint64(&c.misses, 1)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		embeddings, err := c.base.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for j, embedding := range embeddings {
			i := missIdx[j]
			results[i] = embedding
			key := hashText(missTexts[j])
			if _, ok := c.cache[key]; !ok {
				for c.lru.Len() >= c.maxSize {
					c.evictOldest()
				}
				elem := c.lru.PushFront(&cacheEntry{key: key, embedding: embedding})
				c.cache[key] = elem
			}
		}
		c.mu.Unlock()
	}
	return results, nil
}

func (c *Cached) Dimensions() int { return c.base.Dimensions() }
func (c *Cached) Model() string   { return c.base.Model() }

// CacheStats reports hit/miss performance.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func (c *Cached) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	c.mu.RLock()
	size := c.lru.Len()
	c.mu.RUnlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return CacheStats{Size: size, MaxSize: c.maxSize, Hits: hits, Misses: misses, HitRate: hitRate}
}

func (c *Cached) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*list.Element, c.maxSize)
	c.lru.Init()
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (c *Cached) evictOldest() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	c.lru.Remove(oldest)
	delete(c.cache, oldest.Value.(*cacheEntry).key)
}
