package vector

import (
	"context"
	"sort"
	"sync"
)

// BruteForce is the default Backend: exact cosine similarity via
// full-scan comparison. Suitable for the moderate dataset sizes a
// single Mimir instance handles; swap in HNSW for larger corpora.
type BruteForce struct {
	dimensions int
	mu         sync.RWMutex
	vectors    map[string][]float32
}

func NewBruteForce(dimensions int) *BruteForce {
	return &BruteForce{dimensions: dimensions, vectors: make(map[string][]float32)}
}

func (b *BruteForce) Dimensions() int { return b.dimensions }

func (b *BruteForce) Upsert(id string, vec []float32) error {
	if len(vec) != b.dimensions {
		return errDimensionMismatch(len(vec), b.dimensions)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vectors[id] = Normalize(vec)
	return nil
}

func (b *BruteForce) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vectors, id)
}

func (b *BruteForce) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

func (b *BruteForce) Contains(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.vectors[id]
	return ok
}

func (b *BruteForce) KNN(ctx context.Context, query []float32, k int, minSim float64) ([]Result, error) {
	if len(query) != b.dimensions {
		return nil, errDimensionMismatch(len(query), b.dimensions)
	}
	normalized := Normalize(query)

	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]Result, 0, len(b.vectors))
	i := 0
	for id, vec := range b.vectors {
		if i%256 == 0 && ctx.Err() != nil {
			return results, ctx.Err()
		}
		i++
		sim := DotProduct(normalized, vec)
		if sim >= minSim {
			results = append(results, Result{ID: id, Score: sim})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
