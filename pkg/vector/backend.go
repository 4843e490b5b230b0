package vector

import (
	"context"
	"strconv"

	"github.com/mimirhq/mimir/pkg/graph"
)

// Result is a single k-NN hit.
type Result struct {
	ID    string
	Score float64
}

// Backend is the shared contract both BruteForce and HNSW satisfy, so
// search.Engine never changes when the backend is swapped.
type Backend interface {
	// Upsert stores or replaces the vector for id. Returns EVector (via
	// graph.Error) if vec's dimension doesn't match the backend's fixed
	// dimension.
	Upsert(id string, vec []float32) error
	Remove(id string)
	// KNN returns up to k nearest neighbors with score >= minSim,
	// cosine-similarity ranked, honoring ctx cancellation.
	KNN(ctx context.Context, query []float32, k int, minSim float64) ([]Result, error)
	Size() int
	Dimensions() int
	// Contains reports whether id currently has a stored vector, used to
	// report per-type embedding coverage.
	Contains(id string) bool
}

func errDimensionMismatch(got, want int) error {
	msg := "vector dimension mismatch: got " + strconv.Itoa(got) + ", index expects " + strconv.Itoa(want)
	return graph.NewError(graph.ErrKindVector, msg)
}
