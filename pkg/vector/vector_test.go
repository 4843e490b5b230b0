package vector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/pkg/vector"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, vector.CosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, vector.CosineSimilarity(a, b), 1e-9)
}

func TestNormalizeUnitLength(t *testing.T) {
	out := vector.Normalize([]float32{3, 4})
	assert.InDelta(t, 1.0, vector.DotProduct(out, out), 1e-6)
}

func TestBruteForceDimensionMismatch(t *testing.T) {
	b := vector.NewBruteForce(3)
	err := b.Upsert("a", []float32{1, 2})
	require.Error(t, err)
}

func TestBruteForceKNN(t *testing.T) {
	b := vector.NewBruteForce(2)
	require.NoError(t, b.Upsert("near", []float32{1, 0}))
	require.NoError(t, b.Upsert("far", []float32{0, 1}))
	require.NoError(t, b.Upsert("mid", []float32{1, 1}))

	results, err := b.KNN(context.Background(), []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
}

func TestBruteForceRemoveAndSize(t *testing.T) {
	b := vector.NewBruteForce(2)
	require.NoError(t, b.Upsert("a", []float32{1, 0}))
	require.NoError(t, b.Upsert("b", []float32{0, 1}))
	assert.Equal(t, 2, b.Size())
	b.Remove("a")
	assert.Equal(t, 1, b.Size())
}

func TestBruteForceMinSimFilter(t *testing.T) {
	b := vector.NewBruteForce(2)
	require.NoError(t, b.Upsert("near", []float32{1, 0}))
	require.NoError(t, b.Upsert("far", []float32{0, 1}))

	results, err := b.KNN(context.Background(), []float32{1, 0}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].ID)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	h := vector.NewHNSW(3, vector.DefaultHNSWConfig())
	err := h.Upsert("a", []float32{1, 2})
	require.Error(t, err)
}

func TestHNSWKNNFindsNearest(t *testing.T) {
	h := vector.NewHNSW(2, vector.DefaultHNSWConfig())
	require.NoError(t, h.Upsert("near", []float32{1, 0}))
	require.NoError(t, h.Upsert("far", []float32{0, 1}))
	require.NoError(t, h.Upsert("mid", []float32{0.7, 0.7}))

	results, err := h.KNN(context.Background(), []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].ID)
}

func TestHNSWSizeAndRemove(t *testing.T) {
	h := vector.NewHNSW(2, vector.DefaultHNSWConfig())
	require.NoError(t, h.Upsert("a", []float32{1, 0}))
	require.NoError(t, h.Upsert("b", []float32{0, 1}))
	assert.Equal(t, 2, h.Size())
	h.Remove("a")
	assert.Equal(t, 1, h.Size())

	results, err := h.KNN(context.Background(), []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestHNSWEmptyIndexReturnsNoResults(t *testing.T) {
	h := vector.NewHNSW(2, vector.DefaultHNSWConfig())
	results, err := h.KNN(context.Background(), []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWManyInsertsRecallsKnown(t *testing.T) {
	h := vector.NewHNSW(2, vector.DefaultHNSWConfig())
	for i := 0; i < 50; i++ {
		angle := float64(i) * 0.12
		require.NoError(t, h.Upsert(
			string(rune('a'+i%26))+string(rune('0'+i/26)),
			[]float32{float32(angle), float32(1 - angle)},
		))
	}
	require.NoError(t, h.Upsert("target", []float32{1, 0}))

	results, err := h.KNN(context.Background(), []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
