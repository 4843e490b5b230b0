package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/pkg/confirm"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/lexical"
	"github.com/mimirhq/mimir/pkg/search"
	"github.com/mimirhq/mimir/pkg/vector"
)

// stubEmbedder returns a deterministic 4-dim vector derived from the
// text length, just enough to exercise the vector leg of fusion.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r % 7)
	}
	return v, nil
}
func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = stubEmbedder{}.Embed(ctx, t)
	}
	return out, nil
}
func (stubEmbedder) Dimensions() int { return 4 }
func (stubEmbedder) Model() string   { return "stub" }

func newEngine(t *testing.T) (*search.Engine, *graph.Adapter) {
	t.Helper()
	eng := graph.NewMemoryEngine()
	adapter := graph.NewAdapter(eng, confirm.New())
	lex := lexical.NewIndex()
	vec := vector.NewBruteForce(4)
	se := search.New(adapter, lex, vec, stubEmbedder{})
	adapter.SetSearchFunc(func(ctx context.Context, query string, opts map[string]any) ([]*graph.ScoredNode, error) {
		results, err := se.Search(ctx, query, search.Options{})
		if err != nil {
			return nil, err
		}
		out := make([]*graph.ScoredNode, len(results))
		for i, r := range results {
			out[i] = &graph.ScoredNode{Node: r.Node, Score: r.Score}
		}
		return out, nil
	})
	return se, adapter
}

func TestSearchReturnsIndexedNode(t *testing.T) {
	se, adapter := newEngine(t)
	n, err := adapter.AddNode(graph.NodeMemory, map[string]any{"title": "A", "content": "auth token flow"})
	require.NoError(t, err)
	require.NoError(t, se.IndexNode(context.Background(), n, []float32{1, 2, 3, 4}))

	results, err := se.Search(context.Background(), "auth", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, n.ID, results[0].Node.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchEmptyIndexReturnsEmpty(t *testing.T) {
	se, _ := newEngine(t)
	results, err := se.Search(context.Background(), "nothing here", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchDegradesWithoutEmbedder(t *testing.T) {
	eng := graph.NewMemoryEngine()
	adapter := graph.NewAdapter(eng, confirm.New())
	lex := lexical.NewIndex()
	se := search.New(adapter, lex, nil, nil)

	n, err := adapter.AddNode(graph.NodeMemory, map[string]any{"content": "graph database memory"})
	require.NoError(t, err)
	require.NoError(t, se.IndexNode(context.Background(), n, nil))

	results, err := se.Search(context.Background(), "graph memory", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestFileChunkHitExposesOwningFile(t *testing.T) {
	se, adapter := newEngine(t)
	file, err := adapter.AddNode(graph.NodeFile, map[string]any{"path": "/a.md"})
	require.NoError(t, err)
	chunk, err := adapter.AddNode(graph.NodeFileChunk, map[string]any{"text": "chunk about widgets"})
	require.NoError(t, err)
	_, err = adapter.AddEdge(file.ID, chunk.ID, graph.EdgeContains, nil)
	require.NoError(t, err)
	require.NoError(t, se.IndexNode(context.Background(), chunk, []float32{1, 0, 0, 0}))

	results, err := se.Search(context.Background(), "widgets", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.NotNil(t, results[0].File)
	assert.Equal(t, file.ID, results[0].File.ID)
}

func TestSearchWithDepthExpandsMultiHopNeighbors(t *testing.T) {
	se, adapter := newEngine(t)
	a, err := adapter.AddNode(graph.NodeMemory, map[string]any{"content": "widget factory notes"})
	require.NoError(t, err)
	require.NoError(t, se.IndexNode(context.Background(), a, []float32{1, 0, 0, 0}))

	b, err := adapter.AddNode(graph.NodeMemory, map[string]any{"content": "unrelated one-hop neighbor"})
	require.NoError(t, err)
	_, err = adapter.AddEdge(a.ID, b.ID, graph.EdgeRelatesTo, nil)
	require.NoError(t, err)

	c, err := adapter.AddNode(graph.NodeMemory, map[string]any{"content": "unrelated two-hop neighbor"})
	require.NoError(t, err)
	_, err = adapter.AddEdge(b.ID, c.ID, graph.EdgeRelatesTo, nil)
	require.NoError(t, err)

	results, err := se.Search(context.Background(), "widget factory", search.Options{Depth: 2})
	require.NoError(t, err)

	byID := make(map[string]search.Result, len(results))
	for _, r := range results {
		byID[r.Node.ID] = r
	}
	require.Contains(t, byID, b.ID)
	assert.Equal(t, 1, byID[b.ID].Hops)
	require.Contains(t, byID, c.ID)
	assert.Equal(t, 2, byID[c.ID].Hops)
}

func TestSearchWithoutDepthDoesNotExpand(t *testing.T) {
	se, adapter := newEngine(t)
	a, err := adapter.AddNode(graph.NodeMemory, map[string]any{"content": "widget factory notes"})
	require.NoError(t, err)
	require.NoError(t, se.IndexNode(context.Background(), a, []float32{1, 0, 0, 0}))

	b, err := adapter.AddNode(graph.NodeMemory, map[string]any{"content": "unrelated neighbor"})
	require.NoError(t, err)
	_, err = adapter.AddEdge(a.ID, b.ID, graph.EdgeRelatesTo, nil)
	require.NoError(t, err)

	results, err := se.Search(context.Background(), "widget factory", search.Options{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, b.ID, r.Node.ID)
	}
}

func TestRRFFusionIsStableAcrossRepeatRuns(t *testing.T) {
	se, adapter := newEngine(t)
	for i := 0; i < 5; i++ {
		n, err := adapter.AddNode(graph.NodeMemory, map[string]any{"content": "widget factory design pattern notes"})
		require.NoError(t, err)
		require.NoError(t, se.IndexNode(context.Background(), n, []float32{float32(i), 1, 0, 0}))
	}
	first, err := se.Search(context.Background(), "widget factory design", search.Options{})
	require.NoError(t, err)
	second, err := se.Search(context.Background(), "widget factory design", search.Options{})
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Node.ID, second[i].Node.ID)
	}
}
