package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/pkg/confirm"
	"github.com/mimirhq/mimir/pkg/graph"
)

func newTestAdapter(t *testing.T) *graph.Adapter {
	t.Helper()
	return graph.NewAdapter(graph.NewMemoryEngine(), confirm.New())
}

func TestAddAndGetNode(t *testing.T) {
	a := newTestAdapter(t)
	n, err := a.AddNode(graph.NodeMemory, map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	got, err := a.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Properties["text"])
}

func TestAddNodeDefaultsType(t *testing.T) {
	a := newTestAdapter(t)
	n, err := a.AddNode("", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, graph.NodeMemory, n.Type)
}

func TestAddNodeRejectsUnknownType(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.AddNode(graph.NodeType("bogus"), map[string]any{})
	require.Error(t, err)
	ge, ok := err.(*graph.Error)
	require.True(t, ok)
	assert.Equal(t, graph.ErrKindValidation, ge.Kind)
}

func TestUpdateNodeMergesProperties(t *testing.T) {
	a := newTestAdapter(t)
	n, err := a.AddNode(graph.NodeTodo, map[string]any{"title": "a", "done": false})
	require.NoError(t, err)

	updated, err := a.UpdateNode(n.ID, map[string]any{"done": true})
	require.NoError(t, err)
	assert.Equal(t, "a", updated.Properties["title"])
	assert.Equal(t, true, updated.Properties["done"])
}

func TestUpdateNodeRejectsLockProperties(t *testing.T) {
	a := newTestAdapter(t)
	n, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)

	_, err = a.UpdateNode(n.ID, map[string]any{graph.PropLockedBy: "agent-1"})
	require.Error(t, err)
}

func TestAddEdgeFailsWhenEndpointMissing(t *testing.T) {
	a := newTestAdapter(t)
	n, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)

	_, err = a.AddEdge(n.ID, "does-not-exist", graph.EdgeBlocks, nil)
	require.Error(t, err)
	ge, ok := err.(*graph.Error)
	require.True(t, ok)
	assert.Equal(t, graph.ErrKindNotFound, ge.Kind)
}

func TestAddEdgeRejectsInvalidContainsTypePair(t *testing.T) {
	a := newTestAdapter(t)
	memory, err := a.AddNode(graph.NodeMemory, map[string]any{})
	require.NoError(t, err)
	list, err := a.AddNode(graph.NodeTodoList, map[string]any{})
	require.NoError(t, err)

	_, err = a.AddEdge(memory.ID, list.ID, graph.EdgeContains, nil)
	require.Error(t, err)
	ge, ok := err.(*graph.Error)
	require.True(t, ok)
	assert.Equal(t, graph.ErrKindValidation, ge.Kind)
}

func TestAddEdgeAllowsValidContainsTypePairs(t *testing.T) {
	a := newTestAdapter(t)
	list, err := a.AddNode(graph.NodeTodoList, map[string]any{})
	require.NoError(t, err)
	todo, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)
	_, err = a.AddEdge(list.ID, todo.ID, graph.EdgeContains, nil)
	require.NoError(t, err)

	file, err := a.AddNode(graph.NodeFile, map[string]any{})
	require.NoError(t, err)
	chunk, err := a.AddNode(graph.NodeFileChunk, map[string]any{})
	require.NoError(t, err)
	_, err = a.AddEdge(file.ID, chunk.ID, graph.EdgeContains, nil)
	require.NoError(t, err)
}

func TestDeleteNodeBelowThresholdNeedsNoConfirmation(t *testing.T) {
	a := newTestAdapter(t)
	n, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)

	result, preview, err := a.DeleteNode(n.ID, "")
	require.NoError(t, err)
	assert.Nil(t, preview)
	assert.Equal(t, 1, result.DeletedNodes)

	_, err = a.GetNode(n.ID)
	assert.Error(t, err)
}

func TestDeleteNodeAboveThresholdRequiresConfirmation(t *testing.T) {
	a := newTestAdapter(t)
	root, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)

	for i := 0; i < graph.CascadeConfirmThreshold+1; i++ {
		leaf, err := a.AddNode(graph.NodeTodo, map[string]any{})
		require.NoError(t, err)
		_, err = a.AddEdge(root.ID, leaf.ID, graph.EdgeBlocks, nil)
		require.NoError(t, err)
	}

	result, preview, err := a.DeleteNode(root.ID, "")
	require.NoError(t, err)
	assert.Nil(t, result)
	require.NotNil(t, preview)
	assert.True(t, preview.NeedsConfirmation)
	assert.NotEmpty(t, preview.ConfirmationID)

	// Wrong token fails.
	_, _, err = a.DeleteNode(root.ID, "not-a-real-token")
	assert.ErrorIs(t, err, graph.ErrConfirmationInvalid)

	token := preview.ConfirmationID
	result, preview, err = a.DeleteNode(root.ID, token)
	require.NoError(t, err)
	assert.Nil(t, preview)
	assert.Equal(t, 1, result.DeletedNodes)
	assert.Equal(t, graph.CascadeConfirmThreshold+1, result.DeletedEdges)

	// Re-invoking with the spent token fails.
	_, _, err = a.DeleteNode(root.ID, token)
	assert.Error(t, err)
}

func TestBatchDeleteAboveThresholdRecordsErrorNotSuccess(t *testing.T) {
	a := newTestAdapter(t)
	root, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)
	plain, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)

	for i := 0; i < graph.CascadeConfirmThreshold+1; i++ {
		leaf, err := a.AddNode(graph.NodeTodo, map[string]any{})
		require.NoError(t, err)
		_, err = a.AddEdge(root.ID, leaf.ID, graph.EdgeBlocks, nil)
		require.NoError(t, err)
	}

	result := a.DeleteNodes([]string{root.ID, plain.ID})
	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, root.ID, result.Errors[0].ID)
	assert.Contains(t, result.Errors[0].Error, "confirmation")

	// The gated node survives untouched.
	_, err = a.GetNode(root.ID)
	assert.NoError(t, err)
	_, err = a.GetNode(plain.ID)
	assert.Error(t, err)
}

func TestBatchAddNodesPartialFailure(t *testing.T) {
	a := newTestAdapter(t)
	items := []struct {
		Type  graph.NodeType
		Props map[string]any
	}{
		{Type: graph.NodeTodo, Props: map[string]any{"title": "ok"}},
		{Type: graph.NodeType("bogus"), Props: map[string]any{}},
	}
	nodes, result := a.AddNodes(items)
	assert.Len(t, nodes, 1)
	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, result.Errors, 1)
}

func TestGetNeighborsBFS(t *testing.T) {
	a := newTestAdapter(t)
	root, _ := a.AddNode(graph.NodeTodo, map[string]any{"n": "root"})
	mid, _ := a.AddNode(graph.NodeTodo, map[string]any{"n": "mid"})
	leaf, _ := a.AddNode(graph.NodeTodo, map[string]any{"n": "leaf"})
	_, err := a.AddEdge(root.ID, mid.ID, graph.EdgeBlocks, nil)
	require.NoError(t, err)
	_, err = a.AddEdge(mid.ID, leaf.ID, graph.EdgeBlocks, nil)
	require.NoError(t, err)

	depth1, err := a.GetNeighbors(root.ID, "", 1)
	require.NoError(t, err)
	assert.Len(t, depth1, 1)

	depth2, err := a.GetNeighbors(root.ID, "", 2)
	require.NoError(t, err)
	assert.Len(t, depth2, 2)
}

func TestClearRequiresConfirmation(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.AddNode(graph.NodeTodo, map[string]any{})
	require.NoError(t, err)

	_, err = a.Clear("todo", "")
	assert.ErrorIs(t, err, graph.ErrConfirmationInvalid)

	preview, err := a.PreviewClear("todo")
	require.NoError(t, err)
	require.NotNil(t, preview)

	result, err := a.Clear("todo", preview.ConfirmationID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedNodes)
}

// fakeBlobStore is a minimal graph.BlobStore exercising Adapter's mirror
// write/read/delete wiring without depending on pkg/blob's AEAD mechanics.
type fakeBlobStore struct {
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{data: make(map[string][]byte)} }

func (f *fakeBlobStore) Put(nodeID, property string, content []byte) error {
	f.data[nodeID+"/"+property] = append([]byte(nil), content...)
	return nil
}

func (f *fakeBlobStore) Get(nodeID, property string) ([]byte, error) {
	v, ok := f.data[nodeID+"/"+property]
	if !ok {
		return nil, graph.NewError(graph.ErrKindNotFound, "no blob for "+nodeID+"/"+property)
	}
	return v, nil
}

func (f *fakeBlobStore) DeleteNode(nodeID string) error {
	prefix := nodeID + "/"
	for k := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(f.data, k)
		}
	}
	return nil
}

func TestBlobStoreMirrorsLargePropertiesOnWriteAndServesOnRead(t *testing.T) {
	a := graph.NewAdapter(graph.NewMemoryEngine(), confirm.New())
	store := newFakeBlobStore()
	a.SetBlobStore(store)

	big := strings.Repeat("x", graph.LargePropertyThreshold+1)
	n, err := a.AddNode(graph.NodeMemory, map[string]any{"content": big})
	require.NoError(t, err)
	assert.NotEmpty(t, store.data)

	got, err := a.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, big, got.Properties["content"])
}

// lossyBlobStore accepts every Put but never actually retains the
// content, simulating a blob backend miss so GetNode's fallback to the
// Engine's own copy can be exercised.
type lossyBlobStore struct{}

func (lossyBlobStore) Put(string, string, []byte) error { return nil }
func (lossyBlobStore) Get(nodeID, property string) ([]byte, error) {
	return nil, graph.NewError(graph.ErrKindNotFound, "no blob for "+nodeID+"/"+property)
}
func (lossyBlobStore) DeleteNode(string) error { return nil }

func TestBlobStoreFallsBackToEngineValueWhenMissing(t *testing.T) {
	a := graph.NewAdapter(graph.NewMemoryEngine(), confirm.New())
	a.SetBlobStore(lossyBlobStore{})

	big := strings.Repeat("y", graph.LargePropertyThreshold+1)
	n, err := a.AddNode(graph.NodeMemory, map[string]any{"content": big})
	require.NoError(t, err)

	got, err := a.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, big, got.Properties["content"])
}

func TestBlobStoreCleansUpOnDeleteNode(t *testing.T) {
	a := graph.NewAdapter(graph.NewMemoryEngine(), confirm.New())
	store := newFakeBlobStore()
	a.SetBlobStore(store)

	big := strings.Repeat("z", graph.LargePropertyThreshold+1)
	n, err := a.AddNode(graph.NodeMemory, map[string]any{"content": big})
	require.NoError(t, err)
	require.NotEmpty(t, store.data)

	_, _, err = a.DeleteNode(n.ID, "")
	require.NoError(t, err)
	assert.Empty(t, store.data)
}

func TestQueryNodesFiltersAndStripsLargeFields(t *testing.T) {
	a := newTestAdapter(t)
	big := make([]byte, graph.LargePropertyThreshold+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err := a.AddNode(graph.NodeMemory, map[string]any{"kind": "note", "blob": string(big)})
	require.NoError(t, err)
	_, err = a.AddNode(graph.NodeMemory, map[string]any{"kind": "other"})
	require.NoError(t, err)

	results, err := a.QueryNodes(graph.NodeMemory, map[string]any{"kind": "note"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	stripped, ok := results[0].Properties["blob"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, stripped["_stripped"])
}
