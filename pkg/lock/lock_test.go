package lock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/pkg/confirm"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/lock"
)

func newAdapter(t *testing.T) *graph.Adapter {
	t.Helper()
	return graph.NewAdapter(graph.NewMemoryEngine(), confirm.New())
}

func TestAcquireThenConcurrentAcquireFails(t *testing.T) {
	adapter := newAdapter(t)
	svc := lock.New(adapter)
	n, err := adapter.AddNode(graph.NodeTodo, map[string]any{"title": "task"})
	require.NoError(t, err)

	ok, err := svc.Acquire(n.ID, "agentA", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Acquire(n.ID, "agentB", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := svc.Release(n.ID, "agentA")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = svc.Acquire(n.ID, "agentB", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseByNonHolderFails(t *testing.T) {
	adapter := newAdapter(t)
	svc := lock.New(adapter)
	n, err := adapter.AddNode(graph.NodeTodo, nil)
	require.NoError(t, err)

	ok, err := svc.Acquire(n.ID, "agentA", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := svc.Release(n.ID, "agentB")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestExpiredLockCanBeReacquired(t *testing.T) {
	adapter := newAdapter(t)
	svc := lock.New(adapter)
	n, err := adapter.AddNode(graph.NodeTodo, nil)
	require.NoError(t, err)

	ok, err := svc.Acquire(n.ID, "agentA", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = svc.Acquire(n.ID, "agentB", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueryAvailableExcludesLockedNodes(t *testing.T) {
	adapter := newAdapter(t)
	svc := lock.New(adapter)
	n1, err := adapter.AddNode(graph.NodeTodo, map[string]any{"status": "open"})
	require.NoError(t, err)
	n2, err := adapter.AddNode(graph.NodeTodo, map[string]any{"status": "open"})
	require.NoError(t, err)

	ok, err := svc.Acquire(n1.ID, "agentA", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	available, err := svc.QueryAvailable(graph.NodeTodo, nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(available))
	for _, n := range available {
		ids = append(ids, n.ID)
	}
	assert.NotContains(t, ids, n1.ID)
	assert.Contains(t, ids, n2.ID)
}

func TestCleanupClearsExpiredLocks(t *testing.T) {
	adapter := newAdapter(t)
	svc := lock.New(adapter)
	n, err := adapter.AddNode(graph.NodeTodo, nil)
	require.NoError(t, err)

	ok, err := svc.Acquire(n.ID, "agentA", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	cleared, err := svc.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
}
