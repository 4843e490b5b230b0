package mimir_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/pkg/agentctx"
	"github.com/mimirhq/mimir/pkg/config"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/indexer"
	"github.com/mimirhq/mimir/pkg/mimir"
)

func newDB(t *testing.T) *mimir.DB {
	t.Helper()
	cfg := config.Default()
	db, err := mimir.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenWiresEveryComponent(t *testing.T) {
	db := newDB(t)
	assert.NotNil(t, db.Graph)
	assert.NotNil(t, db.Search)
	assert.NotNil(t, db.Chunk)
	assert.NotNil(t, db.Indexer)
	assert.NotNil(t, db.WatchConfig)
	assert.NotNil(t, db.Watch)
	assert.NotNil(t, db.Lock)
	assert.NotNil(t, db.Context)
	assert.NotNil(t, db.Retention)
}

func TestTodoThenTodoList(t *testing.T) {
	db := newDB(t)
	todo, err := db.Todo(map[string]any{"title": "write docs", "done": false})
	require.NoError(t, err)

	list, err := db.Graph.AddNode(graph.NodeTodoList, map[string]any{"name": "launch checklist"})
	require.NoError(t, err)
	_, err = db.Graph.AddEdge(list.ID, todo.ID, graph.EdgeContains, nil)
	require.NoError(t, err)

	lists, err := db.TodoList(map[string]any{"name": "launch checklist"})
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "launch checklist", lists[0].Properties["name"])
}

func TestGetTaskContextDelegatesToContextFilter(t *testing.T) {
	db := newDB(t)
	n, err := db.Todo(map[string]any{
		"title": "ship feature", "requirements": "do the thing",
		"status": "in_progress", "priority": "high",
		"internalNotes": "pm eyes only",
	})
	require.NoError(t, err)

	ctx, metrics, err := db.GetTaskContext(n.ID, agentctx.AgentWorker)
	require.NoError(t, err)
	assert.NotContains(t, ctx, "internalNotes")
	assert.NotNil(t, metrics)
}

func TestIndexFolderRegistersWatchConfig(t *testing.T) {
	db := newDB(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("hello world"), 0o644))

	result, err := db.IndexFolder(context.Background(), indexer.Config{
		Path: dir, Recursive: true, FilePatterns: []string{"*.md"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Status.FilesIndexed)
	require.NotNil(t, result.WatchConfig)
	assert.Equal(t, dir, result.WatchConfig.Path)

	folders, err := db.ListFolders()
	require.NoError(t, err)
	require.Len(t, folders, 1)
}

func TestRemoveFolderClearsWatchConfig(t *testing.T) {
	db := newDB(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("hello world"), 0o644))

	_, err := db.IndexFolder(context.Background(), indexer.Config{
		Path: dir, Recursive: true, FilePatterns: []string{"*.md"},
	})
	require.NoError(t, err)

	result, err := db.RemoveFolder(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)

	folders, err := db.ListFolders()
	require.NoError(t, err)
	assert.Empty(t, folders)
}

func TestGetEmbeddingStatsWithoutEmbeddingsIsEmpty(t *testing.T) {
	db := newDB(t)
	_, err := db.Graph.AddNode(graph.NodeMemory, map[string]any{"text": "no vector here"})
	require.NoError(t, err)

	stats, err := db.GetEmbeddingStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestQueryFulltextYieldsNodesWithScores(t *testing.T) {
	db := newDB(t)
	n, err := db.Graph.AddNode(graph.NodeMemory, map[string]any{
		"title": "auth design", "content": "token refresh and session auth",
	})
	require.NoError(t, err)

	hits, err := db.QueryFulltext("node_fulltext", "auth")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, n.ID, hits[0].Node.ID)
	assert.Greater(t, hits[0].Score, 0.0)

	// Any index name dispatches to the same index.
	other, err := db.QueryFulltext("some_other_index", "auth")
	require.NoError(t, err)
	require.Len(t, other, len(hits))

	empty, err := db.QueryFulltext("node_fulltext", "zzzmissing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
