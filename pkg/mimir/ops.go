// ops.go exposes the transport-neutral operation surface as methods on
// DB: one thin Go method per operation, each delegating to the owned
// component, rather than a single op-switch dispatcher.
package mimir

import (
	"context"

	"github.com/mimirhq/mimir/pkg/agentctx"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/indexer"
	"github.com/mimirhq/mimir/pkg/search"
	"github.com/mimirhq/mimir/pkg/watchconfig"
)

// EmbeddingStats reports, per node type, how many nodes currently carry
// a vector embedding.
type EmbeddingStats struct {
	Counts map[graph.NodeType]int
	Total  int
}

// GetEmbeddingStats counts embedding-bearing nodes per type.
func (db *DB) GetEmbeddingStats() (*EmbeddingStats, error) {
	stats := &EmbeddingStats{Counts: make(map[graph.NodeType]int)}
	for _, nodeType := range graph.ValidNodeTypes {
		nodes, err := db.Graph.QueryNodes(nodeType, nil)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, n := range nodes {
			if db.vectorContains(n.ID) {
				count++
			}
		}
		if count > 0 {
			stats.Counts[nodeType] = count
			stats.Total += count
		}
	}
	return stats, nil
}

func (db *DB) vectorContains(id string) bool {
	return db.Search.VectorContains(id)
}

// VectorSearchNodes runs a hybrid search over the graph.
func (db *DB) VectorSearchNodes(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return db.Search.Search(ctx, query, opts)
}

// FolderResult is returned by IndexFolder, persisting the run's
// WatchConfig so the folder survives a restart.
type FolderResult struct {
	Status      *indexer.Status
	WatchConfig *watchconfig.WatchConfig
}

// IndexFolder indexes the folder once and, unless already registered,
// persists a WatchConfig so the watch manager can pick it up for
// continuous indexing.
func (db *DB) IndexFolder(ctx context.Context, cfg indexer.Config) (*FolderResult, error) {
	status, err := db.Indexer.IndexFolder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	wc, err := db.registerOrUpdateWatch(cfg, status)
	if err != nil {
		return nil, err
	}
	if err := db.Watch.Start(ctx, wc); err != nil {
		return nil, err
	}
	return &FolderResult{Status: status, WatchConfig: wc}, nil
}

func (db *DB) registerOrUpdateWatch(cfg indexer.Config, status *indexer.Status) (*watchconfig.WatchConfig, error) {
	active, err := db.WatchConfig.ListActive()
	if err != nil {
		return nil, err
	}
	for _, wc := range active {
		if wc.Path == cfg.Path {
			wc.FilesIndexed += status.FilesIndexed
			if err := db.WatchConfig.Update(wc); err != nil {
				return nil, err
			}
			return wc, nil
		}
	}
	return db.WatchConfig.Register(&watchconfig.WatchConfig{
		Path: cfg.Path, Recursive: cfg.Recursive,
		FilePatterns: cfg.FilePatterns, IgnorePatterns: cfg.IgnorePatterns,
		GenerateEmbeddings: cfg.GenerateEmbeddings, DebounceMs: cfg.DebounceMs,
		FilesIndexed: status.FilesIndexed,
	})
}

// RemoveFolderResult is returned by RemoveFolder.
type RemoveFolderResult struct {
	FilesDeleted  int
	ChunksDeleted int
}

// RemoveFolder stops watching path, deletes every file node under it
// along with its chunks, and drops the persisted WatchConfig.
func (db *DB) RemoveFolder(path string) (*RemoveFolderResult, error) {
	db.Watch.Stop(path)
	filesDeleted, chunksDeleted, err := db.Indexer.RemoveFolder(path)
	if err != nil {
		return nil, err
	}
	active, err := db.WatchConfig.ListActive()
	if err != nil {
		return nil, err
	}
	for _, wc := range active {
		if wc.Path == path {
			if err := db.WatchConfig.Remove(wc.ID); err != nil {
				return nil, err
			}
			break
		}
	}
	return &RemoveFolderResult{FilesDeleted: filesDeleted, ChunksDeleted: chunksDeleted}, nil
}

// ListFolders returns the active watch configs.
func (db *DB) ListFolders() ([]*watchconfig.WatchConfig, error) {
	return db.WatchConfig.ListActive()
}

// Todo adds a todo node through the graph adapter.
func (db *DB) Todo(props map[string]any) (*graph.Node, error) {
	return db.Graph.AddNode(graph.NodeTodo, props)
}

// TodoList queries todoList container nodes.
func (db *DB) TodoList(filters map[string]any) ([]*graph.Node, error) {
	return db.Graph.QueryNodes(graph.NodeTodoList, filters)
}

// GetTaskContext returns the agent-type-scoped projection of a task's
// context along with reduction metrics.
func (db *DB) GetTaskContext(taskID string, agentType agentctx.AgentType) (map[string]any, *agentctx.Metrics, error) {
	return db.Context.GetTaskContext(taskID, agentType)
}

// FulltextHit pairs a node with its raw BM25 score, mirroring the
// fulltext.queryNodes(indexName, query) YIELD node, score shape exposed
// by Cypher-compatible stores.
type FulltextHit struct {
	Node  *graph.Node
	Score float64
}

// QueryFulltext runs a pure lexical query. indexName is accepted for
// compatibility and ignored; all nodes live in one index. Empty results
// are an empty slice, never an error, and scores stay in their native
// BM25 range.
func (db *DB) QueryFulltext(indexName, query string) ([]FulltextHit, error) {
	results := db.lexical.Query(indexName, query)
	hits := make([]FulltextHit, 0, len(results))
	for _, r := range results {
		node, err := db.Graph.GetNode(r.ID)
		if err != nil {
			continue // dropped from the index concurrently
		}
		node.Properties = graph.StripLargeProperties(node.Properties, query)
		hits = append(hits, FulltextHit{Node: node, Score: r.Score})
	}
	return hits, nil
}
