// Package indexer implements the file indexer: recursive discovery,
// ignore-pattern filtering, content-hash dedup, and (re)indexing of
// file/fileChunk nodes through the chunk coordinator. Per-file failures
// are logged and counted, never aborting a run.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/mimirhq/mimir/pkg/chunk"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/log"
	"github.com/mimirhq/mimir/pkg/search"
)

// Config describes one folder-indexing request.
type Config struct {
	Path               string
	Recursive          bool
	FilePatterns       []string // glob allow-list; nil = all files
	IgnorePatterns     []string // glob deny-list, merged with .gitignore
	GenerateEmbeddings bool
	DebounceMs         int // consumed by pkg/watch, not by a single index pass
}

// Status reports the outcome of one indexing run.
type Status struct {
	FilesIndexed int
	FilesSkipped int
	FilesRemoved int
	Errors       []string
	ElapsedMs    int64
}

// Indexer discovers files and materializes File/FileChunk nodes.
type Indexer struct {
	adapter *graph.Adapter
	search  *search.Engine
	coord   *chunk.Coordinator
}

func New(adapter *graph.Adapter, se *search.Engine, coord *chunk.Coordinator) *Indexer {
	return &Indexer{adapter: adapter, search: se, coord: coord}
}

// IndexFolder discovers and (re)indexes every matching file under
// cfg.Path synchronously; pkg/watch and cmd/mimir invoke it in their
// own goroutine when background operation is wanted.
func (ix *Indexer) IndexFolder(ctx context.Context, cfg Config) (*Status, error) {
	start := time.Now()
	status := &Status{}
	logger := log.WithComponent("indexer")

	matcher, err := buildIgnoreMatcher(cfg)
	if err != nil {
		return nil, graph.WrapError(graph.ErrKindConfig, "building ignore matcher", err)
	}

	files, err := discover(cfg, matcher)
	if err != nil {
		return nil, graph.WrapError(graph.ErrKindStorage, "discovering files", err)
	}

	for _, path := range files {
		select {
		case <-ctx.Done():
			status.ElapsedMs = time.Since(start).Milliseconds()
			return status, ctx.Err()
		default:
		}
		changed, err := ix.indexFile(ctx, path, cfg)
		if err != nil {
			status.Errors = append(status.Errors, path+": "+err.Error())
			logger.Warn().Err(err).Str("path", path).Msg("indexing failed, continuing")
			continue
		}
		if changed {
			status.FilesIndexed++
		} else {
			status.FilesSkipped++
		}
	}
	status.ElapsedMs = time.Since(start).Milliseconds()
	logger.Info().Int("indexed", status.FilesIndexed).Int("skipped", status.FilesSkipped).
		Int("errors", len(status.Errors)).Msg("folder index run complete")
	return status, nil
}

// IndexFile (re)indexes a single file, e.g. in response to a watcher
// event. Returns whether it actually changed (false = unchanged hash,
// skipped).
func (ix *Indexer) IndexFile(ctx context.Context, path string, cfg Config) (bool, error) {
	return ix.indexFile(ctx, path, cfg)
}

// indexFile hash-compares the file against any existing node for the
// same path, then upserts the file node and rebuilds its chunks.
func (ix *Indexer) indexFile(ctx context.Context, path string, cfg Config) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	hash := contentHash(content)

	existing, _ := ix.findFileNode(path)
	if existing != nil {
		if h, _ := existing.Properties["contentHash"].(string); h == hash {
			return false, nil // unchanged, skip
		}
	}

	text := string(content)
	if cfg.GenerateEmbeddings {
		prefix := chunk.MetadataPrefix(languageFor(path), filepath.Base(path), path, filepath.Dir(path))
		text = prefix + "\n\n" + text
	}

	var fileNode *graph.Node
	if existing != nil {
		if err := ix.removeChunks(existing.ID); err != nil {
			return false, err
		}
		fileNode, err = ix.adapter.UpdateNode(existing.ID, map[string]any{
			"path": path, "contentHash": hash, "size": len(content),
		})
	} else {
		fileNode, err = ix.adapter.AddNode(graph.NodeFile, map[string]any{
			"path": path, "contentHash": hash, "size": len(content),
		})
	}
	if err != nil {
		return false, err
	}
	if err := ix.search.IndexNode(ctx, fileNode, nil); err != nil {
		logger := log.WithComponent("indexer")
		logger.Warn().Err(err).Msg("indexing file node for search")
	}

	coord := ix.coord
	if !cfg.GenerateEmbeddings {
		coord = chunk.NewCoordinator(nil, coord.Config)
	}
	chunks, records, err := coord.Process(ctx, text)
	if err != nil && len(records) == 0 {
		return false, err
	}
	for i, ch := range chunks {
		rec := records[i]
		chunkNode, err := ix.adapter.AddNode(graph.NodeFileChunk, map[string]any{
			"text":        ch.Text,
			"startOffset": ch.StartOffset,
			"endOffset":   ch.EndOffset,
			"chunkIndex":  ch.ChunkIndex,
			"dims":        rec.Dims,
			"model":       rec.Model,
		})
		if err != nil {
			continue
		}
		if _, err := ix.adapter.AddEdge(fileNode.ID, chunkNode.ID, graph.EdgeContains, nil); err != nil {
			continue
		}
		if err := ix.search.IndexNode(ctx, chunkNode, rec.Vector); err != nil {
			log.WithComponent("indexer").Warn().Err(err).Msg("indexing chunk for search")
		}
	}
	return true, nil
}

// RemoveFile deletes the file node at path and cascades its chunks,
// triggered by the watcher's delete handler.
func (ix *Indexer) RemoveFile(path string) error {
	node, err := ix.findFileNode(path)
	if err != nil || node == nil {
		return err
	}
	if err := ix.removeChunks(node.ID); err != nil {
		return err
	}
	_, _, err = ix.adapter.DeleteNode(node.ID, "")
	ix.search.RemoveNode(node.ID)
	return err
}

// RemoveFolder deletes every file node whose path is under root plus
// all its chunks, returning counts.
func (ix *Indexer) RemoveFolder(root string) (filesDeleted, chunksDeleted int, err error) {
	nodes, err := ix.adapter.QueryNodes(graph.NodeFile, nil)
	if err != nil {
		return 0, 0, err
	}
	root = filepath.Clean(root)
	for _, n := range nodes {
		path, _ := n.Properties["path"].(string)
		if !isUnder(path, root) {
			continue
		}
		count, cerr := ix.countChunks(n.ID)
		if cerr == nil {
			chunksDeleted += count
		}
		if err := ix.removeChunks(n.ID); err != nil {
			continue
		}
		if _, _, err := ix.adapter.DeleteNode(n.ID, ""); err != nil {
			continue
		}
		ix.search.RemoveNode(n.ID)
		filesDeleted++
	}
	return filesDeleted, chunksDeleted, nil
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func (ix *Indexer) findFileNode(path string) (*graph.Node, error) {
	nodes, err := ix.adapter.QueryNodes(graph.NodeFile, map[string]any{"path": path})
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return ix.adapter.GetNode(nodes[0].ID)
}

func (ix *Indexer) removeChunks(fileID string) error {
	edges, err := ix.adapter.GetEdges(fileID, graph.DirOut)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.Type != graph.EdgeContains {
			continue
		}
		ix.search.RemoveNode(e.Target)
		if _, _, err := ix.adapter.DeleteNode(e.Target, ""); err != nil {
			continue
		}
	}
	return nil
}

func (ix *Indexer) countChunks(fileID string) (int, error) {
	edges, err := ix.adapter.GetEdges(fileID, graph.DirOut)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range edges {
		if e.Type == graph.EdgeContains {
			n++
		}
	}
	return n, nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func languageFor(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "Go"
	case ".md":
		return "Markdown"
	case ".py":
		return "Python"
	case ".ts", ".tsx":
		return "TypeScript"
	case ".js", ".jsx":
		return "JavaScript"
	case ".json":
		return "JSON"
	case ".yaml", ".yml":
		return "YAML"
	default:
		return "text"
	}
}

// buildIgnoreMatcher merges cfg.IgnorePatterns with the folder's
// .gitignore, if present.
func buildIgnoreMatcher(cfg Config) (*ignore.GitIgnore, error) {
	lines := append([]string(nil), cfg.IgnorePatterns...)
	gitignorePath := filepath.Join(cfg.Path, ".gitignore")
	if data, err := os.ReadFile(gitignorePath); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	if len(lines) == 0 {
		return ignore.CompileIgnoreLines(), nil
	}
	return ignore.CompileIgnoreLines(lines...), nil
}

// discover walks cfg.Path, applying the allow-list (FilePatterns) and
// the deny-list (matcher).
func discover(cfg Config, matcher *ignore.GitIgnore) ([]string, error) {
	var out []string
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // per-file failures are logged by the caller, never abort discovery
		}
		rel, relErr := filepath.Rel(cfg.Path, path)
		if relErr != nil {
			rel = path
		}
		if d.IsDir() {
			if path != cfg.Path && !cfg.Recursive {
				return filepath.SkipDir
			}
			if matcher.MatchesPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.MatchesPath(rel) {
			return nil
		}
		if len(cfg.FilePatterns) > 0 && !matchesAny(cfg.FilePatterns, rel) {
			return nil
		}
		out = append(out, path)
		return nil
	}
	if err := filepath.WalkDir(cfg.Path, walk); err != nil {
		return nil, err
	}
	return out, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
