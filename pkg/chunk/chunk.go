// Package chunk implements the chunker and embedding coordinator:
// smart-boundary text chunking, the file-identity metadata
// prefix, and batch embedding of chunks into the vector index.
package chunk

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mimirhq/mimir/pkg/embed"
	"github.com/mimirhq/mimir/pkg/log"
)

// DefaultChunkSize and DefaultOverlap apply when Config leaves them zero.
const (
	DefaultChunkSize = 768
	DefaultOverlap   = 10
)

// Chunk is a bounded text span with offsets into the source text.
type Chunk struct {
	Text        string
	StartOffset int
	EndOffset   int
	ChunkIndex  int
}

// Config controls the Chunker's boundary-seeking behavior.
type Config struct {
	ChunkSize int
	Overlap   int
}

func DefaultConfig() Config {
	return Config{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
}

// Split divides text into chunks no larger than cfg.ChunkSize characters,
// each overlapping the previous by cfg.Overlap characters, preferring
// paragraph > sentence > word boundaries. A text shorter
// than ChunkSize yields exactly one chunk spanning [0, len(text)).
func Split(text string, cfg Config) []Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if len(text) == 0 {
		return nil
	}
	if len(text) <= cfg.ChunkSize {
		return []Chunk{{Text: text, StartOffset: 0, EndOffset: len(text), ChunkIndex: 0}}
	}

	var chunks []Chunk
	start := 0
	index := 0
	for start < len(text) {
		end := start + cfg.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = findBoundary(text, start, end)
		}
		if end <= start {
			end = start + 1 // guarantee forward progress on pathological input
		}
		chunks = append(chunks, Chunk{
			Text:        text[start:end],
			StartOffset: start,
			EndOffset:   end,
			ChunkIndex:  index,
		})
		index++
		if end >= len(text) {
			break
		}
		next := end - cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// findBoundary searches backward from end (within [start,end]) for the
// best available break: paragraph, then sentence terminators, then a
// bare space. Falls back to the hard cutoff when none is found.
func findBoundary(text string, start, end int) int {
	window := text[start:end]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return start + idx + 2
	}
	for _, sep := range []string{". ", "? ", "! ", "\n"} {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return start + idx + len(sep)
		}
	}
	if idx := strings.LastIndex(window, " "); idx > 0 {
		return start + idx + 1
	}
	return end
}

// MetadataPrefix synthesizes the natural-language identity sentence
// prepended to a file's content before embedding, so semantic search can
// match on file identity.
func MetadataPrefix(language, name, relativePath, directory string) string {
	var b strings.Builder
	b.WriteString("This is a ")
	if language == "" {
		language = "text"
	}
	b.WriteString(language)
	b.WriteString(" file named ")
	b.WriteString(name)
	b.WriteString(" located at ")
	b.WriteString(relativePath)
	b.WriteString(" in the ")
	if directory == "" {
		directory = "root"
	}
	b.WriteString(directory)
	b.WriteString(" directory.")
	return b.String()
}

// ChunkRecord is what the Embedding Coordinator records on each
// materialized fileChunk node.
type ChunkRecord struct {
	ChunkIndex  int
	StartOffset int
	EndOffset   int
	Dims        int
	Model       string
	Vector      []float32 // nil when embeddings are disabled
}

// Coordinator receives (nodeID, text) jobs, chunks the text, and
// optionally invokes an embed.Provider in bounded-concurrency batches.
// When Embedder is nil, chunks are still produced (lexical search still
// works) but no vector is attached.
type Coordinator struct {
	Embedder   embed.Provider
	Config     Config
	BatchSize  int // provider call batch size; 0 defaults to 32
	Concurrency int // bounded worker pool width; 0 defaults to 4
}

func NewCoordinator(embedder embed.Provider, cfg Config) *Coordinator {
	return &Coordinator{Embedder: embedder, Config: cfg, BatchSize: 32, Concurrency: 4}
}

// Process chunks text and, if an Embedder is configured, fills in each
// record's Vector by calling EmbedBatch in BatchSize-sized groups across
// a bounded worker pool. Cancellation aborts at the next batch boundary.
func (c *Coordinator) Process(ctx context.Context, text string) ([]Chunk, []ChunkRecord, error) {
	chunks := Split(text, c.Config)
	records := make([]ChunkRecord, len(chunks))
	for i, ch := range chunks {
		records[i] = ChunkRecord{ChunkIndex: ch.ChunkIndex, StartOffset: ch.StartOffset, EndOffset: ch.EndOffset}
	}
	if c.Embedder == nil || len(chunks) == 0 {
		return chunks, records, nil
	}

	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	type batch struct {
		start, end int
	}
	var batches []batch
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, batch{start, end})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	logger := log.WithComponent("chunk")
	for _, b := range batches {
		b := b
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			texts := make([]string, b.end-b.start)
			for i := b.start; i < b.end; i++ {
				texts[i-b.start] = chunks[i].Text
			}
			vecs, err := c.Embedder.EmbedBatch(gctx, texts)
			if err != nil {
				logger.Warn().Err(err).Int("batchStart", b.start).Msg("embedding batch failed")
				return err
			}
			for i, v := range vecs {
				idx := b.start + i
				records[idx].Vector = v
				records[idx].Dims = c.Embedder.Dimensions()
				records[idx].Model = c.Embedder.Model()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chunks, records, err
	}
	return chunks, records, nil
}
