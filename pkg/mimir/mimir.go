// Package mimir is the facade that wires every component into a single
// embeddable handle: graph adapter, hybrid search engine, chunker,
// indexer, watch manager, lock service, confirmation ledger, and
// context filter, exposing the transport-neutral operation surface as
// methods on DB.
package mimir

import (
	"context"

	"github.com/mimirhq/mimir/pkg/agentctx"
	"github.com/mimirhq/mimir/pkg/blob"
	"github.com/mimirhq/mimir/pkg/chunk"
	"github.com/mimirhq/mimir/pkg/config"
	"github.com/mimirhq/mimir/pkg/confirm"
	"github.com/mimirhq/mimir/pkg/embed"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/indexer"
	"github.com/mimirhq/mimir/pkg/lexical"
	"github.com/mimirhq/mimir/pkg/lock"
	"github.com/mimirhq/mimir/pkg/log"
	"github.com/mimirhq/mimir/pkg/retention"
	"github.com/mimirhq/mimir/pkg/search"
	"github.com/mimirhq/mimir/pkg/vector"
	"github.com/mimirhq/mimir/pkg/watch"
	"github.com/mimirhq/mimir/pkg/watchconfig"
)

// DB is the embeddable Mimir handle.
type DB struct {
	cfg *config.Config

	Graph       *graph.Adapter
	Confirm     *confirm.Ledger
	Search      *search.Engine
	Chunk       *chunk.Coordinator
	Indexer     *indexer.Indexer
	WatchConfig *watchconfig.Store
	Watch       *watch.Manager
	Lock        *lock.Service
	Context     *agentctx.Filter
	Retention   *retention.Sweeper

	embedder     embed.Provider
	lexical      *lexical.Index
	lockStop     chan struct{}
	ledgerCancel context.CancelFunc
}

// Open constructs every component and wires them in dependency order,
// using cfg (or config.Default() if nil). The caller owns the returned
// DB's lifetime and must call Close.
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var engine graph.Engine
	if cfg.Graph.URI != "" && cfg.Graph.URI != "memory://" {
		badgerEngine, err := graph.NewBadgerEngine(cfg.Graph.URI)
		if err != nil {
			return nil, graph.WrapError(graph.ErrKindStorage, "opening graph store", err)
		}
		engine = badgerEngine
	} else {
		engine = graph.NewMemoryEngine()
	}
	return openWithEngine(cfg, engine)
}

func openWithEngine(cfg *config.Config, engine graph.Engine) (*DB, error) {
	ledger := confirm.New()
	adapter := graph.NewAdapter(engine, ledger)

	if cfg.Blob.Enabled {
		blobStore, err := blob.New(cfg.Blob.EncryptionKey)
		if err != nil {
			return nil, err
		}
		adapter.SetBlobStore(blobStoreAdapter{blobStore})
	}

	var base embed.Provider
	switch cfg.Embedding.Provider {
	case "openai":
		econf := embed.DefaultOpenAIConfig(cfg.Embedding.APIKey)
		if cfg.Embedding.Model != "" {
			econf.Model = cfg.Embedding.Model
		}
		if cfg.Embedding.Endpoint != "" {
			econf.APIURL = cfg.Embedding.Endpoint
		}
		base = embed.NewOpenAI(econf)
	default:
		econf := embed.DefaultOllamaConfig()
		if cfg.Embedding.Model != "" {
			econf.Model = cfg.Embedding.Model
		}
		if cfg.Embedding.Endpoint != "" {
			econf.APIURL = cfg.Embedding.Endpoint
		}
		base = embed.NewOllama(econf)
	}
	embedder := embed.NewCached(base, cfg.Embedding.CacheSize)

	lex := lexical.NewIndex()
	vec := vector.NewBruteForce(embedder.Dimensions())
	searchEngine := search.New(adapter, lex, vec, embedder)
	adapter.SetSearchFunc(adaptSearchFunc(searchEngine))

	chunkCoord := chunk.NewCoordinator(embedder, chunk.Config{
		ChunkSize: cfg.Chunking.ChunkSize, Overlap: cfg.Chunking.Overlap,
	})
	ix := indexer.New(adapter, searchEngine, chunkCoord)
	wcStore := watchconfig.New(adapter)
	watchMgr := watch.NewManager(ix, wcStore)
	lockSvc := lock.New(adapter)
	ctxFilter := agentctx.New(adapter)

	sweeper := retention.NewSweeper(adapter, retention.Config{
		Enabled:       cfg.Retention.Enabled,
		DefaultDays:   cfg.Retention.DefaultDays,
		PolicyDays:    cfg.PolicyDaysByType(),
		SweepInterval: cfg.Retention.SweepInterval,
	})

	lockStop := make(chan struct{})
	ledgerCtx, ledgerCancel := context.WithCancel(context.Background())
	db := &DB{
		cfg:          cfg,
		Graph:        adapter,
		Confirm:      ledger,
		Search:       searchEngine,
		Chunk:        chunkCoord,
		Indexer:      ix,
		WatchConfig:  wcStore,
		Watch:        watchMgr,
		Lock:         lockSvc,
		Context:      ctxFilter,
		Retention:    sweeper,
		embedder:     embedder,
		lexical:      lex,
		lockStop:     lockStop,
		ledgerCancel: ledgerCancel,
	}

	if err := watchMgr.Recover(context.Background()); err != nil {
		log.WithComponent("mimir").Warn().Err(err).Msg("watch recovery failed")
	}
	go sweeper.Run()
	go lockSvc.RunSweeper(lock.DefaultTimeout, lockStop)
	go ledger.Run(ledgerCtx, 0)

	return db, nil
}

// Close releases every owned resource: the retention sweeper, the lock
// sweeper goroutine, the confirmation ledger's sweeper, every
// watch-manager folder worker, and finally the graph engine itself.
func (db *DB) Close() error {
	db.Retention.Stop()
	close(db.lockStop)
	db.ledgerCancel()
	db.Watch.Shutdown(watch.DefaultShutdownTimeout)
	return db.Graph.Close()
}

// adaptSearchFunc bridges graph.Adapter's transport-neutral
// map[string]any options onto
// search.Engine's typed Options, and search.Result back onto
// graph.ScoredNode, so the Adapter's SearchNodes can delegate to the
// Hybrid Search Engine without either package importing the other's
// option/result types.
func adaptSearchFunc(se *search.Engine) graph.SearchFunc {
	return func(ctx context.Context, query string, opts map[string]any) ([]*graph.ScoredNode, error) {
		results, err := se.Search(ctx, query, decodeSearchOptions(opts))
		if err != nil {
			return nil, err
		}
		out := make([]*graph.ScoredNode, len(results))
		for i, r := range results {
			out[i] = &graph.ScoredNode{Node: r.Node, Score: r.Score}
		}
		return out, nil
	}
}

// blobStoreAdapter bridges pkg/blob.Store's Key-struct API onto
// graph.BlobStore's plain-string signature, the same bridging role
// adaptSearchFunc plays for search.Engine.
type blobStoreAdapter struct{ store *blob.Store }

func (b blobStoreAdapter) Put(nodeID, property string, content []byte) error {
	return b.store.Put(blob.Key{NodeID: nodeID, Property: property}, content)
}

func (b blobStoreAdapter) Get(nodeID, property string) ([]byte, error) {
	return b.store.Get(blob.Key{NodeID: nodeID, Property: property})
}

func (b blobStoreAdapter) DeleteNode(nodeID string) error {
	b.store.DeleteNode(nodeID)
	return nil
}

func decodeSearchOptions(opts map[string]any) search.Options {
	var out search.Options
	if v, ok := opts["limit"].(int); ok {
		out.Limit = v
	}
	if v, ok := opts["offset"].(int); ok {
		out.Offset = v
	}
	if v, ok := opts["minSimilarity"].(float64); ok {
		out.MinSimilarity = v
	}
	if v, ok := opts["depth"].(int); ok {
		out.Depth = v
	}
	if v, ok := opts["decay"].(float64); ok {
		out.Decay = v
	}
	if v, ok := opts["filters"].(map[string]any); ok {
		out.Filters = v
	}
	if v, ok := opts["types"].([]graph.NodeType); ok {
		out.Types = v
	}
	return out
}
