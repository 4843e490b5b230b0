// Package search implements the hybrid search engine: it runs the
// lexical index (pkg/lexical) and the vector index (pkg/vector) in
// parallel, fuses their rankings via adaptive Reciprocal Rank Fusion,
// then post-filters and multi-hop expands through the graph adapter.
// The RRF weights come from a length-adaptive profile: short queries
// lean lexical, long queries lean semantic.
package search

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mimirhq/mimir/pkg/embed"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/lexical"
	"github.com/mimirhq/mimir/pkg/log"
	"github.com/mimirhq/mimir/pkg/vector"
)

// SearchableFields lists the flat properties concatenated into one
// logical document per node before indexing.
var SearchableFields = []string{
	"content", "text", "title", "name", "description", "path",
	"workerRole", "requirements",
}

// Profile is an RRF weighting preset.
type Profile struct {
	K            float64
	VectorWeight float64
	BM25Weight   float64
	MinScore     float64
}

var (
	ProfileKeyword  = Profile{K: 60, VectorWeight: 0.5, BM25Weight: 1.5, MinScore: 0.01}
	ProfileBalanced = Profile{K: 60, VectorWeight: 1.0, BM25Weight: 1.0, MinScore: 0.01}
	ProfileSemantic = Profile{K: 60, VectorWeight: 1.5, BM25Weight: 0.5, MinScore: 0.01}
)

// DetectProfile picks a profile from the token count of query:
// 1-2 tokens -> keyword, 6+ -> semantic, else balanced.
func DetectProfile(query string) Profile {
	n := len(strings.Fields(query))
	switch {
	case n <= 2:
		return ProfileKeyword
	case n >= 6:
		return ProfileSemantic
	default:
		return ProfileBalanced
	}
}

// Options configures a single search call.
type Options struct {
	Types         []graph.NodeType
	Filters       map[string]any
	Limit         int
	Offset        int
	MinSimilarity float64
	Depth         int     // multi-hop expansion depth; 0/1 = no expansion
	Decay         float64 // per-hop score dampening, default 0.7
	Profile       *Profile
}

// DefaultDecay is the per-hop score dampening factor for multi-hop
// expansion.
const DefaultDecay = 0.7

// DefaultLimit is the result count returned when opts.Limit is unset.
const DefaultLimit = 10

// Result is a single ranked hit, enriched with the owning file for
// fileChunk hits and snippet/line data for lexical matches.
type Result struct {
	Node       *graph.Node
	Score      float64
	VectorRank int
	BM25Rank   int
	Hops       int    // 0 for a direct hit, >0 for a multi-hop-expanded node
	File       *graph.Node // set when Node is a fileChunk and its owning file was found
}

// Engine fuses lexical and vector rankings. Search never mutates the
// indexes; pkg/indexer and pkg/graph push writes into them.
type Engine struct {
	adapter  *graph.Adapter
	lexical  *lexical.Index
	vector   vector.Backend
	embedder embed.Provider // may be nil: degrades to lexical-only
}

func New(adapter *graph.Adapter, lex *lexical.Index, vec vector.Backend, embedder embed.Provider) *Engine {
	return &Engine{adapter: adapter, lexical: lex, vector: vec, embedder: embedder}
}

// IndexNode pushes a node's searchable text and (if it carries one) its
// embedding into the derived indexes. Called synchronously by CRUD
// hooks and the indexer so that read-your-writes holds.
func (e *Engine) IndexNode(ctx context.Context, n *graph.Node, vec []float32) error {
	text := extractSearchableText(n)
	if text != "" {
		e.lexical.Upsert(n.ID, text)
	}
	if len(vec) > 0 && e.vector != nil {
		if err := e.vector.Upsert(n.ID, vec); err != nil {
			return err
		}
	}
	return nil
}

// RemoveNode drops id from both derived indexes.
func (e *Engine) RemoveNode(id string) {
	e.lexical.Remove(id)
	if e.vector != nil {
		e.vector.Remove(id)
	}
}

// VectorContains reports whether id currently has a stored embedding.
func (e *Engine) VectorContains(id string) bool {
	return e.vector != nil && e.vector.Contains(id)
}

func extractSearchableText(n *graph.Node) string {
	var b strings.Builder
	for _, field := range SearchableFields {
		if v, ok := n.Properties[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				b.WriteString(s)
				b.WriteString(" ")
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Search runs the full hybrid pipeline: profile detection, parallel
// lexical+vector fan-out, RRF fusion, post-filtering, multi-hop
// expansion, large-field stripping, pagination.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Decay <= 0 {
		opts.Decay = DefaultDecay
	}
	profile := DetectProfile(query)
	if opts.Profile != nil {
		profile = *opts.Profile
	}

	candidateLimit := opts.Limit*2 + opts.Offset
	if candidateLimit < 20 {
		candidateLimit = 20
	}

	var (
		lexResults []lexical.Result
		vecResults []vector.Result
		vecErr     error
		lexFailed  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				lexFailed = true
			}
		}()
		lexResults = e.lexical.Query("", query)
		return nil
	})
	g.Go(func() error {
		if e.embedder == nil || e.vector == nil || strings.TrimSpace(query) == "" {
			return nil // degrade to lexical-only
		}
		qvec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			vecErr = err
			return nil // a failed vector leg degrades, it does not abort the search
		}
		vecResults, vecErr = e.vector.KNN(gctx, qvec, candidateLimit, 0)
		return nil
	})
	_ = g.Wait()

	if lexFailed && (vecErr != nil || len(vecResults) == 0) {
		return nil, graph.NewError(graph.ErrKindSearch, "both rankers failed")
	}

	fused := fuseRRF(lexResults, vecResults, profile)

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		n, err := e.adapter.GetNode(f.id)
		if err != nil {
			continue
		}
		if !matchesFilters(n, opts.Types, opts.Filters) {
			continue
		}
		if opts.MinSimilarity > 0 && f.vectorScore < opts.MinSimilarity && f.vectorRank > 0 {
			continue
		}
		results = append(results, Result{Node: n, Score: f.score, VectorRank: f.vectorRank, BM25Rank: f.bm25Rank})
	}

	sortResults(results)

	if opts.Depth > 1 {
		results = e.expand(results, opts)
		sortResults(results)
	}

	results = e.attachOwningFiles(results)

	for _, r := range results {
		r.Node.Properties = graph.StripLargeProperties(r.Node.Properties, query)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return nil, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// expand performs multi-hop graph expansion: for each top hit, traverse
// up to opts.Depth hops and include reachable nodes with a dampened
// score.
func (e *Engine) expand(results []Result, opts Options) []Result {
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.Node.ID] = true
	}
	out := append([]Result(nil), results...)
	for _, r := range results {
		frontier := []string{r.Node.ID}
		for hop := 1; hop <= opts.Depth; hop++ {
			neighbors, err := e.adapter.GetNeighbors(r.Node.ID, "", hop)
			if err != nil {
				break
			}
			var next []string
			for _, n := range neighbors {
				if seen[n.ID] {
					continue
				}
				seen[n.ID] = true
				dampened := r.Score
				for i := 0; i < hop; i++ {
					dampened *= opts.Decay
				}
				out = append(out, Result{Node: n, Score: dampened, Hops: hop})
				next = append(next, n.ID)
			}
			frontier = next
			if len(frontier) == 0 {
				break
			}
		}
	}
	return out
}

// attachOwningFiles exposes, for every fileChunk hit, the owning file
// node via its "contains" back-edge. Both the chunk and its file appear
// in results, each with its own score.
func (e *Engine) attachOwningFiles(results []Result) []Result {
	for i, r := range results {
		if r.Node.Type != graph.NodeFileChunk {
			continue
		}
		edges, err := e.adapter.GetEdges(r.Node.ID, graph.DirIn)
		if err != nil {
			continue
		}
		for _, edge := range edges {
			if edge.Type != graph.EdgeContains {
				continue
			}
			file, err := e.adapter.GetNode(edge.Source)
			if err != nil {
				continue
			}
			results[i].File = file
			break
		}
	}
	return results
}

func matchesFilters(n *graph.Node, types []graph.NodeType, filters map[string]any) bool {
	if len(types) > 0 {
		ok := false
		for _, t := range types {
			if n.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for k, want := range filters {
		if got, present := n.Properties[k]; !present || got != want {
			return false
		}
	}
	return true
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		bi, bj := bm25Of(results[i]), bm25Of(results[j])
		if bi != bj {
			return bi > bj
		}
		if !results[i].Node.Updated.Equal(results[j].Node.Updated) {
			return results[i].Node.Updated.After(results[j].Node.Updated)
		}
		return results[i].Node.ID < results[j].Node.ID
	})
}

func bm25Of(r Result) float64 {
	if r.BM25Rank > 0 {
		return 1.0 / float64(r.BM25Rank)
	}
	return 0
}

// fused is an internal fusion record carrying both per-ranker ranks
// and the combined RRF score.
type fused struct {
	id          string
	score       float64
	vectorRank  int
	bm25Rank    int
	vectorScore float64
}

// fuseRRF combines the two rankings via Reciprocal Rank Fusion:
// rrf(doc) = sum_i weight_i / (k + rank_i), with weights and k taken
// from the detected Profile. Results below MinScore are dropped.
func fuseRRF(lexResults []lexical.Result, vecResults []vector.Result, profile Profile) []fused {
	lexRank := make(map[string]int, len(lexResults))
	lexScore := make(map[string]float64, len(lexResults))
	for i, r := range lexResults {
		lexRank[r.ID] = i + 1
		lexScore[r.ID] = r.Score
	}
	vecRank := make(map[string]int, len(vecResults))
	vecScore := make(map[string]float64, len(vecResults))
	for i, r := range vecResults {
		vecRank[r.ID] = i + 1
		vecScore[r.ID] = r.Score
	}

	ids := make(map[string]struct{}, len(lexResults)+len(vecResults))
	for _, r := range lexResults {
		ids[r.ID] = struct{}{}
	}
	for _, r := range vecResults {
		ids[r.ID] = struct{}{}
	}

	k := profile.K
	if k == 0 {
		k = 60
	}
	out := make([]fused, 0, len(ids))
	for id := range ids {
		var score float64
		if rank, ok := lexRank[id]; ok {
			score += profile.BM25Weight / (k + float64(rank))
		}
		if rank, ok := vecRank[id]; ok {
			score += profile.VectorWeight / (k + float64(rank))
		}
		if score < profile.MinScore {
			continue
		}
		out = append(out, fused{
			id: id, score: score,
			vectorRank: vecRank[id], bm25Rank: lexRank[id],
			vectorScore: vecScore[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}
