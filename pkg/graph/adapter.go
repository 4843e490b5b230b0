package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mimirhq/mimir/pkg/confirm"
	"github.com/mimirhq/mimir/pkg/log"
)

// CascadeConfirmThreshold is the cascade edge count above which DeleteNode
// requires confirmation through the Ledger.
const CascadeConfirmThreshold = 25

// SearchFunc lets the Adapter delegate searchNodes to the Hybrid Search
// Engine (pkg/search) without pkg/graph importing pkg/search, avoiding an
// import cycle (search depends on graph, not the reverse).
type SearchFunc func(ctx context.Context, query string, opts map[string]any) ([]*ScoredNode, error)

// BlobStore lets the Adapter mirror large property values out-of-band,
// keyed by node id, without pkg/graph importing pkg/blob, which imports
// pkg/graph for its error
// kinds. A production deployment backs this with an object store or the
// filesystem; pkg/blob.Store is the in-memory reference implementation,
// bridged in by pkg/mimir.
type BlobStore interface {
	Put(nodeID, property string, content []byte) error
	Get(nodeID, property string) ([]byte, error)
	DeleteNode(nodeID string) error
}

// ScoredNode pairs a Node with the score assigned by the search layer.
type ScoredNode struct {
	Node  *Node
	Score float64
}

// Preview describes a pending destructive operation awaiting confirmation.
type Preview struct {
	NeedsConfirmation bool   `json:"needsConfirmation"`
	ConfirmationID    string `json:"confirmationId,omitempty"`
	ExpiresIn         int    `json:"expiresIn,omitempty"`
	CascadeEdges      int    `json:"cascadeEdges,omitempty"`
}

// ClearResult is returned by a completed clear().
type ClearResult struct {
	DeletedNodes int `json:"deletedNodes"`
	DeletedEdges int `json:"deletedEdges"`
}

// Adapter is the single entry point every collaborator (indexer, search
// engine, lock service, agent context filter) uses to read and mutate
// the graph. It wraps an Engine with property flatten/unflatten at the
// boundary and confirmation-gating for destructive operations.
type Adapter struct {
	engine Engine
	ledger *confirm.Ledger
	search SearchFunc
	blob   BlobStore
}

// NewAdapter constructs an Adapter over engine, using ledger for
// confirmation-gated operations. search may be nil; SetSearchFunc can
// wire it in after pkg/search is constructed (it depends on Adapter).
func NewAdapter(engine Engine, ledger *confirm.Ledger) *Adapter {
	return &Adapter{engine: engine, ledger: ledger}
}

// SetSearchFunc wires searchNodes to the Hybrid Search Engine. Must be
// called once during startup before any caller invokes SearchNodes.
func (a *Adapter) SetSearchFunc(fn SearchFunc) { a.search = fn }

// SetBlobStore wires the out-of-band large-property store. When unset,
// large properties live only in the Engine, exactly as before this was
// introduced.
func (a *Adapter) SetBlobStore(b BlobStore) { a.blob = b }

// mirrorLargeProperties writes every large string property in props to
// the wired BlobStore, keyed by (nodeID, property key). A failed mirror
// write is logged and otherwise non-fatal: the Engine copy remains the
// authoritative value.
func (a *Adapter) mirrorLargeProperties(nodeID string, props map[string]any) {
	if a.blob == nil {
		return
	}
	for k, v := range props {
		s, ok := v.(string)
		if !ok || len(s) <= LargePropertyThreshold {
			continue
		}
		if err := a.blob.Put(nodeID, k, []byte(s)); err != nil {
			logger := log.WithComponent("graph")
			logger.Warn().Err(err).
				Str("nodeID", nodeID).Str("property", k).Msg("blob mirror write failed")
		}
	}
}

// rehydrateLargeProperties overwrites large string properties in props
// with the BlobStore's copy when one exists, falling back to the Engine's
// own value on any miss or error. This is what actually exercises Get:
// reads prefer the out-of-band store but never fail because of it.
func (a *Adapter) rehydrateLargeProperties(nodeID string, props map[string]any) {
	if a.blob == nil {
		return
	}
	for k, v := range props {
		s, ok := v.(string)
		if !ok || len(s) <= LargePropertyThreshold {
			continue
		}
		if content, err := a.blob.Get(nodeID, k); err == nil {
			props[k] = string(content)
		}
	}
}

// AddNode creates a node, defaulting Type to NodeMemory and flattening
// props at the write boundary.
func (a *Adapter) AddNode(nodeType NodeType, props map[string]any) (*Node, error) {
	if nodeType == "" {
		nodeType = NodeMemory
	}
	if !IsValidNodeType(nodeType) && nodeType != NodeWatchConfig {
		return nil, NewError(ErrKindValidation, "unknown node type: "+string(nodeType))
	}
	now := time.Now()
	n := &Node{
		ID:         uuid.NewString(),
		Type:       nodeType,
		Properties: FlattenProperties(props),
		Created:    now,
		Updated:    now,
	}
	if err := a.engine.CreateNode(n); err != nil {
		return nil, err
	}
	a.mirrorLargeProperties(n.ID, n.Properties)
	return n, nil
}

// GetNode returns the full, unstripped, unflattened node.
func (a *Adapter) GetNode(id string) (*Node, error) {
	n, err := a.engine.GetNode(id)
	if err != nil {
		return nil, err
	}
	a.rehydrateLargeProperties(id, n.Properties)
	n.Properties = UnflattenProperties(n.Properties)
	return n, nil
}

// UpdateNode merges partialProps into the node's existing properties and
// bumps Updated. Direct writes to lock properties are rejected; only
// pkg/lock may change those, via Engine.CompareAndSwapLock.
func (a *Adapter) UpdateNode(id string, partialProps map[string]any) (*Node, error) {
	for _, k := range []string{PropLockedBy, PropLockedAt, PropLockExpiresAt} {
		if _, present := partialProps[k]; present {
			return nil, NewError(ErrKindValidation, "lock properties are managed by the lock service")
		}
	}
	existing, err := a.engine.GetNode(id)
	if err != nil {
		return nil, err
	}
	flat := FlattenProperties(partialProps)
	for k, v := range flat {
		existing.Properties[k] = v
	}
	existing.Updated = time.Now()
	if err := a.engine.UpdateNode(existing); err != nil {
		return nil, err
	}
	a.mirrorLargeProperties(id, flat)
	out := existing.Clone()
	out.Properties = UnflattenProperties(out.Properties)
	return out, nil
}

// PreviewDeleteNode reports whether deleting id would need confirmation,
// without deleting anything.
func (a *Adapter) PreviewDeleteNode(id string) (*Preview, error) {
	count, err := a.engine.CountIncidentEdges(id)
	if err != nil {
		return nil, err
	}
	if count <= CascadeConfirmThreshold {
		return &Preview{NeedsConfirmation: false, CascadeEdges: count}, nil
	}
	token, err := a.ledger.Issue("deleteNode", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return &Preview{
		NeedsConfirmation: true,
		ConfirmationID:    token,
		ExpiresIn:         int(confirm.TTL.Seconds()),
		CascadeEdges:      count,
	}, nil
}

// DeleteNode deletes id, cascading incident edges. If the cascade would
// exceed CascadeConfirmThreshold, it instead returns a Preview; the
// caller then re-invokes DeleteNode with the Preview's ConfirmationID as
// confirmToken.
func (a *Adapter) DeleteNode(id, confirmToken string) (*ClearResult, *Preview, error) {
	count, err := a.engine.CountIncidentEdges(id)
	if err != nil {
		return nil, nil, err
	}
	if count > CascadeConfirmThreshold {
		params := map[string]any{"id": id}
		if confirmToken == "" {
			p, err := a.PreviewDeleteNode(id)
			return nil, p, err
		}
		if !a.ledger.Validate(confirmToken, "deleteNode", params) {
			return nil, nil, ErrConfirmationInvalid
		}
		a.ledger.Consume(confirmToken)
	}
	edgesDeleted, err := a.engine.DeleteNode(id)
	if err != nil {
		return nil, nil, err
	}
	if a.blob != nil {
		if err := a.blob.DeleteNode(id); err != nil {
			logger := log.WithComponent("graph")
			logger.Warn().Err(err).Str("nodeID", id).Msg("blob cleanup failed")
		}
	}
	return &ClearResult{DeletedNodes: 1, DeletedEdges: edgesDeleted}, nil, nil
}

// containsEdgeTypePairs is the closed set of (source, target) NodeType
// pairs a "contains" edge may connect: todoList nodes contain only todo
// nodes, file nodes contain only fileChunk nodes.
var containsEdgeTypePairs = map[NodeType]NodeType{
	NodeTodoList: NodeTodo,
	NodeFile:     NodeFileChunk,
}

// validateEdgeTypePair enforces the node-type constraints on "contains"
// edges; every other edge type is unconstrained.
func (a *Adapter) validateEdgeTypePair(source, target string, edgeType EdgeType) error {
	if edgeType != EdgeContains {
		return nil
	}
	srcNode, err := a.engine.GetNode(source)
	if err != nil {
		return err
	}
	tgtNode, err := a.engine.GetNode(target)
	if err != nil {
		return err
	}
	want, ok := containsEdgeTypePairs[srcNode.Type]
	if !ok || tgtNode.Type != want {
		return NewError(ErrKindValidation,
			"contains edges may only connect todoList->todo or file->fileChunk, got "+
				string(srcNode.Type)+"->"+string(tgtNode.Type))
	}
	return nil
}

// AddEdge creates an edge; fails ENotFound via Engine if either endpoint
// is missing (Engine.CreateEdge enforces this).
func (a *Adapter) AddEdge(source, target string, edgeType EdgeType, props map[string]any) (*Edge, error) {
	if !IsValidEdgeType(edgeType) {
		return nil, NewError(ErrKindValidation, "unknown edge type: "+string(edgeType))
	}
	if err := a.validateEdgeTypePair(source, target, edgeType); err != nil {
		return nil, err
	}
	e := &Edge{
		ID:         uuid.NewString(),
		Source:     source,
		Target:     target,
		Type:       edgeType,
		Properties: FlattenProperties(props),
		Created:    time.Now(),
	}
	if err := a.engine.CreateEdge(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (a *Adapter) DeleteEdge(id string) (bool, error) {
	if err := a.engine.DeleteEdge(id); err != nil {
		return false, err
	}
	return true, nil
}

// AddNodes performs a best-effort batch create: each item succeeds or is
// recorded in BatchResult.Errors, never aborting the batch.
func (a *Adapter) AddNodes(items []struct {
	Type  NodeType
	Props map[string]any
}) ([]*Node, *BatchResult) {
	result := &BatchResult{}
	out := make([]*Node, 0, len(items))
	for _, item := range items {
		n, err := a.AddNode(item.Type, item.Props)
		if err != nil {
			result.Errors = append(result.Errors, BatchItemError{Error: err.Error()})
			continue
		}
		result.Succeeded++
		out = append(out, n)
	}
	return out, result
}

func (a *Adapter) UpdateNodes(ids []string, partial []map[string]any) ([]*Node, *BatchResult) {
	result := &BatchResult{}
	out := make([]*Node, 0, len(ids))
	for i, id := range ids {
		var props map[string]any
		if i < len(partial) {
			props = partial[i]
		}
		n, err := a.UpdateNode(id, props)
		if err != nil {
			result.Errors = append(result.Errors, BatchItemError{ID: id, Error: err.Error()})
			continue
		}
		result.Succeeded++
		out = append(out, n)
	}
	return out, result
}

func (a *Adapter) DeleteNodes(ids []string) *BatchResult {
	result := &BatchResult{}
	for _, id := range ids {
		res, preview, err := a.DeleteNode(id, "")
		if err != nil {
			result.Errors = append(result.Errors, BatchItemError{ID: id, Error: err.Error()})
			continue
		}
		// A preview means the cascade crossed the confirmation threshold
		// and nothing was deleted; batch deletes carry no token, so the
		// item fails rather than silently no-opping.
		if res == nil || preview != nil {
			result.Errors = append(result.Errors, BatchItemError{ID: id, Error: ErrConfirmationRequired.Error()})
			continue
		}
		result.Succeeded++
	}
	return result
}

func (a *Adapter) AddEdges(items []struct {
	Source, Target string
	Type            EdgeType
	Props           map[string]any
}) ([]*Edge, *BatchResult) {
	result := &BatchResult{}
	out := make([]*Edge, 0, len(items))
	for _, item := range items {
		e, err := a.AddEdge(item.Source, item.Target, item.Type, item.Props)
		if err != nil {
			result.Errors = append(result.Errors, BatchItemError{Error: err.Error()})
			continue
		}
		result.Succeeded++
		out = append(out, e)
	}
	return out, result
}

func (a *Adapter) DeleteEdges(ids []string) *BatchResult {
	result := &BatchResult{}
	for _, id := range ids {
		if err := a.engine.DeleteEdge(id); err != nil {
			result.Errors = append(result.Errors, BatchItemError{ID: id, Error: err.Error()})
			continue
		}
		result.Succeeded++
	}
	return result
}

// QueryNodes returns nodes of the given type (optional) matching equality
// filters on flattened properties, with large fields stripped.
func (a *Adapter) QueryNodes(t NodeType, filters map[string]any) ([]*Node, error) {
	nodes, err := a.engine.QueryNodes(t, FlattenProperties(filters))
	if err != nil {
		return nil, err
	}
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		c := n.Clone()
		c.Properties = StripLargeProperties(c.Properties, "")
		out[i] = c
	}
	return out, nil
}

// SearchNodes delegates to the wired Hybrid Search Engine.
func (a *Adapter) SearchNodes(ctx context.Context, query string, opts map[string]any) ([]*ScoredNode, error) {
	if a.search == nil {
		return nil, NewError(ErrKindSearch, "search engine not wired")
	}
	return a.search(ctx, query, opts)
}

func (a *Adapter) GetEdges(nodeID string, dir Direction) ([]*Edge, error) {
	return a.engine.GetEdges(nodeID, dir)
}

// GetNeighbors performs a BFS out to depth hops, de-duplicating visited
// nodes, optionally restricted to a single edge type.
func (a *Adapter) GetNeighbors(nodeID string, edgeType EdgeType, depth int) ([]*Node, error) {
	if depth <= 0 {
		depth = 1
	}
	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	var out []*Node

	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			edges, err := a.engine.GetEdges(id, DirBoth)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if edgeType != "" && e.Type != edgeType {
					continue
				}
				neighbor := e.Target
				if neighbor == id {
					neighbor = e.Source
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				n, err := a.engine.GetNode(neighbor)
				if err != nil {
					continue
				}
				out = append(out, n)
				next = append(next, neighbor)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return out, nil
}

// GetSubgraph extracts the induced subgraph reachable from nodeID within
// depth hops.
func (a *Adapter) GetSubgraph(nodeID string, depth int) (*Subgraph, error) {
	root, err := a.engine.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	nodes := []*Node{root}
	neighbors, err := a.GetNeighbors(nodeID, "", depth)
	if err != nil {
		return nil, err
	}
	nodes = append(nodes, neighbors...)

	nodeSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		nodeSet[n.ID] = true
	}
	var edges []*Edge
	seen := map[string]bool{}
	for id := range nodeSet {
		es, err := a.engine.GetEdges(id, DirOut)
		if err != nil {
			return nil, err
		}
		for _, e := range es {
			if nodeSet[e.Target] && !seen[e.ID] {
				seen[e.ID] = true
				edges = append(edges, e)
			}
		}
	}
	return &Subgraph{Nodes: nodes, Edges: edges}, nil
}

func (a *Adapter) GetStats() (*Stats, error) { return a.engine.Stats() }

// PreviewClear reports the counts a clear would affect, issuing a
// confirmation token.
func (a *Adapter) PreviewClear(nodeType string) (*Preview, error) {
	stats, err := a.engine.Stats()
	if err != nil {
		return nil, err
	}
	token, err := a.ledger.Issue("clear", map[string]any{"type": nodeType})
	if err != nil {
		return nil, err
	}
	count := int(stats.NodeCount)
	if nodeType != "ALL" {
		count = int(stats.Types[nodeType])
	}
	return &Preview{
		NeedsConfirmation: true,
		ConfirmationID:    token,
		ExpiresIn:         int(confirm.TTL.Seconds()),
		CascadeEdges:      count,
	}, nil
}

// Clear deletes every node of nodeType ("ALL" for everything), cascading
// edges, after a valid confirmToken is presented. Always confirmation-gated.
func (a *Adapter) Clear(nodeType, confirmToken string) (*ClearResult, error) {
	params := map[string]any{"type": nodeType}
	if confirmToken == "" || !a.ledger.Validate(confirmToken, "clear", params) {
		return nil, ErrConfirmationInvalid
	}
	a.ledger.Consume(confirmToken)

	var nodes []*Node
	var err error
	if nodeType == "ALL" {
		nodes, err = a.engine.AllNodes()
	} else {
		nodes, err = a.engine.QueryNodes(NodeType(nodeType), nil)
	}
	if err != nil {
		return nil, err
	}

	result := &ClearResult{}
	for _, n := range nodes {
		edgesDeleted, err := a.engine.DeleteNode(n.ID)
		if err != nil {
			continue
		}
		if a.blob != nil {
			if err := a.blob.DeleteNode(n.ID); err != nil {
				logger := log.WithComponent("graph")
				logger.Warn().Err(err).Str("nodeID", n.ID).Msg("blob cleanup failed")
			}
		}
		result.DeletedNodes++
		result.DeletedEdges += edgesDeleted
	}
	logger := log.WithComponent("graph")
	logger.Info().
		Str("type", nodeType).Int("deletedNodes", result.DeletedNodes).
		Int("deletedEdges", result.DeletedEdges).Msg("cleared nodes")
	return result, nil
}

func (a *Adapter) Close() error { return a.engine.Close() }

// Engine exposes the underlying storage engine for collaborators that
// need direct read access (pkg/search, pkg/indexer, pkg/lock) without
// re-deriving a second Adapter.
func (a *Adapter) Engine() Engine { return a.engine }
