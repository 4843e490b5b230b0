package graph

import (
	"sync"
	"time"
)

// MemoryEngine is a thread-safe in-memory Engine implementation:
// RWMutex-guarded maps plus secondary indexes keyed by NodeType.
//
// Use cases: unit tests, small graphs, and as the default engine when no
// persistent store is configured.
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge

	byType    map[NodeType]map[string]struct{}
	outgoing  map[string]map[string]struct{} // nodeID -> edgeID set
	incoming  map[string]map[string]struct{}
	closed    bool
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		byType:   make(map[NodeType]map[string]struct{}),
		outgoing: make(map[string]map[string]struct{}),
		incoming: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryEngine) CreateNode(n *Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return WrapError(ErrKindStorage, "engine closed", nil)
	}
	if _, exists := m.nodes[n.ID]; exists {
		return NewError(ErrKindConflict, "node already exists: "+n.ID)
	}
	m.nodes[n.ID] = n.Clone()
	if m.byType[n.Type] == nil {
		m.byType[n.Type] = make(map[string]struct{})
	}
	m.byType[n.Type][n.ID] = struct{}{}
	return nil
}

func (m *MemoryEngine) GetNode(id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, NewError(ErrKindNotFound, "node not found: "+id)
	}
	return n.Clone(), nil
}

func (m *MemoryEngine) UpdateNode(n *Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.nodes[n.ID]
	if !ok {
		return NewError(ErrKindNotFound, "node not found: "+n.ID)
	}
	if existing.Type != n.Type {
		delete(m.byType[existing.Type], n.ID)
		if m.byType[n.Type] == nil {
			m.byType[n.Type] = make(map[string]struct{})
		}
		m.byType[n.Type][n.ID] = struct{}{}
	}
	m.nodes[n.ID] = n.Clone()
	return nil
}

func (m *MemoryEngine) DeleteNode(id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return 0, NewError(ErrKindNotFound, "node not found: "+id)
	}

	removed := 0
	for edgeID := range m.outgoing[id] {
		m.deleteEdgeLocked(edgeID)
		removed++
	}
	for edgeID := range m.incoming[id] {
		if _, stillExists := m.edges[edgeID]; stillExists {
			m.deleteEdgeLocked(edgeID)
			removed++
		}
	}
	delete(m.outgoing, id)
	delete(m.incoming, id)
	delete(m.byType[n.Type], id)
	delete(m.nodes, id)
	return removed, nil
}

func (m *MemoryEngine) CreateEdge(e *Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[e.Source]; !ok {
		return NewError(ErrKindNotFound, "source node not found: "+e.Source)
	}
	if _, ok := m.nodes[e.Target]; !ok {
		return NewError(ErrKindNotFound, "target node not found: "+e.Target)
	}
	if _, exists := m.edges[e.ID]; exists {
		return NewError(ErrKindConflict, "edge already exists: "+e.ID)
	}
	m.edges[e.ID] = e.Clone()
	m.index(e)
	return nil
}

func (m *MemoryEngine) index(e *Edge) {
	if m.outgoing[e.Source] == nil {
		m.outgoing[e.Source] = make(map[string]struct{})
	}
	m.outgoing[e.Source][e.ID] = struct{}{}
	if m.incoming[e.Target] == nil {
		m.incoming[e.Target] = make(map[string]struct{})
	}
	m.incoming[e.Target][e.ID] = struct{}{}
}

func (m *MemoryEngine) GetEdge(id string) (*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return nil, NewError(ErrKindNotFound, "edge not found: "+id)
	}
	return e.Clone(), nil
}

func (m *MemoryEngine) DeleteEdge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.edges[id]; !ok {
		return NewError(ErrKindNotFound, "edge not found: "+id)
	}
	m.deleteEdgeLocked(id)
	return nil
}

func (m *MemoryEngine) deleteEdgeLocked(id string) {
	e, ok := m.edges[id]
	if !ok {
		return
	}
	if set := m.outgoing[e.Source]; set != nil {
		delete(set, id)
	}
	if set := m.incoming[e.Target]; set != nil {
		delete(set, id)
	}
	delete(m.edges, id)
}

func (m *MemoryEngine) QueryNodes(t NodeType, filters map[string]any) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates map[string]struct{}
	if t != "" {
		candidates = m.byType[t]
	}

	var out []*Node
	match := func(n *Node) bool {
		for k, v := range filters {
			if n.Properties[k] != v {
				return false
			}
		}
		return true
	}

	if candidates != nil {
		for id := range candidates {
			n := m.nodes[id]
			if n != nil && match(n) {
				out = append(out, n.Clone())
			}
		}
		return out, nil
	}
	for _, n := range m.nodes {
		if match(n) {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (m *MemoryEngine) AllNodes() ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.Clone())
	}
	return out, nil
}

func (m *MemoryEngine) AllEdges() ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Edge, 0, len(m.edges))
	for _, e := range m.edges {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *MemoryEngine) GetEdges(nodeID string, dir Direction) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Edge
	if dir == DirOut || dir == DirBoth {
		for id := range m.outgoing[nodeID] {
			out = append(out, m.edges[id].Clone())
		}
	}
	if dir == DirIn || dir == DirBoth {
		for id := range m.incoming[nodeID] {
			out = append(out, m.edges[id].Clone())
		}
	}
	return out, nil
}

func (m *MemoryEngine) CountIncidentEdges(nodeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.outgoing[nodeID]) + len(m.incoming[nodeID]), nil
}

func (m *MemoryEngine) Stats() (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Stats{NodeCount: int64(len(m.nodes)), EdgeCount: int64(len(m.edges)), Types: make(map[string]int64)}
	for t, set := range m.byType {
		if len(set) > 0 {
			s.Types[string(t)] = int64(len(set))
		}
	}
	return s, nil
}

func (m *MemoryEngine) CompareAndSwapLock(nodeID string, req LockCAS, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return false, NewError(ErrKindNotFound, "node not found: "+nodeID)
	}
	if req.ExpectFree {
		if n.IsLocked(now) {
			return false, nil
		}
	}
	if req.ExpectHolder != "" {
		by, _ := n.Properties[PropLockedBy].(string)
		if by != req.ExpectHolder {
			return false, nil
		}
	}

	if n.Properties == nil {
		n.Properties = make(map[string]any)
	}
	if req.NewHolder == "" {
		delete(n.Properties, PropLockedBy)
		delete(n.Properties, PropLockedAt)
		delete(n.Properties, PropLockExpiresAt)
	} else {
		n.Properties[PropLockedBy] = req.NewHolder
		n.Properties[PropLockedAt] = now
		n.Properties[PropLockExpiresAt] = req.NewExpiresAt
	}
	n.Updated = now
	return true, nil
}

func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
