package graph

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization. Secondary indexes
// are keyed by NodeType.
const (
	prefixNode     = byte(0x01) // node:<id> -> JSON(Node)
	prefixEdge     = byte(0x02) // edge:<id> -> JSON(Edge)
	prefixTypeIdx  = byte(0x03) // type:<type>\x00<id> -> nil
	prefixOutIdx   = byte(0x04) // out:<nodeID>\x00<edgeID> -> nil
	prefixInIdx    = byte(0x05) // in:<nodeID>\x00<edgeID> -> nil
)

func nodeKey(id string) []byte { return append([]byte{prefixNode}, id...) }
func edgeKey(id string) []byte { return append([]byte{prefixEdge}, id...) }

func typeIndexKey(t NodeType, id string) []byte {
	k := append([]byte{prefixTypeIdx}, t...)
	k = append(k, 0x00)
	return append(k, id...)
}

func typeIndexPrefix(t NodeType) []byte {
	return append(append([]byte{prefixTypeIdx}, t...), 0x00)
}

func outIndexKey(nodeID, edgeID string) []byte {
	k := append([]byte{prefixOutIdx}, nodeID...)
	k = append(k, 0x00)
	return append(k, edgeID...)
}

func outIndexPrefix(nodeID string) []byte {
	return append(append([]byte{prefixOutIdx}, nodeID...), 0x00)
}

func inIndexKey(nodeID, edgeID string) []byte {
	k := append([]byte{prefixInIdx}, nodeID...)
	k = append(k, 0x00)
	return append(k, edgeID...)
}

func inIndexPrefix(nodeID string) []byte {
	return append(append([]byte{prefixInIdx}, nodeID...), 0x00)
}

func extractIDFromIndexKey(key []byte) string {
	idx := -1
	for i := 1; i < len(key); i++ {
		if key[i] == 0x00 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	return string(key[idx+1:])
}

// BadgerEngine is the persistent Engine implementation. Every operation
// runs inside a single Badger transaction so node/edge mutation and
// secondary-index maintenance stay atomic.
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures the engine.
type BadgerOptions struct {
	DataDir    string
	InMemory   bool
	SyncWrites bool
	Logger     badger.Logger
}

func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(opts.Logger)
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, WrapError(ErrKindStorage, "open badger db", err)
	}
	return &BadgerEngine{db: db}, nil
}

func encodeNode(n *Node) ([]byte, error) { return json.Marshal(n) }
func decodeNode(b []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
func encodeEdge(e *Edge) ([]byte, error) { return json.Marshal(e) }
func decodeEdge(b []byte) (*Edge, error) {
	var e Edge
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (b *BadgerEngine) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *BadgerEngine) CreateNode(n *Node) error {
	if n == nil || n.ID == "" {
		return NewError(ErrKindValidation, "node id required")
	}
	if b.isClosed() {
		return NewError(ErrKindStorage, "engine closed")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(n.ID)
		if _, err := txn.Get(key); err == nil {
			return NewError(ErrKindConflict, "node already exists: "+n.ID)
		} else if err != badger.ErrKeyNotFound {
			return WrapError(ErrKindStorage, "get node", err)
		}
		data, err := encodeNode(n)
		if err != nil {
			return WrapError(ErrKindStorage, "encode node", err)
		}
		if err := txn.Set(key, data); err != nil {
			return WrapError(ErrKindStorage, "set node", err)
		}
		return txn.Set(typeIndexKey(n.Type, n.ID), nil)
	})
}

func (b *BadgerEngine) GetNode(id string) (*Node, error) {
	if b.isClosed() {
		return nil, NewError(ErrKindStorage, "engine closed")
	}
	var n *Node
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return NewError(ErrKindNotFound, "node not found: "+id)
		}
		if err != nil {
			return WrapError(ErrKindStorage, "get node", err)
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			n, decodeErr = decodeNode(val)
			return decodeErr
		})
	})
	return n, err
}

func (b *BadgerEngine) UpdateNode(n *Node) error {
	if n == nil || n.ID == "" {
		return NewError(ErrKindValidation, "node id required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(n.ID)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return NewError(ErrKindNotFound, "node not found: "+n.ID)
		}
		if err != nil {
			return WrapError(ErrKindStorage, "get node", err)
		}
		var existing *Node
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			existing, decodeErr = decodeNode(val)
			return decodeErr
		}); err != nil {
			return err
		}
		if existing.Type != n.Type {
			if err := txn.Delete(typeIndexKey(existing.Type, n.ID)); err != nil {
				return err
			}
			if err := txn.Set(typeIndexKey(n.Type, n.ID), nil); err != nil {
				return err
			}
		}
		data, err := encodeNode(n)
		if err != nil {
			return WrapError(ErrKindStorage, "encode node", err)
		}
		return txn.Set(key, data)
	})
}

func (b *BadgerEngine) DeleteNode(id string) (int, error) {
	removed := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return NewError(ErrKindNotFound, "node not found: "+id)
		}
		if err != nil {
			return WrapError(ErrKindStorage, "get node", err)
		}
		var n *Node
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			n, decodeErr = decodeNode(val)
			return decodeErr
		}); err != nil {
			return err
		}
		if err := txn.Delete(typeIndexKey(n.Type, id)); err != nil {
			return err
		}

		count, err := b.deleteEdgesWithPrefix(txn, outIndexPrefix(id))
		if err != nil {
			return err
		}
		removed += count
		count, err = b.deleteEdgesWithPrefix(txn, inIndexPrefix(id))
		if err != nil {
			return err
		}
		removed += count

		return txn.Delete(key)
	})
	return removed, err
}

func (b *BadgerEngine) deleteEdgesWithPrefix(txn *badger.Txn, prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var edgeIDs []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		edgeIDs = append(edgeIDs, extractIDFromIndexKey(it.Item().KeyCopy(nil)))
	}
	n := 0
	for _, eid := range edgeIDs {
		if err := b.deleteEdgeInTxn(txn, eid); err != nil {
			if ge, ok := err.(*Error); ok && ge.Kind == ErrKindNotFound {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *BadgerEngine) CreateEdge(e *Edge) error {
	if e == nil || e.ID == "" {
		return NewError(ErrKindValidation, "edge id required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := edgeKey(e.ID)
		if _, err := txn.Get(key); err == nil {
			return NewError(ErrKindConflict, "edge already exists: "+e.ID)
		} else if err != badger.ErrKeyNotFound {
			return WrapError(ErrKindStorage, "get edge", err)
		}
		if _, err := txn.Get(nodeKey(e.Source)); err == badger.ErrKeyNotFound {
			return NewError(ErrKindNotFound, "source node not found: "+e.Source)
		} else if err != nil {
			return WrapError(ErrKindStorage, "get source node", err)
		}
		if _, err := txn.Get(nodeKey(e.Target)); err == badger.ErrKeyNotFound {
			return NewError(ErrKindNotFound, "target node not found: "+e.Target)
		} else if err != nil {
			return WrapError(ErrKindStorage, "get target node", err)
		}
		data, err := encodeEdge(e)
		if err != nil {
			return WrapError(ErrKindStorage, "encode edge", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(outIndexKey(e.Source, e.ID), nil); err != nil {
			return err
		}
		return txn.Set(inIndexKey(e.Target, e.ID), nil)
	})
}

func (b *BadgerEngine) GetEdge(id string) (*Edge, error) {
	var e *Edge
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(edgeKey(id))
		if err == badger.ErrKeyNotFound {
			return NewError(ErrKindNotFound, "edge not found: "+id)
		}
		if err != nil {
			return WrapError(ErrKindStorage, "get edge", err)
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			e, decodeErr = decodeEdge(val)
			return decodeErr
		})
	})
	return e, err
}

func (b *BadgerEngine) DeleteEdge(id string) error {
	return b.db.Update(func(txn *badger.Txn) error { return b.deleteEdgeInTxn(txn, id) })
}

func (b *BadgerEngine) deleteEdgeInTxn(txn *badger.Txn, id string) error {
	item, err := txn.Get(edgeKey(id))
	if err == badger.ErrKeyNotFound {
		return NewError(ErrKindNotFound, "edge not found: "+id)
	}
	if err != nil {
		return WrapError(ErrKindStorage, "get edge", err)
	}
	var e *Edge
	if err := item.Value(func(val []byte) error {
		var decodeErr error
		e, decodeErr = decodeEdge(val)
		return decodeErr
	}); err != nil {
		return err
	}
	if err := txn.Delete(outIndexKey(e.Source, id)); err != nil {
		return err
	}
	if err := txn.Delete(inIndexKey(e.Target, id)); err != nil {
		return err
	}
	return txn.Delete(edgeKey(id))
}

func (b *BadgerEngine) QueryNodes(t NodeType, filters map[string]any) ([]*Node, error) {
	var out []*Node
	match := func(n *Node) bool {
		for k, v := range filters {
			if n.Properties[k] != v {
				return false
			}
		}
		return true
	}
	err := b.db.View(func(txn *badger.Txn) error {
		if t == "" {
			opts := badger.DefaultIteratorOptions
			it := txn.NewIterator(opts)
			defer it.Close()
			prefix := []byte{prefixNode}
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var n *Node
				if err := it.Item().Value(func(val []byte) error {
					var decodeErr error
					n, decodeErr = decodeNode(val)
					return decodeErr
				}); err != nil {
					return err
				}
				if match(n) {
					out = append(out, n)
				}
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := typeIndexPrefix(t)
		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, extractIDFromIndexKey(it.Item().KeyCopy(nil)))
		}
		for _, id := range ids {
			item, err := txn.Get(nodeKey(id))
			if err != nil {
				continue
			}
			var n *Node
			if err := item.Value(func(val []byte) error {
				var decodeErr error
				n, decodeErr = decodeNode(val)
				return decodeErr
			}); err != nil {
				return err
			}
			if match(n) {
				out = append(out, n)
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerEngine) AllNodes() ([]*Node, error) {
	var out []*Node
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{prefixNode}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var n *Node
			if err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				n, decodeErr = decodeNode(val)
				return decodeErr
			}); err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

func (b *BadgerEngine) AllEdges() ([]*Edge, error) {
	var out []*Edge
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{prefixEdge}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e *Edge
			if err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				e, decodeErr = decodeEdge(val)
				return decodeErr
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (b *BadgerEngine) GetEdges(nodeID string, dir Direction) ([]*Edge, error) {
	var out []*Edge
	err := b.db.View(func(txn *badger.Txn) error {
		fetch := func(prefix []byte) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			var ids []string
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				ids = append(ids, extractIDFromIndexKey(it.Item().KeyCopy(nil)))
			}
			for _, id := range ids {
				item, err := txn.Get(edgeKey(id))
				if err != nil {
					continue
				}
				var e *Edge
				if err := item.Value(func(val []byte) error {
					var decodeErr error
					e, decodeErr = decodeEdge(val)
					return decodeErr
				}); err != nil {
					return err
				}
				out = append(out, e)
			}
			return nil
		}
		if dir == DirOut || dir == DirBoth {
			if err := fetch(outIndexPrefix(nodeID)); err != nil {
				return err
			}
		}
		if dir == DirIn || dir == DirBoth {
			if err := fetch(inIndexPrefix(nodeID)); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerEngine) CountIncidentEdges(nodeID string) (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		for _, prefix := range [][]byte{outIndexPrefix(nodeID), inIndexPrefix(nodeID)} {
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				count++
			}
			it.Close()
		}
		return nil
	})
	return count, err
}

func (b *BadgerEngine) Stats() (*Stats, error) {
	s := &Stats{Types: make(map[string]int64)}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		prefix := []byte{prefixNode}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			s.NodeCount++
		}
		it.Close()

		it = txn.NewIterator(opts)
		prefix = []byte{prefixEdge}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			s.EdgeCount++
		}
		it.Close()

		for _, t := range ValidNodeTypes {
			it := txn.NewIterator(opts)
			p := typeIndexPrefix(t)
			var n int64
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				n++
			}
			it.Close()
			if n > 0 {
				s.Types[string(t)] = n
			}
		}
		return nil
	})
	return s, err
}

func (b *BadgerEngine) CompareAndSwapLock(nodeID string, req LockCAS, now time.Time) (bool, error) {
	ok := false
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(nodeID))
		if err == badger.ErrKeyNotFound {
			return NewError(ErrKindNotFound, "node not found: "+nodeID)
		}
		if err != nil {
			return WrapError(ErrKindStorage, "get node", err)
		}
		var n *Node
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			n, decodeErr = decodeNode(val)
			return decodeErr
		}); err != nil {
			return err
		}

		if req.ExpectFree && n.IsLocked(now) {
			return nil
		}
		if req.ExpectHolder != "" {
			by, _ := n.Properties[PropLockedBy].(string)
			if by != req.ExpectHolder {
				return nil
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

		data, err := encodeNode(n)
		if err != nil {
			return WrapError(ErrKindStorage, "encode node", err)
		}
		if err := txn.Set(nodeKey(nodeID), data); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
