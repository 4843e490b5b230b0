// Package lock implements the lock service: optimistic
// per-node locks with expiry, backed by the Graph Store Adapter's
// compare-and-swap primitive (graph.Engine.CompareAndSwapLock) so lock
// transitions are linearizable per node even across multiple lock
// service instances sharing one store. Agents, not goroutines, are the
// contenders, so lock state lives in persisted node fields rather than
// an in-process mutex map.
package lock

import (
	"time"

	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/log"
)

// DefaultTimeout is the lock expiry applied when Acquire is called
// without an explicit timeout.
const DefaultTimeout = 5 * time.Minute

// Service holds no lock state itself: every transition is a CAS
// against the node's lock properties in the graph adapter's underlying
// engine. Lock fields on a node are managed only through this service.
type Service struct {
	adapter *graph.Adapter
}

func New(adapter *graph.Adapter) *Service {
	return &Service{adapter: adapter}
}

// Acquire atomically locks nodeID for agentID if it is currently
// unlocked or its prior lock has expired. timeout of 0 uses
// DefaultTimeout.
func (s *Service) Acquire(nodeID, agentID string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := time.Now()
	ok, err := s.adapter.Engine().CompareAndSwapLock(nodeID, graph.LockCAS{
		ExpectFree:   true,
		NewHolder:    agentID,
		NewExpiresAt: now.Add(timeout),
	}, now)
	if err != nil {
		return false, err
	}
	logger := log.WithComponent("lock")
	logger.Debug().
		Str("nodeId", nodeID).Str("agentId", agentID).Bool("acquired", ok).Msg("acquire")
	return ok, nil
}

// Release clears nodeID's lock iff agentID currently holds it.
func (s *Service) Release(nodeID, agentID string) (bool, error) {
	ok, err := s.adapter.Engine().CompareAndSwapLock(nodeID, graph.LockCAS{
		ExpectHolder: agentID,
	}, time.Now())
	if err != nil {
		return false, err
	}
	logger := log.WithComponent("lock")
	logger.Debug().
		Str("nodeId", nodeID).Str("agentId", agentID).Bool("released", ok).Msg("release")
	return ok, nil
}

// QueryAvailable returns nodes of the given type (optional) matching
// filters, whose lock is absent or expired.
func (s *Service) QueryAvailable(nodeType graph.NodeType, filters map[string]any) ([]*graph.Node, error) {
	nodes, err := s.adapter.QueryNodes(nodeType, filters)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]*graph.Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.IsLocked(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Cleanup clears every expired lock across all nodes, returning the
// count cleared. Intended to be called on a timer.
func (s *Service) Cleanup() (int, error) {
	nodes, err := s.adapter.Engine().AllNodes()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	cleared := 0
	for _, n := range nodes {
		by, _ := n.Properties[graph.PropLockedBy].(string)
		if by == "" {
			continue
		}
		if n.IsLocked(now) {
			continue // still valid, not expired
		}
		ok, err := s.adapter.Engine().CompareAndSwapLock(n.ID, graph.LockCAS{ExpectHolder: by}, now)
		if err != nil {
			continue
		}
		if ok {
			cleared++
		}
	}
	if cleared > 0 {
		logger := log.WithComponent("lock")
		logger.Info().Int("cleared", cleared).Msg("swept expired locks")
	}
	return cleared, nil
}

// RunSweeper runs Cleanup on interval until stop is closed. Intended to
// be launched as the process-wide sweeper goroutine alongside the
// confirmation ledger's own sweeper.
func (s *Service) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.Cleanup(); err != nil {
				logger := log.WithComponent("lock")
				logger.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}
