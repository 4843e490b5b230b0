// Package retention implements the data-retention sweep: per-NodeType
// expiry windows that periodically delete nodes older than their
// window through the graph adapter.
package retention

import (
	"fmt"
	"time"

	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/log"
)

// Config is the retention section of process configuration.
type Config struct {
	Enabled      bool
	DefaultDays  int
	PolicyDays   map[graph.NodeType]int // per-type override of DefaultDays
	SweepInterval time.Duration
}

// DefaultSweepInterval is the sweep cadence when none is configured.
const DefaultSweepInterval = 24 * time.Hour

// Sweeper periodically clears nodes of each configured type whose
// updatedAt is older than that type's retention window.
type Sweeper struct {
	adapter *graph.Adapter
	cfg     Config
	stop    chan struct{}
}

func NewSweeper(adapter *graph.Adapter, cfg Config) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 365
	}
	return &Sweeper{adapter: adapter, cfg: cfg, stop: make(chan struct{})}
}

// windowFor returns the retention window for nodeType, falling back to
// DefaultDays when no per-type override is configured.
func (s *Sweeper) windowFor(nodeType graph.NodeType) time.Duration {
	days := s.cfg.DefaultDays
	if d, ok := s.cfg.PolicyDays[nodeType]; ok {
		days = d
	}
	return time.Duration(days) * 24 * time.Hour
}

// Run starts the periodic sweep; it blocks until Stop is called.
func (s *Sweeper) Run() {
	if !s.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SweepOnce(); err != nil {
				log.WithComponent("retention").Warn().Err(err).Msg("sweep failed")
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) Stop() { close(s.stop) }

// SweepOnce runs one retention pass across every NodeType, using its
// PolicyDays override or else DefaultDays as the window, expiring nodes
// older than their window through the
// confirmation-gated delete flow (see clearExpired).
func (s *Sweeper) SweepOnce() error {
	if !s.cfg.Enabled {
		return nil
	}
	logger := log.WithComponent("retention")
	now := time.Now()

	for _, nodeType := range graph.ValidNodeTypes {
		window := s.windowFor(nodeType)
		expired, err := s.expiredNodes(nodeType, now, window)
		if err != nil {
			logger.Warn().Err(err).Str("type", string(nodeType)).Msg("scanning for expiry failed")
			continue
		}
		if len(expired) == 0 {
			continue
		}
		if err := s.clearExpired(expired); err != nil {
			logger.Warn().Err(err).Str("type", string(nodeType)).Int("count", len(expired)).Msg("clearing expired nodes failed")
			continue
		}
		logger.Info().Str("type", string(nodeType)).Int("count", len(expired)).Msg("retention swept expired nodes")
	}
	return nil
}

func (s *Sweeper) expiredNodes(nodeType graph.NodeType, now time.Time, window time.Duration) ([]*graph.Node, error) {
	nodes, err := s.adapter.QueryNodes(nodeType, nil)
	if err != nil {
		return nil, err
	}
	var expired []*graph.Node
	for _, n := range nodes {
		if now.Sub(n.Updated) >= window {
			expired = append(expired, n)
		}
	}
	return expired, nil
}

// clearExpired deletes every expired node through the adapter's
// confirmation-gated delete flow. The sweep is unattended, so when a
// cascade crosses the confirmation threshold it confirms its own
// preview with the issued token, the same two-step flow an interactive
// caller would follow. Per-node failures are counted without aborting
// the rest of the batch.
func (s *Sweeper) clearExpired(nodes []*graph.Node) error {
	failed := 0
	firstErr := ""
	for _, n := range nodes {
		res, preview, err := s.adapter.DeleteNode(n.ID, "")
		if err == nil && res == nil && preview != nil {
			res, _, err = s.adapter.DeleteNode(n.ID, preview.ConfirmationID)
		}
		if err != nil || res == nil {
			failed++
			if firstErr == "" {
				if err != nil {
					firstErr = err.Error()
				} else {
					firstErr = "delete returned no result"
				}
			}
		}
	}
	if failed > 0 {
		return graph.NewError(graph.ErrKindStorage,
			fmt.Sprintf("retention sweep: %d of %d deletes failed: %s", failed, len(nodes), firstErr))
	}
	return nil
}
