// Package watchconfig implements the watch config store: each
// WatchConfig is persisted as a dedicated NodeType inside the graph
// (graph.NodeWatchConfig) rather than a side file, so recovery after a
// crash or restart is automatic, the same "derive everything from the
// graph" posture pkg/graph's Adapter already takes for search indexes.
package watchconfig

import (
	"time"

	"github.com/mimirhq/mimir/pkg/graph"
)

// Status is the lifecycle state of a registered folder.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// WatchConfig is one registered folder.
type WatchConfig struct {
	ID                string
	Path              string
	HostPath          string
	Recursive         bool
	DebounceMs        int
	FilePatterns      []string
	IgnorePatterns    []string
	GenerateEmbeddings bool
	Status            Status
	AddedDate         time.Time
	LastIndexed       *time.Time
	LastUpdated       *time.Time
	FilesIndexed      int
	Error             string
}

// Store persists WatchConfigs as graph.NodeWatchConfig nodes through the
// Graph Store Adapter.
type Store struct {
	adapter *graph.Adapter
}

func New(adapter *graph.Adapter) *Store {
	return &Store{adapter: adapter}
}

func toProps(c *WatchConfig) map[string]any {
	props := map[string]any{
		"path":               c.Path,
		"hostPath":           c.HostPath,
		"recursive":          c.Recursive,
		"debounceMs":         c.DebounceMs,
		"filePatterns":       toAnySlice(c.FilePatterns),
		"ignorePatterns":     toAnySlice(c.IgnorePatterns),
		"generateEmbeddings": c.GenerateEmbeddings,
		"status":             string(c.Status),
		"addedDate":          c.AddedDate.Format(time.RFC3339),
		"filesIndexed":       c.FilesIndexed,
		"error":              c.Error,
	}
	if c.LastIndexed != nil {
		props["lastIndexed"] = c.LastIndexed.Format(time.RFC3339)
	}
	if c.LastUpdated != nil {
		props["lastUpdated"] = c.LastUpdated.Format(time.RFC3339)
	}
	return props
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, a := range arr {
		if s, ok := a.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func fromNode(n *graph.Node) *WatchConfig {
	p := n.Properties
	c := &WatchConfig{
		ID:                 n.ID,
		Path:               stringProp(p, "path"),
		HostPath:           stringProp(p, "hostPath"),
		Recursive:          boolProp(p, "recursive"),
		DebounceMs:         intProp(p, "debounceMs"),
		FilePatterns:       toStringSlice(p["filePatterns"]),
		IgnorePatterns:     toStringSlice(p["ignorePatterns"]),
		GenerateEmbeddings: boolProp(p, "generateEmbeddings"),
		Status:             Status(stringProp(p, "status")),
		FilesIndexed:       intProp(p, "filesIndexed"),
		Error:              stringProp(p, "error"),
	}
	if s := stringProp(p, "addedDate"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			c.AddedDate = t
		}
	}
	if s := stringProp(p, "lastIndexed"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			c.LastIndexed = &t
		}
	}
	if s := stringProp(p, "lastUpdated"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			c.LastUpdated = &t
		}
	}
	return c
}

func stringProp(p map[string]any, k string) string {
	s, _ := p[k].(string)
	return s
}
func boolProp(p map[string]any, k string) bool {
	b, _ := p[k].(bool)
	return b
}
func intProp(p map[string]any, k string) int {
	switch v := p[k].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Register persists a new WatchConfig, defaulting AddedDate/Status.
func (s *Store) Register(c *WatchConfig) (*WatchConfig, error) {
	if c.AddedDate.IsZero() {
		c.AddedDate = time.Now()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	n, err := s.adapter.AddNode(graph.NodeWatchConfig, toProps(c))
	if err != nil {
		return nil, err
	}
	c.ID = n.ID
	return c, nil
}

// Update persists changes to an existing WatchConfig.
func (s *Store) Update(c *WatchConfig) error {
	now := time.Now()
	c.LastUpdated = &now
	_, err := s.adapter.UpdateNode(c.ID, toProps(c))
	return err
}

// MarkInactive flips status to inactive with a reason, e.g.
// "path_not_found" on startup recovery.
func (s *Store) MarkInactive(id, reason string) error {
	_, err := s.adapter.UpdateNode(id, map[string]any{
		"status": string(StatusInactive),
		"error":  reason,
	})
	return err
}

// Remove deletes a WatchConfig.
func (s *Store) Remove(id string) error {
	_, _, err := s.adapter.DeleteNode(id, "")
	return err
}

// ListActive returns every WatchConfig whose status is active, for the
// watch manager to re-attach to on startup.
func (s *Store) ListActive() ([]*WatchConfig, error) {
	nodes, err := s.adapter.QueryNodes(graph.NodeWatchConfig, map[string]any{"status": string(StatusActive)})
	if err != nil {
		return nil, err
	}
	out := make([]*WatchConfig, len(nodes))
	for i, n := range nodes {
		full, err := s.adapter.GetNode(n.ID)
		if err != nil {
			out[i] = fromNode(n)
			continue
		}
		out[i] = fromNode(full)
	}
	return out, nil
}

// Get returns one WatchConfig by id.
func (s *Store) Get(id string) (*WatchConfig, error) {
	n, err := s.adapter.GetNode(id)
	if err != nil {
		return nil, err
	}
	return fromNode(n), nil
}
