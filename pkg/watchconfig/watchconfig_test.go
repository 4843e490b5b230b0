package watchconfig_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/pkg/confirm"
	"github.com/mimirhq/mimir/pkg/graph"
	"github.com/mimirhq/mimir/pkg/watchconfig"
)

func newStore(t *testing.T) *watchconfig.Store {
	t.Helper()
	adapter := graph.NewAdapter(graph.NewMemoryEngine(), confirm.New())
	return watchconfig.New(adapter)
}

func TestRegisterThenListActive(t *testing.T) {
	store := newStore(t)
	cfg, err := store.Register(&watchconfig.WatchConfig{
		Path:           "/work/project",
		Recursive:      true,
		DebounceMs:     500,
		FilePatterns:   []string{"*.go", "*.md"},
		IgnorePatterns: []string{"node_modules"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ID)
	assert.Equal(t, watchconfig.StatusActive, cfg.Status)

	active, err := store.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "/work/project", active[0].Path)
	assert.ElementsMatch(t, []string{"*.go", "*.md"}, active[0].FilePatterns)
}

func TestMarkInactiveRemovesFromActiveList(t *testing.T) {
	store := newStore(t)
	cfg, err := store.Register(&watchconfig.WatchConfig{Path: "/gone"})
	require.NoError(t, err)

	require.NoError(t, store.MarkInactive(cfg.ID, "path_not_found"))

	active, err := store.ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := store.Get(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, watchconfig.StatusInactive, got.Status)
	assert.Equal(t, "path_not_found", got.Error)
}

func TestUpdatePersistsFilesIndexed(t *testing.T) {
	store := newStore(t)
	cfg, err := store.Register(&watchconfig.WatchConfig{Path: "/w"})
	require.NoError(t, err)

	cfg.FilesIndexed = 42
	require.NoError(t, store.Update(cfg))

	got, err := store.Get(cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.FilesIndexed)
	assert.NotNil(t, got.LastUpdated)
}
