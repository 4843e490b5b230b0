package agentctx_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/pkg/agentctx"
	"github.com/mimirhq/mimir/pkg/confirm"
	"github.com/mimirhq/mimir/pkg/graph"
)

func bigTask(t *testing.T) (*graph.Adapter, *graph.Node) {
	t.Helper()
	adapter := graph.NewAdapter(graph.NewMemoryEngine(), confirm.New())
	files := make([]any, 40)
	for i := range files {
		files[i] = "pkg/module/file_" + strings.Repeat("x", 20) + ".go"
	}
	deps := make([]any, 20)
	for i := range deps {
		deps[i] = "task-dep-" + strings.Repeat("y", 20)
	}
	n, err := adapter.AddNode(graph.NodeTodo, map[string]any{
		"title":                "Implement the hybrid search fan-out",
		"requirements":         strings.Repeat("requirement text. ", 20),
		"description":          strings.Repeat("long design narrative. ", 40),
		"files":                files,
		"dependencies":         deps,
		"status":               "in_progress",
		"priority":             "high",
		"originalRequirements": strings.Repeat("raw stakeholder notes. ", 300),
		"workerOutput":         strings.Repeat("diff output. ", 200),
		"verificationCriteria": strings.Repeat("acceptance criterion. ", 100),
		"internalNotes":        strings.Repeat("pm-only scratch notes never shown downstream. ", 300),
		"stakeholderThread":    strings.Repeat("email thread excerpt. ", 400),
		"budgetDetails":        strings.Repeat("financial line item. ", 300),
	})
	require.NoError(t, err)
	return adapter, n
}

func TestWorkerContextMeetsReductionInvariant(t *testing.T) {
	adapter, n := bigTask(t)
	filter := agentctx.New(adapter)

	full, err := adapter.GetNode(n.ID)
	require.NoError(t, err)
	require.Greater(t, graph.EncodedSize(full.Properties), 40_000)

	ctx, metrics, err := filter.GetTaskContext(n.ID, agentctx.AgentWorker)
	require.NoError(t, err)

	assert.Less(t, metrics.FilteredSize, 5_000)
	assert.GreaterOrEqual(t, metrics.ReductionPercent, 90.0)
	assert.NotContains(t, ctx, "internalNotes")
	assert.NotContains(t, ctx, "stakeholderThread")
	assert.NotContains(t, ctx, "budgetDetails")
	assert.NotContains(t, ctx, "originalRequirements")

	files, ok := ctx["files"].([]any)
	require.True(t, ok)
	assert.LessOrEqual(t, len(files), 10)

	deps, ok := ctx["dependencies"].([]any)
	require.True(t, ok)
	assert.LessOrEqual(t, len(deps), 5)
}

func TestQCContextExtendsWorkerFields(t *testing.T) {
	adapter, n := bigTask(t)
	filter := agentctx.New(adapter)

	ctx, metrics, err := filter.GetTaskContext(n.ID, agentctx.AgentQC)
	require.NoError(t, err)

	assert.Contains(t, ctx, "originalRequirements")
	assert.Contains(t, ctx, "workerOutput")
	assert.Contains(t, ctx, "verificationCriteria")
	assert.NotContains(t, ctx, "internalNotes")
	assert.Greater(t, metrics.ReductionPercent, 0.0)
}

func TestPMContextReturnsFullContextAndSubgraph(t *testing.T) {
	adapter, n := bigTask(t)
	filter := agentctx.New(adapter)

	ctx, metrics, err := filter.GetTaskContext(n.ID, agentctx.AgentPM)
	require.NoError(t, err)

	assert.Contains(t, ctx, "internalNotes")
	assert.Contains(t, ctx, "subgraph")
	assert.Equal(t, 0.0, metrics.ReductionPercent)
}
