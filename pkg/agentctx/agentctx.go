// Package agentctx implements the context filter: a per-agent-type
// projection of a task's properties, sized against a canonical JSON
// encoding so a worker agent never sees more than it needs to do its
// job.
package agentctx

import (
	"reflect"

	"github.com/mimirhq/mimir/pkg/graph"
)

// AgentType selects a projection scope.
type AgentType string

const (
	AgentPM     AgentType = "pm"
	AgentWorker AgentType = "worker"
	AgentQC     AgentType = "qc"
)

// workerFields is the exact allowed-fields list for the worker scope.
var workerFields = []string{
	"taskId", "title", "requirements", "description",
	"files", "dependencies", "status", "priority",
	"workerRole", "attemptNumber", "maxRetries", "errorContext",
}

// qcExtraFields extends workerFields for the qc scope.
var qcExtraFields = []string{
	"originalRequirements", "workerOutput", "verificationCriteria", "qcRole",
}

const (
	filesCap        = 10
	dependenciesCap = 5
)

// Metrics reports the size reduction achieved by filtering.
type Metrics struct {
	OriginalSize    int      `json:"originalSize"`
	FilteredSize    int      `json:"filteredSize"`
	ReductionPercent float64 `json:"reductionPercent"`
	FieldsRemoved   []string `json:"fieldsRemoved"`
	FieldsRetained  []string `json:"fieldsRetained"`
}

// Filter builds scoped task contexts through the Graph Store Adapter.
type Filter struct {
	adapter *graph.Adapter
}

func New(adapter *graph.Adapter) *Filter {
	return &Filter{adapter: adapter}
}

// GetTaskContext loads taskID and projects it to agentType's scope,
// returning the projected context and its reduction metrics.
func (f *Filter) GetTaskContext(taskID string, agentType AgentType) (map[string]any, *Metrics, error) {
	node, err := f.adapter.GetNode(taskID)
	if err != nil {
		return nil, nil, err
	}

	full := fullContext(node)
	if agentType == AgentPM {
		if sub, err := f.adapter.GetSubgraph(taskID, 2); err == nil {
			full["subgraph"] = sub
		}
	}

	filtered := project(full, agentType)
	metrics := computeMetrics(full, filtered)
	return filtered, metrics, nil
}

// fullContext builds the PM-scope base context from a task node's
// properties.
func fullContext(n *graph.Node) map[string]any {
	ctx := make(map[string]any, len(n.Properties)+1)
	for k, v := range n.Properties {
		ctx[k] = v
	}
	ctx["taskId"] = n.ID
	return ctx
}

// project narrows full to agentType's allowed-fields list, applying the
// files/dependencies caps.
func project(full map[string]any, agentType AgentType) map[string]any {
	if agentType == AgentPM {
		return full
	}

	allowed := append([]string(nil), workerFields...)
	if agentType == AgentQC {
		allowed = append(allowed, qcExtraFields...)
	}

	out := make(map[string]any, len(allowed))
	for _, field := range allowed {
		v, ok := full[field]
		if !ok {
			continue
		}
		switch field {
		case "files":
			v = capSlice(v, filesCap)
		case "dependencies":
			v = capSlice(v, dependenciesCap)
		}
		out[field] = v
	}
	return out
}

// capSlice truncates v to limit elements. It uses reflection rather
// than a []any type assertion because "files"/"dependencies" may arrive
// as a concrete-element slice ([]string etc.) from an in-process caller
// as easily as a decoded []any from JSON.
func capSlice(v any, limit int) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Len() <= limit {
		return v
	}
	return rv.Slice(0, limit).Interface()
}

// computeMetrics measures full vs. filtered under canonical JSON
// encoding.
func computeMetrics(full, filtered map[string]any) *Metrics {
	originalSize := graph.EncodedSize(full)
	filteredSize := graph.EncodedSize(filtered)

	var reduction float64
	if originalSize > 0 {
		reduction = (1 - float64(filteredSize)/float64(originalSize)) * 100
	}

	removed := make([]string, 0)
	retained := make([]string, 0, len(filtered))
	for k := range full {
		if _, kept := filtered[k]; kept {
			retained = append(retained, k)
		} else {
			removed = append(removed, k)
		}
	}

	return &Metrics{
		OriginalSize:     originalSize,
		FilteredSize:     filteredSize,
		ReductionPercent: reduction,
		FieldsRemoved:    removed,
		FieldsRetained:   retained,
	}
}
