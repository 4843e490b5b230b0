package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mimirhq/mimir/pkg/graph"
)

func TestFlattenThenUnflattenRoundTrip(t *testing.T) {
	nested := map[string]any{
		"name": "alice",
		"address": map[string]any{
			"city": "NYC",
			"zip":  "10001",
		},
	}
	flat := graph.FlattenProperties(nested)
	assert.Equal(t, "alice", flat["name"])
	assert.Equal(t, "NYC", flat["address_city"])
	assert.Equal(t, "10001", flat["address_zip"])

	back := graph.UnflattenProperties(flat)
	assert.Equal(t, nested, back)
}

func TestUnflattenThenFlattenRoundTrip(t *testing.T) {
	flat := map[string]any{
		"title":         "note",
		"author_name":   "bob",
		"author_age":    float64(42),
		"tags":          []any{"a", "b"},
	}
	nested := graph.UnflattenProperties(flat)
	back := graph.FlattenProperties(nested)
	assert.Equal(t, flat, back)
}

func TestUnflattenPreservesAmbiguousLeafVerbatim(t *testing.T) {
	// "a" exists both as a standalone leaf and as the prefix of "a_b": it
	// cannot be safely nested without discarding one of the two, so
	// UnflattenProperties must hand the flat keys back untouched.
	flat := map[string]any{
		"a":   "leaf",
		"a_b": "nested",
	}
	out := graph.UnflattenProperties(flat)
	assert.Equal(t, flat, out)
}

func TestUnflattenDecodesRawJSONArrayOfObjects(t *testing.T) {
	nested := map[string]any{
		"items": []any{
			map[string]any{"x": float64(1)},
			map[string]any{"x": float64(2)},
		},
	}
	flat := graph.FlattenProperties(nested)
	raw, ok := flat["items_raw_json"].(string)
	assert.True(t, ok)
	assert.Contains(t, raw, `"x":1`)

	back := graph.UnflattenProperties(flat)
	assert.Equal(t, nested, back)
}

func TestUnflattenDecodesRawJSONArrayEvenWhenAmbiguous(t *testing.T) {
	// Ambiguity short-circuits nesting (see
	// TestUnflattenPreservesAmbiguousLeafVerbatim) but _raw_json suffixes
	// must still decode for convenience, per properties.go's
	// decodeRawJSONSuffixes fallback path.
	flat := map[string]any{
		"tag":          "leaf",
		"tag_x":        "ambiguous sibling",
		"items_raw_json": `[{"x":1}]`,
	}
	out := graph.UnflattenProperties(flat)
	assert.Equal(t, []any{map[string]any{"x": float64(1)}}, out["items"])
	assert.Equal(t, "leaf", out["tag"])
	assert.Equal(t, "ambiguous sibling", out["tag_x"])
}

func TestFlattenPreservesPrimitiveArrays(t *testing.T) {
	nested := map[string]any{"tags": []any{"x", "y", "z"}}
	flat := graph.FlattenProperties(nested)
	assert.Equal(t, []any{"x", "y", "z"}, flat["tags"])
	_, hasRawJSON := flat["tags_raw_json"]
	assert.False(t, hasRawJSON)
}
