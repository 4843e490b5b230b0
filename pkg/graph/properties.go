package graph

import (
	"encoding/json"
	"sort"
	"strings"
)

// FlattenProperties flattens nested maps into "a_b_c" keys and serializes
// arrays of objects under "<key>_raw_json". Arrays of primitives are
// preserved as-is. The input is not mutated.
func FlattenProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	flattenInto(out, "", props)
	return out
}

func flattenInto(out map[string]any, prefix string, v map[string]any) {
	for k, val := range v {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch t := val.(type) {
		case map[string]any:
			flattenInto(out, key, t)
		case []any:
			if isPrimitiveArray(t) {
				out[key] = t
			} else {
				raw, err := json.Marshal(t)
				if err != nil {
					raw = []byte("[]")
				}
				out[key+"_raw_json"] = string(raw)
			}
		default:
			out[key] = val
		}
	}
}

func isPrimitiveArray(arr []any) bool {
	for _, v := range arr {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

// UnflattenProperties attempts to reconstruct nested objects from
// "a_b_c"-style flat keys. Reconstruction is best-effort: when a key
// prefix is ambiguous (e.g. both "a" and "a_b" exist as leaves), the
// flat keys are preserved as-is rather than guessing. Keys ending in
// "_raw_json" are decoded back into their original array-of-object
// shape under the key with the suffix removed.
func UnflattenProperties(flat map[string]any) map[string]any {
	// Detect ambiguity: a key is a "leaf conflict" if some other key uses
	// it as a strict prefix segment (k + "_" + ...) AND it also exists as
	// a standalone leaf itself.
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ambiguous := make(map[string]bool)
	for _, k := range keys {
		if _, isLeaf := flat[k]; !isLeaf {
			continue
		}
		prefix := k + "_"
		for _, other := range keys {
			if other != k && strings.HasPrefix(other, prefix) {
				ambiguous[k] = true
				break
			}
		}
	}
	if len(ambiguous) > 0 {
		// Can't safely nest without collapsing a real leaf; hand back the
		// flat map verbatim (still decoding _raw_json for convenience).
		return decodeRawJSONSuffixes(flat)
	}

	out := make(map[string]any)
	for _, k := range keys {
		v := flat[k]
		if strings.HasSuffix(k, "_raw_json") {
			base := strings.TrimSuffix(k, "_raw_json")
			var decoded []any
			if s, ok := v.(string); ok {
				if err := json.Unmarshal([]byte(s), &decoded); err == nil {
					setNested(out, strings.Split(base, "_"), decoded)
					continue
				}
			}
			setNested(out, strings.Split(k, "_"), v)
			continue
		}
		parts := strings.Split(k, "_")
		setNested(out, parts, v)
	}
	return out
}

func decodeRawJSONSuffixes(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if strings.HasSuffix(k, "_raw_json") {
			base := strings.TrimSuffix(k, "_raw_json")
			if s, ok := v.(string); ok {
				var decoded []any
				if err := json.Unmarshal([]byte(s), &decoded); err == nil {
					out[base] = decoded
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

func setNested(out map[string]any, parts []string, v any) {
	if len(parts) == 1 {
		out[parts[0]] = v
		return
	}
	child, ok := out[parts[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		out[parts[0]] = child
	}
	setNested(child, parts[1:], v)
}

// StripLargeProperties replaces any string property longer than
// LargePropertyThreshold bytes with a length indicator (non-string
// values pass through unchanged), for use in
// list/search responses. Full content is only returned by a
// single-node fetch. When needle is non-empty, matching line numbers
// are attached for string values.
func StripLargeProperties(props map[string]any, needle string) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		s, isString := v.(string)
		if !isString {
			out[k] = v
			continue
		}
		if len(s) <= LargePropertyThreshold {
			out[k] = v
			continue
		}
		stripped := map[string]any{
			"_stripped": true,
			"_length":   len(s),
		}
		if needle != "" {
			if lines := matchingLines(s, needle); len(lines) > 0 {
				stripped["_matchingLines"] = lines
				stripped["_snippet"] = snippetAround(s, needle)
			}
		}
		out[k] = stripped
	}
	return out
}

func matchingLines(text, needle string) []int {
	var lines []int
	needleLower := strings.ToLower(needle)
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), needleLower) {
			lines = append(lines, i+1)
		}
	}
	return lines
}

func snippetAround(text, needle string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(needle))
	if idx < 0 {
		if len(text) > 200 {
			return text[:200]
		}
		return text
	}
	start := idx - 80
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + 80
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// EncodedSize returns the approximate UTF-8 byte size of v when encoded
// as canonical JSON; used by the context filter to measure reduction
// percentages.
func EncodedSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
