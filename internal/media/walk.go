// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package media

import "github.com/goccy/go-json"

// defaultMaxWalkDepth bounds the structural walk over an arbitrary content
// payload, protecting against pathologically nested or cyclic JSON.
const defaultMaxWalkDepth = 20

// walkStrings visits every string leaf in v (a value produced by
// json.Unmarshal into any — so maps, slices, strings, numbers, bools, nil)
// up to maxDepth, calling visit(s) and replacing the leaf with its return
// value. Deeper-than-maxDepth subtrees are left untouched rather than
// erroring, matching the spec's "depth is bounded to prevent pathological
// payloads" requirement without failing the whole walk.
func walkStrings(v any, maxDepth int, visit func(string) string) any {
	return walk(v, maxDepth)(visit)
}

func walk(v any, depth int) func(func(string) string) any {
	return func(visit func(string) string) any {
		if depth <= 0 {
			return v
		}
		switch t := v.(type) {
		case string:
			return visit(t)
		case map[string]any:
			out := make(map[string]any, len(t))
			for k, child := range t {
				out[k] = walk(child, depth-1)(visit)
			}
			return out
		case []any:
			out := make([]any, len(t))
			for i, child := range t {
				out[i] = walk(child, depth-1)(visit)
			}
			return out
		default:
			return v
		}
	}
}

// DropKeys returns data with every object key satisfying match removed, at
// any nesting depth up to defaultMaxWalkDepth, leaving data unchanged if
// nothing matched or it can't be decoded as JSON. Callers outside this
// package reuse it rather than re-implementing a bounded walk of their own
// (the lifecycle interceptor's field redaction, for instance).
func DropKeys(data json.RawMessage, match func(key string) bool) json.RawMessage {
	if len(data) == 0 {
		return data
	}
	v, err := decodeAny(data)
	if err != nil || v == nil {
		return data
	}
	out, changed := dropKeys(v, defaultMaxWalkDepth, match)
	if !changed {
		return data
	}
	encoded, err := encodeAny(out)
	if err != nil {
		return data
	}
	return encoded
}

func dropKeys(v any, depth int, match func(string) bool) (any, bool) {
	if depth <= 0 {
		return v, false
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		changed := false
		for k, child := range t {
			if match(k) {
				changed = true
				continue
			}
			newChild, childChanged := dropKeys(child, depth-1, match)
			out[k] = newChild
			changed = changed || childChanged
		}
		return out, changed
	case []any:
		out := make([]any, len(t))
		changed := false
		for i, child := range t {
			newChild, childChanged := dropKeys(child, depth-1, match)
			out[i] = newChild
			changed = changed || childChanged
		}
		return out, changed
	default:
		return v, false
	}
}

// collectStrings gathers every string leaf satisfying match, same bounded
// walk as walkStrings but read-only.
func collectStrings(v any, maxDepth int, match func(string) bool) []string {
	var out []string
	var rec func(v any, depth int)
	rec = func(v any, depth int) {
		if depth <= 0 {
			return
		}
		switch t := v.(type) {
		case string:
			if match(t) {
				out = append(out, t)
			}
		case map[string]any:
			for _, child := range t {
				rec(child, depth-1)
			}
		case []any:
			for _, child := range t {
				rec(child, depth-1)
			}
		}
	}
	rec(v, maxDepth)
	return out
}

func decodeAny(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeAny(v any) ([]byte, error) {
	return json.Marshal(v)
}
