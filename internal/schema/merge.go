// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schema

// nameKey is the key used to match entries when merging lists of objects
// (devices, electrode groups, series specs all carry a "name").
const nameKey = "name"

// DeepUpdate merges src into dst recursively and returns dst. Nested maps
// merge key by key. Lists merge with these rules: entries that are objects
// carrying a "name" key update the dst entry with the same name (or append
// when no match exists); scalar entries append unless already present.
// All other values from src replace the dst value.
func DeepUpdate(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, sv := range src {
		dv, exists := dst[key]
		if !exists {
			dst[key] = sv
			continue
		}

		switch svt := sv.(type) {
		case map[string]any:
			if dvt, ok := dv.(map[string]any); ok {
				dst[key] = DeepUpdate(dvt, svt)
				continue
			}
		case []any:
			if dvt, ok := dv.([]any); ok {
				dst[key] = mergeLists(dvt, svt)
				continue
			}
		}
		dst[key] = sv
	}
	return dst
}

func mergeLists(dst, src []any) []any {
	for _, sv := range src {
		sm, isMap := sv.(map[string]any)
		name, hasName := "", false
		if isMap {
			if n, ok := sm[nameKey].(string); ok {
				name, hasName = n, true
			}
		}

		if hasName {
			merged := false
			for i, dv := range dst {
				dm, ok := dv.(map[string]any)
				if !ok {
					continue
				}
				if dn, ok := dm[nameKey].(string); ok && dn == name {
					dst[i] = DeepUpdate(dm, sm)
					merged = true
					break
				}
			}
			if !merged {
				dst = append(dst, sm)
			}
			continue
		}

		if !containsValue(dst, sv) {
			dst = append(dst, sv)
		}
	}
	return dst
}

// containsValue reports whether list holds an element equal to v.
// Only scalar comparisons are meaningful here; maps and slices never match.
func containsValue(list []any, v any) bool {
	if !isScalar(v) {
		return false
	}
	for _, e := range list {
		if isScalar(e) && e == v {
			return true
		}
	}
	return false
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}
