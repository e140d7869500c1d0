package store

import (
	"strings"

	"github.com/rcliao/epicgraph/internal/model"
)

// project copies only the given dotted paths of body. Arrays along a path are
// traversed element-wise, keeping element positions.
func project(body map[string]any, paths []string) map[string]any {
	out := map[string]any{}
	for _, p := range paths {
		projectInto(out, body, strings.Split(p, "."))
	}
	return out
}

func projectInto(dst, src map[string]any, segs []string) {
	v, ok := src[segs[0]]
	if !ok {
		return
	}
	if len(segs) == 1 {
		dst[segs[0]] = model.CopyValue(v)
		return
	}
	switch t := v.(type) {
	case map[string]any:
		sub, _ := dst[segs[0]].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			dst[segs[0]] = sub
		}
		projectInto(sub, t, segs[1:])
	case []any:
		list, _ := dst[segs[0]].([]any)
		if len(list) != len(t) {
			list = make([]any, len(t))
			dst[segs[0]] = list
		}
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sub, _ := list[i].(map[string]any)
			if sub == nil {
				sub = map[string]any{}
				list[i] = sub
			}
			projectInto(sub, m, segs[1:])
		}
	}
}

// valuesAt returns every leaf value found at a dotted path, flattening arrays.
func valuesAt(body map[string]any, path string) []any {
	var out []any
	var walk func(v any, segs []string)
	walk = func(v any, segs []string) {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				walk(item, segs)
			}
			return
		}
		if len(segs) == 0 {
			if v != nil {
				out = append(out, v)
			}
			return
		}
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		next, ok := m[segs[0]]
		if !ok {
			return
		}
		walk(next, segs[1:])
	}
	walk(body, strings.Split(path, "."))
	return out
}
