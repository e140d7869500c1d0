// Package model defines the entity and reference types shared by the store,
// the cache and the graph engine.
package model

import (
	"encoding/json"
	"fmt"
)

// Reserved keys inside a relationship reference.
const (
	IDKey     = "_id"
	OwnKey    = "own"
	FieldsKey = "fields"
)

// Entity is a typed, identified document. Body is JSON shaped: maps, slices,
// strings, float64, bools and nils only.
type Entity struct {
	ID    string         `json:"_id"`
	Type  string         `json:"_type"`
	Index string         `json:"_index,omitempty"`
	Body  map[string]any `json:"_source,omitempty"`
	Dirty bool           `json:"-"`
}

// Key is the cache key of an entity: id followed by type.
func (e *Entity) Key() string {
	return EntityKey(e.Type, e.ID)
}

// EntityKey builds the cache key for the given type and id.
func EntityKey(typ, id string) string {
	return id + typ
}

// Clone returns a deep copy of the entity. The dirty flag is not copied.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := &Entity{ID: e.ID, Type: e.Type, Index: e.Index}
	if e.Body != nil {
		c.Body = CopyMap(e.Body)
	}
	return c
}

// Ref identifies an entity without its body.
type Ref struct {
	ID   string `json:"_id"`
	Type string `json:"_type"`
}

// IndexFor returns the collection name used for a type when none is given.
func IndexFor(typ, index string) string {
	if index != "" {
		return index
	}
	return typ + "s"
}

// NewRef builds a relationship reference value for a body.
func NewRef(id string, own bool) map[string]any {
	ref := map[string]any{IDKey: id}
	if own {
		ref[OwnKey] = true
	}
	return ref
}

// RefID returns the id carried by a reference value, or "".
func RefID(v any) string {
	switch r := v.(type) {
	case map[string]any:
		id, _ := r[IDKey].(string)
		return id
	case string:
		return r
	}
	return ""
}

// IsOwn reports whether a reference was directly authored.
func IsOwn(v any) bool {
	r, ok := v.(map[string]any)
	if !ok {
		return false
	}
	own, _ := r[OwnKey].(bool)
	return own
}

// RefFields returns the resolved body of a reference, if any.
func RefFields(v any) map[string]any {
	r, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	f, _ := r[FieldsKey].(map[string]any)
	return f
}

// Refs flattens a relationship value (one reference or a list) into references.
// Entries without an id are dropped.
func Refs(v any) []map[string]any {
	var out []map[string]any
	switch r := v.(type) {
	case map[string]any:
		if RefID(r) != "" {
			out = append(out, r)
		}
	case []any:
		for _, item := range r {
			if m, ok := item.(map[string]any); ok && RefID(m) != "" {
				out = append(out, m)
			}
		}
	}
	return out
}

// RefIDs returns the ids of every reference in a relationship value.
func RefIDs(v any) []string {
	refs := Refs(v)
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, RefID(r))
	}
	return ids
}

// HasRef reports whether a relationship value references id.
func HasRef(v any, id string) bool {
	for _, r := range Refs(v) {
		if RefID(r) == id {
			return true
		}
	}
	return false
}

// Normalize converts an arbitrary Go value into its JSON shaped equivalent.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// NormalizeMap is Normalize for maps.
func NormalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	v, err := Normalize(m)
	if err != nil {
		return nil, err
	}
	out, _ := v.(map[string]any)
	return out, nil
}

// CopyValue deep-copies a JSON shaped value.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CopyValue(item)
		}
		return out
	default:
		return t
	}
}

// CopyMap deep-copies a JSON shaped map.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}
