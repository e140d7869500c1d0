package deep

import (
	"context"
	"fmt"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/store"
)

// getEntity returns the cached copy of an entity, loading the full document
// from the store into the cache when absent. A missing entity is nil.
func (e *Engine) getEntity(ctx context.Context, c *cache.Cache, typ, id string) (*model.Entity, error) {
	if ent := c.Entity(typ, id); ent != nil {
		return ent, nil
	}
	doc, found, err := e.store.Get(ctx, getParams(typ, id))
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", typ, id, err)
	}
	if !found {
		return nil, nil
	}
	return c.LoadOrStoreEntity(doc), nil
}

// prefetch loads the uncached entities among ids with one store round trip.
func (e *Engine) prefetch(ctx context.Context, c *cache.Cache, typ string, ids []string) error {
	var refs []store.DocRef
	for _, id := range ids {
		if c.Entity(typ, id) == nil {
			refs = append(refs, store.DocRef{ID: id, Type: typ})
		}
	}
	if len(refs) < 2 {
		return nil
	}
	docs, err := e.store.MultiGet(ctx, refs)
	if err != nil {
		return fmt.Errorf("load %d %s: %w", len(refs), typ, err)
	}
	for _, doc := range docs {
		if doc != nil {
			c.LoadOrStoreEntity(doc)
		}
	}
	return nil
}

// hop is an entity reached by walking relations, with the edge path that
// led to it: [relation, id, relation, id, ...].
type hop struct {
	entity *model.Entity
	path   []string
}

// entitiesAtPath walks relations from start and returns every entity found
// at the end, once per distinct edge path. Dangling references are skipped.
func (e *Engine) entitiesAtPath(ctx context.Context, c *cache.Cache, start *model.Entity, relations []string) ([]hop, error) {
	frontier := []hop{{entity: start}}
	for _, rel := range relations {
		var next []hop
		for _, h := range frontier {
			f, err := e.relation(h.entity.Type, rel)
			if err != nil {
				return nil, err
			}
			for _, id := range model.RefIDs(h.entity.Body[rel]) {
				ent, err := e.getEntity(ctx, c, f.To, id)
				if err != nil {
					return nil, err
				}
				if ent == nil {
					e.logger.Debugw("dangling reference", "type", h.entity.Type, "id", h.entity.ID, "relation", rel, "target", id)
					continue
				}
				path := append(append([]string(nil), h.path...), rel, id)
				next = append(next, hop{entity: ent, path: path})
			}
		}
		frontier = next
	}
	return frontier, nil
}

// reverseEdgePath turns an edge path walked from start into the path walked
// back from its far end, using inverse relation names.
func (e *Engine) reverseEdgePath(start *model.Entity, path []string) ([]string, error) {
	n := len(path) / 2
	types := make([]string, 0, n+1)
	ids := make([]string, 0, n+1)
	types = append(types, start.Type)
	ids = append(ids, start.ID)
	inverses := make([]string, 0, n)
	for i := 0; i < n; i++ {
		f, err := e.relation(types[i], path[2*i])
		if err != nil {
			return nil, err
		}
		if f.Inverse == "" {
			return nil, fmt.Errorf("%w: %s.%s declares no inName", ErrSchema, types[i], f.Name)
		}
		types = append(types, f.To)
		ids = append(ids, path[2*i+1])
		inverses = append(inverses, f.Inverse)
	}
	out := make([]string, 0, len(path))
	for i := n - 1; i >= 0; i-- {
		out = append(out, inverses[i], ids[i])
	}
	return out, nil
}

// nested finds the joined copy reached by an edge path inside body. With
// create set, missing references along the way are added with empty fields.
// It returns the reference map holding the copy.
func (e *Engine) nested(typ string, body map[string]any, path []string, create bool) (map[string]any, error) {
	if len(path) < 2 {
		return nil, nil
	}
	rel, id := path[0], path[1]
	f, err := e.relation(typ, rel)
	if err != nil {
		return nil, err
	}

	var ref map[string]any
	if f.Many() {
		list, _ := body[rel].([]any)
		for _, item := range list {
			if m, ok := item.(map[string]any); ok && model.RefID(m) == id {
				ref = m
				break
			}
		}
		if ref == nil {
			if !create {
				return nil, nil
			}
			ref = map[string]any{model.IDKey: id, model.FieldsKey: map[string]any{}}
			body[rel] = append(list, ref)
		}
	} else {
		cur, _ := body[rel].(map[string]any)
		if cur != nil && model.RefID(cur) == id {
			ref = cur
		} else {
			if !create {
				return nil, nil
			}
			if cur == nil {
				cur = map[string]any{}
				body[rel] = cur
			}
			cur[model.IDKey] = id
			cur[model.FieldsKey] = map[string]any{}
			ref = cur
		}
	}

	if len(path) == 2 {
		return ref, nil
	}
	fields := model.RefFields(ref)
	if fields == nil {
		if !create {
			return nil, nil
		}
		fields = map[string]any{}
		ref[model.FieldsKey] = fields
	}
	return e.nested(f.To, fields, path[2:], create)
}
