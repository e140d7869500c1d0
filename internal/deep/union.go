package deep

import (
	"context"
	"fmt"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
)

// RecalculateUnionInSibling updates parent.parentField after the values
// child.childField contributes to it changed from old to child. Added values
// are unioned in. A removed value is dropped only when no other entity
// linked to parent still contributes it and, for references, when parent
// does not own it. Union references go through link and unlink so both
// sides stay consistent.
func (e *Engine) RecalculateUnionInSibling(ctx context.Context, c *cache.Cache, old, child *model.Entity, childField string, parent *model.Entity, parentField string) error {
	cf, ok := e.cfg.Field(child.Type, childField)
	if !ok || cf.UnionIn == nil {
		return fmt.Errorf("%w: %s.%s is not unioned", ErrSchema, child.Type, childField)
	}
	pf, ok := e.cfg.Field(parent.Type, parentField)
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", ErrSchema, parent.Type, parentField)
	}

	before := contribution(cf, old.Body)
	after := contribution(cf, child.Body)
	added := difference(after, before)
	removed := difference(before, after)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	if len(removed) > 0 {
		still, err := e.siblingContributions(ctx, c, child, cf, parent)
		if err != nil {
			return err
		}
		removed = difference(removed, still)
	}

	if pf.IsRelationship() {
		return e.unionRefs(ctx, c, parent, pf, added, removed)
	}

	snapshot := parent.Clone()
	list := asList(parent.Body[pf.Name])
	changed := false
	for _, v := range added {
		if !containsValue(list, v) {
			list = append(list, model.CopyValue(v))
			changed = true
		}
	}
	for _, v := range removed {
		for i, cur := range list {
			if sameValue(cur, v) {
				list = append(list[:i:i], list[i+1:]...)
				changed = true
				break
			}
		}
	}
	if !changed {
		return nil
	}
	if len(list) == 0 {
		delete(parent.Body, pf.Name)
	} else {
		parent.Body[pf.Name] = list
	}
	c.MarkDirtyEntity(parent)
	e.logger.Debugw("union recalculated", "type", parent.Type, "id", parent.ID, "field", pf.Name,
		"added", len(added), "removed", len(removed))

	if e.cfg.HasInvertedJoins(parent.Type, pf.Name) {
		if err := e.RecalculateJoinsInDependentGraph(ctx, c, parent, pf.Name, nil); err != nil {
			return err
		}
	}
	if pf.UnionIn != nil {
		return e.RecalculateUnionInDependentGraph(ctx, c, snapshot, parent, pf.Name)
	}
	return nil
}

func (e *Engine) unionRefs(ctx context.Context, c *cache.Cache, parent *model.Entity, pf *schema.Field, added, removed []any) error {
	self := model.Ref{ID: parent.ID, Type: parent.Type}
	for _, v := range added {
		id, _ := v.(string)
		if id == "" {
			continue
		}
		err := e.link(ctx, c, LinkParams{E1: self, Relation: pf.Name, E2: &model.Ref{ID: id, Type: pf.To}})
		if err != nil {
			return err
		}
	}
	for _, v := range removed {
		id, _ := v.(string)
		if id == "" {
			continue
		}
		own := false
		for _, ref := range model.Refs(parent.Body[pf.Name]) {
			if model.RefID(ref) == id && model.IsOwn(ref) {
				own = true
			}
		}
		if own {
			continue
		}
		err := e.unlink(ctx, c, LinkParams{E1: self, Relation: pf.Name, E2: &model.Ref{ID: id, Type: pf.To}}, false)
		if err != nil {
			return err
		}
	}
	return nil
}

// RecalculateUnionInDependentGraph propagates a change of a unioned field
// to every entity it is unioned into.
func (e *Engine) RecalculateUnionInDependentGraph(ctx context.Context, c *cache.Cache, old, updated *model.Entity, field string) error {
	f, ok := e.cfg.Field(updated.Type, field)
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", ErrSchema, updated.Type, field)
	}
	if f.UnionIn == nil {
		return nil
	}
	via, err := e.relation(updated.Type, f.UnionIn.Via)
	if err != nil {
		return err
	}
	for _, id := range model.RefIDs(updated.Body[via.Name]) {
		parent, err := e.getEntity(ctx, c, via.To, id)
		if err != nil {
			return err
		}
		if parent == nil {
			continue
		}
		if err := e.RecalculateUnionInSibling(ctx, c, old, updated, field, parent, f.UnionIn.Field); err != nil {
			return err
		}
	}
	return nil
}

// siblingContributions collects what the other entities linked to parent
// through the union relation contribute to it.
func (e *Engine) siblingContributions(ctx context.Context, c *cache.Cache, child *model.Entity, cf *schema.Field, parent *model.Entity) ([]any, error) {
	via, err := e.relation(child.Type, cf.UnionIn.Via)
	if err != nil {
		return nil, err
	}
	if via.Inverse == "" {
		return nil, nil
	}
	var out []any
	for _, id := range model.RefIDs(parent.Body[via.Inverse]) {
		if id == child.ID {
			continue
		}
		sib, err := e.getEntity(ctx, c, child.Type, id)
		if err != nil {
			return nil, err
		}
		if sib == nil || !model.HasRef(sib.Body[via.Name], parent.ID) {
			continue
		}
		out = append(out, contribution(cf, sib.Body)...)
	}
	return out, nil
}

// contribution is what a field adds to a union: reference ids for
// relationships, values otherwise.
func contribution(f *schema.Field, body map[string]any) []any {
	if body == nil {
		return nil
	}
	if f.IsRelationship() {
		ids := model.RefIDs(body[f.Name])
		out := make([]any, len(ids))
		for i, id := range ids {
			out[i] = id
		}
		return out
	}
	return asList(body[f.Name])
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return append([]any(nil), t...)
	}
	return []any{v}
}

// difference returns the values of a missing from b.
func difference(a, b []any) []any {
	var out []any
	for _, v := range a {
		if !containsValue(b, v) && !containsValue(out, v) {
			out = append(out, v)
		}
	}
	return out
}
