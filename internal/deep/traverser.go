package deep

import (
	"context"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
)

type traverseMode int

const (
	// unionFrom visits the entities whose union fields depend on an edge.
	unionFrom traverseMode = iota
	// joinFrom visits the entities holding joined copies through an edge.
	joinFrom
)

// visit is one entity whose derived data depends on a changed edge
// left -rel-> right.
type visit struct {
	// unionFrom
	parent      *model.Entity
	parentField string
	childField  *schema.Field
	// edgeIsValue is set when the changed relation is itself the unioned
	// field, rather than the relation leading to parent.
	edgeIsValue bool

	// joinFrom
	root     *model.Entity
	edgePath []string
}

// traverse calls fn for every entity affected by the edge left -rel-> right.
func (e *Engine) traverse(ctx context.Context, c *cache.Cache, mode traverseMode, left *model.Entity, rel string, right *model.Entity, fn func(visit) error) error {
	f, err := e.relation(left.Type, rel)
	if err != nil {
		return err
	}

	switch mode {
	case unionFrom:
		if f.UnionIn != nil {
			via, err := e.relation(left.Type, f.UnionIn.Via)
			if err != nil {
				return err
			}
			for _, id := range model.RefIDs(left.Body[via.Name]) {
				parent, err := e.getEntity(ctx, c, via.To, id)
				if err != nil {
					return err
				}
				if parent == nil {
					continue
				}
				err = fn(visit{parent: parent, parentField: f.UnionIn.Field, childField: f, edgeIsValue: true})
				if err != nil {
					return err
				}
			}
		}
		for _, uf := range e.cfg.UnionsVia(left.Type, rel) {
			if err := fn(visit{parent: right, parentField: uf.UnionIn.Field, childField: uf}); err != nil {
				return err
			}
		}

	case joinFrom:
		for _, jp := range e.cfg.JoinPathsThrough(left.Type, rel) {
			hops, err := e.entitiesAtPath(ctx, c, left, jp.Inverse)
			if err != nil {
				return err
			}
			for _, h := range hops {
				if h.entity.Type != jp.Root {
					continue
				}
				back, err := e.reverseEdgePath(left, h.path)
				if err != nil {
					return err
				}
				path := append(back, rel, right.ID)
				if err := fn(visit{root: h.entity, edgePath: path}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// repairEdge brings union fields and joined copies up to date after the
// edge left -f-> right was added or removed.
func (e *Engine) repairEdge(ctx context.Context, c *cache.Cache, left *model.Entity, f *schema.Field, right *model.Entity, added bool) error {
	err := e.traverse(ctx, c, unionFrom, left, f.Name, right, func(v visit) error {
		if v.edgeIsValue {
			old := e.oldValue(left, f, right.ID, added)
			return e.RecalculateUnionInSibling(ctx, c, old, left, f.Name, v.parent, v.parentField)
		}
		without := left.Clone()
		delete(without.Body, v.childField.Name)
		if added {
			return e.RecalculateUnionInSibling(ctx, c, without, left, v.childField.Name, v.parent, v.parentField)
		}
		return e.RecalculateUnionInSibling(ctx, c, left, without, v.childField.Name, v.parent, v.parentField)
	})
	if err != nil {
		return err
	}

	return e.traverse(ctx, c, joinFrom, left, f.Name, right, func(v visit) error {
		if added {
			joins := e.cfg.JoinsFor("index", v.root.Type)
			return e.ResolveForEntity(ctx, c, nil, joins, v.root, Compulsory{v.edgePath[0]: {v.edgePath[1]}})
		}
		removed, err := e.removeNested(v.root, v.edgePath)
		if err != nil {
			return err
		}
		if removed {
			c.MarkDirtyEntity(v.root)
		}
		return nil
	})
}

// oldValue reconstructs left as it was before the edge to rightID changed.
func (e *Engine) oldValue(left *model.Entity, f *schema.Field, rightID string, added bool) *model.Entity {
	old := left.Clone()
	if added {
		if f.Many() {
			removeRef(old.Body, f.Name, rightID)
		} else {
			delete(old.Body, f.Name)
		}
		return old
	}
	if f.Many() {
		list, _ := old.Body[f.Name].([]any)
		old.Body[f.Name] = append(list, model.NewRef(rightID, false))
	} else {
		old.Body[f.Name] = model.NewRef(rightID, false)
	}
	return old
}
