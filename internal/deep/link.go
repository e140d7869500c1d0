package deep

import (
	"context"
	"fmt"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
)

// LinkParams names one edge, or a fan of edges when E2Entities is set.
type LinkParams struct {
	E1         model.Ref   `json:"e1"`
	Relation   string      `json:"relation"`
	E2         *model.Ref  `json:"e2,omitempty"`
	E2Entities []model.Ref `json:"e2Entities,omitempty"`
	// IsOwn marks the references as directly authored rather than derived.
	IsOwn bool `json:"isOwn,omitempty"`
}

// LinkResult reports both ends of a link or unlink after the change.
type LinkResult struct {
	E2ToE1Relation string          `json:"e2ToE1Relation,omitempty"`
	E1             *model.Entity   `json:"e1"`
	E2             *model.Entity   `json:"e2,omitempty"`
	E2Entities     []*model.Entity `json:"e2Entities,omitempty"`
}

// Link connects E1 to E2 (or every entity of E2Entities) through Relation
// and adds the inverse reference on the other side. A side of cardinality
// one first drops its previous reference. Union fields and joined copies
// depending on the new edge are updated. Linking twice is a no-op.
func (e *Engine) Link(ctx context.Context, p LinkParams, c *cache.Cache) (*LinkResult, error) {
	return run(ctx, e, c, "link", p, func(c *cache.Cache) (*LinkResult, error) {
		if err := e.link(ctx, c, p); err != nil {
			return nil, err
		}
		return e.linkResult(ctx, c, p)
	})
}

// Unlink removes the edges Link would add, on both sides.
func (e *Engine) Unlink(ctx context.Context, p LinkParams, c *cache.Cache) (*LinkResult, error) {
	return run(ctx, e, c, "unlink", p, func(c *cache.Cache) (*LinkResult, error) {
		if err := e.unlink(ctx, c, p, false); err != nil {
			return nil, err
		}
		return e.linkResult(ctx, c, p)
	})
}

// linkTargets validates p against the schema before anything is mutated.
func (e *Engine) linkTargets(p LinkParams) (*schema.Field, []model.Ref, error) {
	if p.E1.ID == "" || p.E1.Type == "" {
		return nil, nil, fmt.Errorf("%w: link needs e1 id and type", ErrValidation)
	}
	if p.Relation == "" {
		return nil, nil, fmt.Errorf("%w: link needs a relation", ErrValidation)
	}
	f, err := e.relation(p.E1.Type, p.Relation)
	if err != nil {
		return nil, nil, err
	}
	targets := p.E2Entities
	if p.E2 != nil {
		targets = append([]model.Ref{*p.E2}, targets...)
	}
	if len(targets) == 0 {
		return nil, nil, fmt.Errorf("%w: link needs e2 or e2Entities", ErrValidation)
	}
	out := make([]model.Ref, len(targets))
	for i, t := range targets {
		if t.ID == "" {
			return nil, nil, fmt.Errorf("%w: link target without id", ErrValidation)
		}
		if t.Type == "" {
			t.Type = f.To
		}
		if t.Type != f.To {
			return nil, nil, fmt.Errorf("%w: %s.%s links to %s, not %s", ErrSchema, p.E1.Type, f.Name, f.To, t.Type)
		}
		out[i] = t
	}
	if f.Inverse != "" {
		if _, err := e.relation(f.To, f.Inverse); err != nil {
			return nil, nil, err
		}
	}
	return f, out, nil
}

func (e *Engine) link(ctx context.Context, c *cache.Cache, p LinkParams) error {
	f, targets, err := e.linkTargets(p)
	if err != nil {
		return err
	}
	for _, t := range targets {
		linked, err := e.isAlreadyDualLinked(ctx, c, p.E1, f, t)
		if err != nil {
			return err
		}
		if linked {
			continue
		}
		if err := e.makeLink(ctx, c, p.E1, f, t, p.IsOwn); err != nil {
			return err
		}
		if f.Inverse == "" {
			continue
		}
		inv, err := e.relation(t.Type, f.Inverse)
		if err != nil {
			return err
		}
		if err := e.makeLink(ctx, c, t, inv, p.E1, p.IsOwn); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) isAlreadyDualLinked(ctx context.Context, c *cache.Cache, e1 model.Ref, f *schema.Field, e2 model.Ref) (bool, error) {
	left, err := e.getEntity(ctx, c, e1.Type, e1.ID)
	if err != nil || left == nil {
		return false, err
	}
	if !model.HasRef(left.Body[f.Name], e2.ID) {
		return false, nil
	}
	if f.Inverse == "" {
		return true, nil
	}
	right, err := e.getEntity(ctx, c, e2.Type, e2.ID)
	if err != nil || right == nil {
		return false, err
	}
	return model.HasRef(right.Body[f.Inverse], e1.ID), nil
}

func (e *Engine) mustEntity(ctx context.Context, c *cache.Cache, r model.Ref) (*model.Entity, error) {
	ent, err := e.getEntity(ctx, c, r.Type, r.ID)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, r.Type, r.ID)
	}
	return ent, nil
}

// makeLink adds the one-sided reference a -f-> b and repairs what depends
// on it.
func (e *Engine) makeLink(ctx context.Context, c *cache.Cache, a model.Ref, f *schema.Field, b model.Ref, own bool) error {
	left, err := e.mustEntity(ctx, c, a)
	if err != nil {
		return err
	}
	right, err := e.mustEntity(ctx, c, b)
	if err != nil {
		return err
	}
	if !model.HasRef(left.Body[f.Name], b.ID) {
		var op Update
		if f.Many() {
			op.AddToSet = map[string]any{f.Name: model.NewRef(b.ID, own)}
		} else {
			if prev := model.RefID(left.Body[f.Name]); prev != "" {
				err := e.unlink(ctx, c, LinkParams{E1: a, Relation: f.Name, E2: &model.Ref{ID: prev, Type: f.To}}, false)
				if err != nil {
					return err
				}
			}
			op.Set = map[string]any{f.Name: model.NewRef(b.ID, own)}
		}
		err := e.update(ctx, c, UpdateParams{ID: a.ID, Type: a.Type, Update: op, IsOwn: own, DontHandleLinking: true})
		if err != nil {
			return err
		}
	}
	return e.repairEdge(ctx, c, left, f, right, true)
}

// unlink removes the edges named by p. With propertyIsUnset the reference on
// E1 is already gone and only the other side and derived data are repaired.
func (e *Engine) unlink(ctx context.Context, c *cache.Cache, p LinkParams, propertyIsUnset bool) error {
	f, targets, err := e.linkTargets(p)
	if err != nil {
		return err
	}
	left, err := e.mustEntity(ctx, c, p.E1)
	if err != nil {
		return err
	}
	for _, t := range targets {
		right, err := e.getEntity(ctx, c, t.Type, t.ID)
		if err != nil {
			return err
		}
		if right == nil {
			e.logger.Debugw("unlink dangling reference", "type", left.Type, "id", left.ID, "relation", f.Name, "target", t.ID)
			if err := e.dropRef(ctx, c, left, f, t.ID); err != nil {
				return err
			}
			continue
		}
		if err := e.breakLink(ctx, c, left, f, right, propertyIsUnset); err != nil {
			return err
		}
		if f.Inverse == "" {
			continue
		}
		inv, err := e.relation(t.Type, f.Inverse)
		if err != nil {
			return err
		}
		if err := e.breakLink(ctx, c, right, inv, left, false); err != nil {
			return err
		}
	}
	return nil
}

// breakLink removes left -f-> right and repairs what depended on it. force
// runs the repair even when the reference is already gone.
func (e *Engine) breakLink(ctx context.Context, c *cache.Cache, left *model.Entity, f *schema.Field, right *model.Entity, force bool) error {
	linked := model.HasRef(left.Body[f.Name], right.ID)
	if !linked && !force {
		return nil
	}
	if linked {
		if err := e.dropRef(ctx, c, left, f, right.ID); err != nil {
			return err
		}
	}
	return e.repairEdge(ctx, c, left, f, right, false)
}

func (e *Engine) dropRef(ctx context.Context, c *cache.Cache, left *model.Entity, f *schema.Field, id string) error {
	if !model.HasRef(left.Body[f.Name], id) {
		return nil
	}
	var op Update
	if f.Many() {
		op.Pull = map[string]any{f.Name: model.NewRef(id, false)}
	} else {
		op.Unset = []string{f.Name}
	}
	return e.update(ctx, c, UpdateParams{ID: left.ID, Type: left.Type, Update: op, DontHandleLinking: true})
}

func (e *Engine) linkResult(ctx context.Context, c *cache.Cache, p LinkParams) (*LinkResult, error) {
	f, targets, err := e.linkTargets(p)
	if err != nil {
		return nil, err
	}
	e1, err := e.getEntity(ctx, c, p.E1.Type, p.E1.ID)
	if err != nil {
		return nil, err
	}
	res := &LinkResult{E2ToE1Relation: f.Inverse, E1: e1.Clone()}
	for i, t := range targets {
		ent, err := e.getEntity(ctx, c, t.Type, t.ID)
		if err != nil {
			return nil, err
		}
		if i == 0 && p.E2 != nil {
			res.E2 = ent.Clone()
			continue
		}
		res.E2Entities = append(res.E2Entities, ent.Clone())
	}
	return res, nil
}
