package deep

import (
	"context"
	"fmt"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
)

// CreateParams describes a new entity. ID is generated when empty.
type CreateParams struct {
	ID    string         `json:"id,omitempty"`
	Type  string         `json:"type"`
	Index string         `json:"index,omitempty"`
	Body  map[string]any `json:"body,omitempty"`
}

// Create stores a new entity. Relationship fields in the body are linked
// both ways, its index joins are resolved, and union fields it feeds are
// updated, exactly as if the body had been written with Update.
func (e *Engine) Create(ctx context.Context, p CreateParams, c *cache.Cache) (*model.Ref, error) {
	return run(ctx, e, c, "create", p, func(c *cache.Cache) (*model.Ref, error) {
		return e.create(ctx, c, p)
	})
}

func (e *Engine) create(ctx context.Context, c *cache.Cache, p CreateParams) (*model.Ref, error) {
	if p.Type == "" {
		return nil, fmt.Errorf("%w: create needs a type", ErrValidation)
	}
	if _, err := e.entitySchema(p.Type); err != nil {
		return nil, err
	}
	body, err := model.NormalizeMap(p.Body)
	if err != nil {
		return nil, err
	}
	id := p.ID
	if id == "" {
		id = newID()
	}

	ent := &model.Entity{ID: id, Type: p.Type, Index: p.Index, Body: map[string]any{}}
	c.SetEntity(ent)
	c.MarkDirtyEntity(ent)

	if len(body) > 0 {
		set := make(map[string]any, len(body))
		for k, v := range body {
			set[k] = v
		}
		if err := e.update(ctx, c, UpdateParams{ID: id, Type: p.Type, Update: Update{Set: set}}); err != nil {
			return nil, err
		}
	}
	if err := e.ResolveForEntity(ctx, c, nil, e.cfg.JoinsFor("index", p.Type), ent, nil); err != nil {
		return nil, err
	}
	c.MarkDirtyEntity(ent)
	e.logger.Debugw("entity created", "type", p.Type, "id", id)
	return &model.Ref{ID: id, Type: p.Type}, nil
}
