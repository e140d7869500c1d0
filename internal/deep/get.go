package deep

import (
	"context"
	"fmt"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
	"github.com/rcliao/epicgraph/internal/store"
)

// GetParams addresses one entity and shapes the copy returned.
type GetParams struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Index string `json:"index,omitempty"`
	// Langs keeps only these languages in the result.
	Langs []string `json:"langs,omitempty"`
	// Fields projects the stored document to these logical paths.
	Fields []string `json:"fields,omitempty"`
	// Joins is the template to resolve. When nil, JoinContext selects a
	// configured one.
	Joins       schema.Joins `json:"joins,omitempty"`
	JoinContext string       `json:"joinContext,omitempty"`
}

// Get returns a copy of one entity with its joins resolved, or nil when it
// does not exist. Entities already in the cache are served from it.
func (e *Engine) Get(ctx context.Context, p GetParams, c *cache.Cache) (*model.Entity, error) {
	return run(ctx, e, c, "get", p, func(c *cache.Cache) (*model.Entity, error) {
		return e.get(ctx, c, p)
	})
}

func (e *Engine) get(ctx context.Context, c *cache.Cache, p GetParams) (*model.Entity, error) {
	if p.ID == "" || p.Type == "" {
		return nil, fmt.Errorf("%w: get needs id and type", ErrValidation)
	}
	if _, err := e.entitySchema(p.Type); err != nil {
		return nil, err
	}
	joins := p.Joins
	if joins == nil && p.JoinContext != "" {
		joins = e.cfg.JoinsFor(p.JoinContext, p.Type)
	}

	doc := c.Entity(p.Type, p.ID)
	if doc == nil {
		var fields []string
		var err error
		switch {
		case len(p.Fields) > 0:
			fields, err = ResolvePaths(e.cfg, p.Type, p.Langs, p.Fields)
		case joins != nil:
			fields, err = FieldsToFetch(e.cfg, p.Type, joins, p.Langs)
		}
		if err != nil {
			return nil, err
		}
		gp := getParams(p.Type, p.ID)
		gp.Index = p.Index
		gp.Fields = fields
		res, found, err := e.store.Get(ctx, gp)
		if err != nil {
			return nil, fmt.Errorf("get %s/%s: %w", p.Type, p.ID, err)
		}
		if !found {
			return nil, nil
		}
		doc = res
		if len(fields) == 0 {
			doc = c.LoadOrStoreEntity(res)
		}
	}

	out := doc.Clone()
	if joins != nil {
		if err := e.ResolveForEntity(ctx, c, p.Langs, joins, out, nil); err != nil {
			return nil, err
		}
	}
	e.dropLanguages(out.Body, p.Langs)
	out.Dirty = false
	return out, nil
}

func getParams(typ, id string) store.GetParams {
	return store.GetParams{ID: id, Type: typ}
}

// dropLanguages removes every language level not in langs, at any depth.
func (e *Engine) dropLanguages(v any, langs []string) {
	if len(langs) == 0 {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		for k, sub := range t {
			if e.cfg.IsLanguage(k) && !contains(langs, k) {
				delete(t, k)
				continue
			}
			e.dropLanguages(sub, langs)
		}
	case []any:
		for _, item := range t {
			e.dropLanguages(item, langs)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
