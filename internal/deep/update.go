package deep

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
)

const statusUpdated = 201

// Update is a set of modifications on dotted body paths. Push, AddToSet and
// Pull take one value or a list of values. References are compared by id.
type Update struct {
	Set      map[string]any `json:"set,omitempty"`
	Unset    []string       `json:"unset,omitempty"`
	Push     map[string]any `json:"push,omitempty"`
	AddToSet map[string]any `json:"addToSet,omitempty"`
	Pull     map[string]any `json:"pull,omitempty"`
}

func (u Update) empty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0 && len(u.Push) == 0 && len(u.AddToSet) == 0 && len(u.Pull) == 0
}

// paths returns every path the update touches.
func (u Update) paths() []string {
	var out []string
	for _, m := range []map[string]any{u.Set, u.Push, u.AddToSet, u.Pull} {
		for k := range m {
			out = append(out, k)
		}
	}
	return append(out, u.Unset...)
}

func (u Update) normalized() (Update, error) {
	out := Update{Unset: append([]string(nil), u.Unset...)}
	var err error
	if out.Set, err = normalizeOps(u.Set); err != nil {
		return Update{}, err
	}
	if out.Push, err = normalizeOps(u.Push); err != nil {
		return Update{}, err
	}
	if out.AddToSet, err = normalizeOps(u.AddToSet); err != nil {
		return Update{}, err
	}
	if out.Pull, err = normalizeOps(u.Pull); err != nil {
		return Update{}, err
	}
	return out, nil
}

func normalizeOps(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "" {
			return nil, fmt.Errorf("%w: empty update path", ErrValidation)
		}
		n, err := model.Normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

// UpdateParams addresses one entity, or several when Entities is set.
type UpdateParams struct {
	ID       string      `json:"id,omitempty"`
	Type     string      `json:"type,omitempty"`
	Entities []model.Ref `json:"entities,omitempty"`
	Update   Update      `json:"update"`
	// IsOwn is passed on to the links an update of relationship fields makes.
	IsOwn bool `json:"isOwn,omitempty"`
	// DontHandleLinking skips maintaining inverse references.
	DontHandleLinking bool `json:"dontHandleLinking,omitempty"`
}

// UpdateResult acknowledges an update.
type UpdateResult struct {
	Status int    `json:"status"`
	ID     string `json:"_id,omitempty"`
	Type   string `json:"_type,omitempty"`
}

// Update applies p.Update to the addressed entities, then brings joined
// copies, union fields and inverse references in the rest of the graph up
// to date. Entities that do not exist are skipped.
func (e *Engine) Update(ctx context.Context, p UpdateParams, c *cache.Cache) (*UpdateResult, error) {
	return run(ctx, e, c, "update", p, func(c *cache.Cache) (*UpdateResult, error) {
		if err := e.update(ctx, c, p); err != nil {
			return nil, err
		}
		return &UpdateResult{Status: statusUpdated, ID: p.ID, Type: p.Type}, nil
	})
}

func (e *Engine) update(ctx context.Context, c *cache.Cache, p UpdateParams) error {
	targets := p.Entities
	if len(targets) == 0 {
		targets = []model.Ref{{ID: p.ID, Type: p.Type}}
	}
	for _, t := range targets {
		if t.ID == "" || t.Type == "" {
			return fmt.Errorf("%w: update needs id and type", ErrValidation)
		}
		if _, err := e.entitySchema(t.Type); err != nil {
			return err
		}
	}
	u, err := p.Update.normalized()
	if err != nil {
		return err
	}
	if u.empty() {
		return nil
	}

	for _, t := range targets {
		ent, err := e.getEntity(ctx, c, t.Type, t.ID)
		if err != nil {
			return err
		}
		if ent == nil {
			e.logger.Debugw("update skipped missing entity", "type", t.Type, "id", t.ID)
			continue
		}
		if ent.Body == nil {
			ent.Body = map[string]any{}
		}
		old := ent.Clone()
		if err := applyUpdate(ent.Body, u); err != nil {
			return fmt.Errorf("update %s/%s: %w", t.Type, t.ID, err)
		}
		e.trim(ent.Body)
		if !cmp.Equal(old.Body, ent.Body) {
			c.MarkDirtyEntity(ent)
		}
		if err := e.graphUpdates(ctx, c, old, ent, u, p); err != nil {
			return err
		}
	}
	return nil
}

// graphUpdates propagates the effect of u on ent, field by field.
func (e *Engine) graphUpdates(ctx context.Context, c *cache.Cache, old, ent *model.Entity, u Update, p UpdateParams) error {
	entSchema, err := e.entitySchema(ent.Type)
	if err != nil {
		return err
	}
	self := model.Ref{ID: ent.ID, Type: ent.Type}
	for _, name := range entSchema.FieldNames() {
		f, _ := entSchema.Field(name)
		touched, langs := e.touches(f, u)
		if !touched {
			continue
		}

		if !f.IsRelationship() {
			if e.cfg.HasInvertedJoins(ent.Type, name) {
				if err := e.RecalculateJoinsInDependentGraph(ctx, c, ent, name, langs); err != nil {
					return err
				}
			}
			if f.UnionIn != nil {
				if err := e.RecalculateUnionInDependentGraph(ctx, c, old, ent, name); err != nil {
					return err
				}
			}
			continue
		}
		if p.DontHandleLinking {
			continue
		}

		before := model.RefIDs(old.Body[name])
		after := model.RefIDs(ent.Body[name])
		if removed := missing(before, after, f.To); len(removed) > 0 {
			err := e.unlink(ctx, c, LinkParams{E1: self, Relation: name, E2Entities: removed, IsOwn: p.IsOwn}, true)
			if err != nil {
				return err
			}
		}
		if added := missing(after, before, f.To); len(added) > 0 {
			err := e.link(ctx, c, LinkParams{E1: self, Relation: name, E2Entities: added, IsOwn: p.IsOwn})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// missing returns refs to the ids of a absent from b.
func missing(a, b []string, typ string) []model.Ref {
	in := map[string]bool{}
	for _, id := range b {
		in[id] = true
	}
	var out []model.Ref
	for _, id := range a {
		if !in[id] {
			in[id] = true
			out = append(out, model.Ref{ID: id, Type: typ})
		}
	}
	return out
}

// touches reports whether u writes field f and, for multilingual fields,
// in which languages.
func (e *Engine) touches(f *schema.Field, u Update) (bool, []string) {
	if !f.Multilingual() {
		for _, p := range u.paths() {
			if p == f.Name || strings.HasPrefix(p, f.Name+".") {
				return true, nil
			}
		}
		return false, nil
	}

	seen := map[string]bool{}
	for _, p := range u.paths() {
		segs := cache.SplitPath(p)
		if !e.cfg.IsLanguage(segs[0]) {
			continue
		}
		lang := segs[0]
		switch {
		case len(segs) >= 2 && segs[1] == f.Name:
			seen[lang] = true
		case len(segs) == 1:
			if v, ok := u.Set[p].(map[string]any); ok {
				if _, ok := v[f.Name]; ok {
					seen[lang] = true
				}
			} else if _, ok := u.Set[p]; !ok {
				seen[lang] = true
			}
		}
	}
	if len(seen) == 0 {
		return false, nil
	}
	langs := make([]string, 0, len(seen))
	for l := range seen {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return true, langs
}

func applyUpdate(body map[string]any, u Update) error {
	for _, p := range sortedKeys(u.Set) {
		parent, last, err := walk(body, p, true)
		if err != nil {
			return err
		}
		parent[last] = model.CopyValue(u.Set[p])
	}
	for _, p := range u.Unset {
		parent, last, err := walk(body, p, false)
		if err != nil {
			return err
		}
		if parent != nil {
			delete(parent, last)
		}
	}
	for _, p := range sortedKeys(u.Push) {
		if err := appendAt(body, p, u.Push[p], false); err != nil {
			return err
		}
	}
	for _, p := range sortedKeys(u.AddToSet) {
		if err := appendAt(body, p, u.AddToSet[p], true); err != nil {
			return err
		}
	}
	for _, p := range sortedKeys(u.Pull) {
		parent, last, err := walk(body, p, false)
		if err != nil {
			return err
		}
		if parent == nil {
			continue
		}
		pull := asList(u.Pull[p])
		switch cur := parent[last].(type) {
		case nil:
		case []any:
			var kept []any
			for _, v := range cur {
				if !containsValue(pull, v) {
					kept = append(kept, v)
				}
			}
			if len(kept) == 0 {
				delete(parent, last)
			} else {
				parent[last] = kept
			}
		default:
			if containsValue(pull, cur) {
				delete(parent, last)
			}
		}
	}
	return nil
}

func appendAt(body map[string]any, p string, v any, unique bool) error {
	parent, last, err := walk(body, p, true)
	if err != nil {
		return err
	}
	list := asList(parent[last])
	for _, item := range asList(v) {
		if unique && containsValue(list, item) {
			continue
		}
		list = append(list, model.CopyValue(item))
	}
	parent[last] = list
	return nil
}

// walk returns the map holding the last segment of p. With create set,
// missing intermediate maps are added; otherwise a missing parent is nil.
func walk(body map[string]any, p string, create bool) (map[string]any, string, error) {
	segs := cache.SplitPath(p)
	cur := body
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			if cur[seg] != nil && create {
				return nil, "", fmt.Errorf("%w: path %q crosses a non-object value", ErrValidation, p)
			}
			if !create {
				return nil, "", nil
			}
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	return cur, segs[len(segs)-1], nil
}

// trim drops empty values at the top level and inside language maps.
func (e *Engine) trim(body map[string]any) {
	for k, v := range body {
		if m, ok := v.(map[string]any); ok && e.cfg.IsLanguage(k) {
			for lk, lv := range m {
				if isEmpty(lv) {
					delete(m, lk)
				}
			}
		}
		if isEmpty(body[k]) {
			delete(body, k)
		}
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return math.IsNaN(t)
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
