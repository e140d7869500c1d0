package deep

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
)

// Compulsory names, per relation, the references that must be joined again
// even when they already carry a joined copy.
type Compulsory map[string][]string

// ResolveForEntity replaces the references of ent named by joins with joined
// copies of their targets, pruned to the fields the template asks for.
// Targets are loaded through the cache and resolved recursively with the
// nested template.
//
// With compulsory set, only the relations it names are visited and, within
// them, already joined references are kept unless listed. Without it every
// reference is joined again. ent is marked dirty when anything was joined.
func (e *Engine) ResolveForEntity(ctx context.Context, c *cache.Cache, langs []string, joins schema.Joins, ent *model.Entity, compulsory Compulsory) error {
	if ent == nil {
		return fmt.Errorf("%w: resolve joins: nil entity", ErrValidation)
	}
	if joins == nil || len(ent.Body) == 0 {
		return nil
	}
	entSchema, err := e.entitySchema(ent.Type)
	if err != nil {
		return err
	}
	langs = e.languages(langs)

	var names []string
	if compulsory != nil {
		for k := range compulsory {
			names = append(names, k)
		}
	} else {
		for k := range joins {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	joinedAny := false
	for _, name := range names {
		f, ok := entSchema.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s has no field %q", ErrSchema, ent.Type, name)
		}
		child, nested := joins.Child(name)
		if !f.IsRelationship() || !nested {
			continue
		}
		refs := model.Refs(ent.Body[name])
		if len(refs) == 0 {
			continue
		}

		var forced map[string]bool
		if compulsory != nil {
			forced = map[string]bool{}
			for _, id := range compulsory[name] {
				forced[id] = true
			}
		}
		resolved, joined, err := e.resolveRefs(ctx, c, langs, f, child, refs, forced)
		if err != nil {
			return fmt.Errorf("join %s.%s: %w", ent.Type, name, err)
		}
		joinedAny = joinedAny || joined
		if len(resolved) == 0 {
			continue
		}

		var value any
		if f.Many() {
			list := make([]any, len(resolved))
			for i, r := range resolved {
				list[i] = r
			}
			value = list
		} else {
			value = resolved[0]
		}
		ent.Body[name] = mergeRelation(ent.Body[name], value)
	}

	if joinedAny {
		ent.Dirty = true
	}
	return nil
}

// resolveRefs joins each reference concurrently. The returned slice keeps
// reference order; dangling references are dropped.
func (e *Engine) resolveRefs(ctx context.Context, c *cache.Cache, langs []string, f *schema.Field, child schema.Joins, refs []map[string]any, forced map[string]bool) ([]map[string]any, bool, error) {
	target, err := e.entitySchema(f.To)
	if err != nil {
		return nil, false, err
	}
	keep := fieldNames(target, child)

	var load []string
	for _, ref := range refs {
		if forced == nil || model.RefFields(ref) == nil || forced[model.RefID(ref)] {
			load = append(load, model.RefID(ref))
		}
	}
	if err := e.prefetch(ctx, c, f.To, load); err != nil {
		return nil, false, err
	}

	out := make([]map[string]any, len(refs))
	var joined atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	if e.joinConcurrency > 0 {
		g.SetLimit(e.joinConcurrency)
	}
	for i, ref := range refs {
		g.Go(func() error {
			id := model.RefID(ref)
			pre := model.RefFields(ref)
			if pre != nil && forced != nil && !forced[id] {
				cp := model.CopyMap(ref)
				e.purge(f.To, model.RefFields(cp), keep, child)
				out[i] = cp
				return nil
			}

			doc, err := e.getEntity(gctx, c, f.To, id)
			if err != nil {
				return err
			}
			if doc == nil {
				e.logger.Debugw("join target not found", "type", f.To, "id", id)
				return nil
			}
			doc = doc.Clone()
			if err := e.ResolveForEntity(gctx, c, langs, child, doc, nil); err != nil {
				return err
			}
			body := doc.Body
			if pre != nil {
				body = mergeDeep(model.CopyMap(pre), body)
			}
			e.purge(f.To, body, keep, child)

			r := map[string]any{model.IDKey: id, model.FieldsKey: body}
			if model.IsOwn(ref) {
				r[model.OwnKey] = true
			}
			out[i] = r
			joined.Store(true)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	resolved := out[:0]
	for _, r := range out {
		if r != nil {
			resolved = append(resolved, r)
		}
	}
	return resolved, joined.Load(), nil
}

// purge drops every field of a joined body that is neither kept nor a
// nested join. Language levels are pruned field by field.
func (e *Engine) purge(typ string, body map[string]any, keep []string, joins schema.Joins) {
	if body == nil {
		return
	}
	kept := map[string]bool{}
	for _, k := range keep {
		kept[k] = true
	}
	for k, v := range body {
		if e.cfg.IsLanguage(k) {
			if lang, ok := v.(map[string]any); ok {
				for lk := range lang {
					if !kept[lk] {
						delete(lang, lk)
					}
				}
				if len(lang) == 0 {
					delete(body, k)
				}
			}
			continue
		}
		child, nested := joins.Child(k)
		if !nested {
			if !kept[k] {
				delete(body, k)
			}
			continue
		}
		f, ok := e.cfg.Field(typ, k)
		if !ok || !f.IsRelationship() {
			continue
		}
		target, ok := e.cfg.Entity(f.To)
		if !ok {
			continue
		}
		sub := fieldNames(target, child)
		for _, ref := range model.Refs(v) {
			e.purge(f.To, model.RefFields(ref), sub, child)
		}
	}
}

// mergeRelation merges a freshly joined relationship value over the
// existing one. References are matched by id.
func mergeRelation(existing, resolved any) any {
	switch r := resolved.(type) {
	case map[string]any:
		cur, ok := existing.(map[string]any)
		if !ok || model.RefID(cur) != model.RefID(r) {
			return r
		}
		return mergeDeep(model.CopyMap(cur), r)
	case []any:
		cur, ok := existing.([]any)
		if !ok {
			return r
		}
		return mergeList(cur, r)
	}
	return resolved
}

// mergeDeep merges src into dst: maps recursively, lists of references by
// id, everything else replaced by src.
func mergeDeep(dst, src map[string]any) map[string]any {
	if dst == nil {
		return src
	}
	for k, sv := range src {
		switch s := sv.(type) {
		case map[string]any:
			if d, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeDeep(d, s)
				continue
			}
		case []any:
			if d, ok := dst[k].([]any); ok && isRefList(s) {
				dst[k] = mergeList(d, s)
				continue
			}
		}
		dst[k] = model.CopyValue(sv)
	}
	return dst
}

func mergeList(dst, src []any) []any {
	out := make([]any, len(dst), len(dst)+len(src))
	copy(out, dst)
	for _, sv := range src {
		s, ok := sv.(map[string]any)
		id := model.RefID(s)
		if !ok || id == "" {
			if !containsValue(out, sv) {
				out = append(out, model.CopyValue(sv))
			}
			continue
		}
		merged := false
		for i, dv := range out {
			if d, ok := dv.(map[string]any); ok && model.RefID(d) == id {
				out[i] = mergeDeep(model.CopyMap(d), s)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, model.CopyValue(s))
		}
	}
	return out
}

func isRefList(l []any) bool {
	if len(l) == 0 {
		return false
	}
	for _, v := range l {
		if model.RefID(v) == "" {
			return false
		}
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if sameValue(item, v) {
			return true
		}
	}
	return false
}

// sameValue compares references by id and anything else by value.
func sameValue(a, b any) bool {
	if ida, idb := refMapID(a), refMapID(b); ida != "" || idb != "" {
		return ida == idb
	}
	return cmp.Equal(a, b)
}

func refMapID(v any) string {
	if m, ok := v.(map[string]any); ok {
		return model.RefID(m)
	}
	return ""
}

// RecalculateJoinsInDependentGraph pushes the new value of updated.field
// into every entity holding a joined copy of it. For multilingual fields
// only langs are copied; nil means every supported language.
func (e *Engine) RecalculateJoinsInDependentGraph(ctx context.Context, c *cache.Cache, updated *model.Entity, field string, langs []string) error {
	f, ok := e.cfg.Field(updated.Type, field)
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", ErrSchema, updated.Type, field)
	}
	for _, ij := range e.cfg.InvertedJoins(updated.Type, field) {
		hops, err := e.entitiesAtPath(ctx, c, updated, ij.Path)
		if err != nil {
			return err
		}
		for _, h := range hops {
			back, err := e.reverseEdgePath(updated, h.path)
			if err != nil {
				return err
			}
			dest := h.entity
			err = e.ResolveForEntity(ctx, c, nil, e.cfg.JoinsFor("index", dest.Type), dest, Compulsory{back[0]: {back[1]}})
			if err != nil {
				return err
			}
			ref, err := e.nested(dest.Type, dest.Body, back, true)
			if err != nil {
				return err
			}
			fields := model.RefFields(ref)
			if fields == nil {
				fields = map[string]any{}
				ref[model.FieldsKey] = fields
			}
			copyField(f, updated.Body, fields, e.languages(langs))
			c.MarkDirtyEntity(dest)
		}
	}
	return nil
}

func copyField(f *schema.Field, src, dst map[string]any, langs []string) {
	if !f.Multilingual() {
		if v, ok := src[f.Name]; ok {
			dst[f.Name] = model.CopyValue(v)
		} else {
			delete(dst, f.Name)
		}
		return
	}
	for _, lang := range langs {
		sl, _ := src[lang].(map[string]any)
		dl, _ := dst[lang].(map[string]any)
		v, ok := sl[f.Name]
		if !ok {
			if dl != nil {
				delete(dl, f.Name)
				if len(dl) == 0 {
					delete(dst, lang)
				}
			}
			continue
		}
		if dl == nil {
			dl = map[string]any{}
			dst[lang] = dl
		}
		dl[f.Name] = model.CopyValue(v)
	}
}

// removeNested drops the joined copy at the end of an edge path from ent.
func (e *Engine) removeNested(ent *model.Entity, path []string) (bool, error) {
	if len(path) < 2 {
		return false, nil
	}
	container := ent.Body
	if len(path) > 2 {
		ref, err := e.nested(ent.Type, ent.Body, path[:len(path)-2], false)
		if err != nil || ref == nil {
			return false, err
		}
		container = model.RefFields(ref)
		if container == nil {
			return false, nil
		}
	}
	rel, id := path[len(path)-2], path[len(path)-1]
	return removeRef(container, rel, id), nil
}

func removeRef(body map[string]any, rel, id string) bool {
	switch v := body[rel].(type) {
	case map[string]any:
		if model.RefID(v) == id {
			delete(body, rel)
			return true
		}
	case []any:
		out := v[:0:0]
		for _, item := range v {
			if model.RefID(item) != id {
				out = append(out, item)
			}
		}
		if len(out) == len(v) {
			return false
		}
		if len(out) == 0 {
			delete(body, rel)
		} else {
			body[rel] = out
		}
		return true
	}
	return false
}
