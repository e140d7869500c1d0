package deep

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
	"github.com/rcliao/epicgraph/internal/store"
)

const (
	defaultSearchSize  = 20
	defaultSuggestSize = 10
)

// SearchParams describes a search over one or more entity types.
type SearchParams struct {
	// Types to search; every configured type when empty.
	Types []string `json:"types,omitempty"`
	// Q is free text matched against the documents.
	Q string `json:"q,omitempty"`
	// Filters maps store paths to the value they must hold.
	Filters map[string]any `json:"filters,omitempty"`
	// Query holds extra filter clauses, applied with Filters.
	Query []store.Filter `json:"query,omitempty"`
	Langs []string       `json:"langs,omitempty"`
	// Fields projects hits to these logical paths. Only honored for a
	// single type.
	Fields      []string     `json:"fields,omitempty"`
	Joins       schema.Joins `json:"joins,omitempty"`
	JoinContext string       `json:"joinContext,omitempty"`
	From        int          `json:"from,omitempty"`
	Size        int          `json:"size,omitempty"`
	// Suggest treats Q as a prefix, for autocompletion.
	Suggest bool `json:"suggest,omitempty"`
	// NoAggs skips the configured aggregations.
	NoAggs bool `json:"noAggs,omitempty"`
	// Scroll keeps a cursor open for this long; see Scroll.
	Scroll time.Duration `json:"scroll,omitempty"`
}

// ScrollParams continues a search opened with SearchParams.Scroll.
type ScrollParams struct {
	ScrollID    string        `json:"scrollId"`
	KeepAlive   time.Duration `json:"keepAlive,omitempty"`
	Langs       []string      `json:"langs,omitempty"`
	Joins       schema.Joins  `json:"joins,omitempty"`
	JoinContext string        `json:"joinContext,omitempty"`
}

// Search runs a query against the store. Hits already in the cache are
// replaced by their cached version, so results reflect unflushed writes to
// known entities. Results are cached under the query; with onlyInCache a
// query not seen before in this scope returns nil.
func (e *Engine) Search(ctx context.Context, p SearchParams, c *cache.Cache, onlyInCache bool) (*store.SearchResult, error) {
	params := struct {
		P           SearchParams `json:"p"`
		OnlyInCache bool         `json:"onlyInCache"`
	}{p, onlyInCache}
	return run(ctx, e, c, "search", params, func(c *cache.Cache) (*store.SearchResult, error) {
		return e.search(ctx, c, p, onlyInCache)
	})
}

// Scroll returns the next page of a search cursor, shaped like Search.
func (e *Engine) Scroll(ctx context.Context, p ScrollParams, c *cache.Cache) (*store.SearchResult, error) {
	return run(ctx, e, c, "scroll", p, func(c *cache.Cache) (*store.SearchResult, error) {
		if p.ScrollID == "" {
			return nil, fmt.Errorf("%w: scroll needs a scroll id", ErrValidation)
		}
		keep := p.KeepAlive
		if keep <= 0 {
			keep = time.Minute
		}
		res, err := e.store.Scroll(ctx, p.ScrollID, keep)
		if err != nil {
			return nil, err
		}
		err = e.shapeHits(ctx, c, res, p.Langs, func(typ string) schema.Joins {
			return e.joinsFor(p.Joins, p.JoinContext, typ, false)
		}, true)
		return res, err
	})
}

func (e *Engine) search(ctx context.Context, c *cache.Cache, p SearchParams, onlyInCache bool) (*store.SearchResult, error) {
	types := p.Types
	if len(types) == 0 && p.Suggest {
		types = e.SuggestTypes()
	}
	if len(types) == 0 {
		types = e.cfg.TypeNames()
	}
	q := store.Query{
		Text:    p.Q,
		Prefix:  p.Suggest,
		From:    p.From,
		Size:    p.Size,
		Scroll:  p.Scroll,
		Filters: append([]store.Filter(nil), p.Query...),
	}
	for _, t := range types {
		if _, err := e.entitySchema(t); err != nil {
			return nil, err
		}
		q.Types = append(q.Types, t)
		q.Indexes = append(q.Indexes, model.IndexFor(t, ""))
	}
	if q.Size <= 0 {
		q.Size = defaultSearchSize
		if p.Suggest {
			q.Size = defaultSuggestSize
		}
	}
	for _, path := range sortedKeys(p.Filters) {
		q.Filters = append(q.Filters, store.Filter{Path: path, Value: p.Filters[path]})
	}

	single := len(types) == 1
	if single && len(p.Fields) > 0 {
		fields, err := ResolvePaths(e.cfg, types[0], p.Langs, p.Fields)
		if err != nil {
			return nil, err
		}
		q.Fields = fields
	}
	if single && !p.NoAggs {
		aggs, err := e.aggregations(types[0], p.Langs)
		if err != nil {
			return nil, err
		}
		q.Aggregations = aggs
	}

	key := cache.Key(struct {
		Search store.Query `json:"search"`
		Langs  []string    `json:"langs,omitempty"`
		Joins  any         `json:"joins,omitempty"`
	}{q, p.Langs, []any{p.Joins, p.JoinContext}})
	if cached, ok := c.Get(key).(*store.SearchResult); ok {
		return cached, nil
	}
	if onlyInCache {
		return nil, nil
	}

	res, err := e.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	err = e.shapeHits(ctx, c, res, p.Langs, func(typ string) schema.Joins {
		return e.joinsFor(p.Joins, p.JoinContext, typ, single)
	}, len(q.Fields) == 0)
	if err != nil {
		return nil, err
	}
	c.Set(key, res)
	return res, nil
}

// joinsFor picks the template for a hit: an explicit template applies to a
// single-type search, a context applies per type.
func (e *Engine) joinsFor(joins schema.Joins, context, typ string, single bool) schema.Joins {
	if joins != nil && (single || context == "") {
		return joins
	}
	if context != "" {
		return e.cfg.JoinsFor(context, typ)
	}
	return nil
}

// shapeHits swaps in cached entities, resolves joins and drops unrequested
// languages on every hit. Full hits are added to the cache.
func (e *Engine) shapeHits(ctx context.Context, c *cache.Cache, res *store.SearchResult, langs []string, joins func(string) schema.Joins, full bool) error {
	for i, hit := range res.Hits {
		if cached := c.Entity(hit.Type, hit.ID); cached != nil {
			res.Hits[i] = cached
		} else if full {
			res.Hits[i] = c.LoadOrStoreEntity(hit)
		}
		res.Hits[i] = res.Hits[i].Clone()
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.joinConcurrency > 0 {
		g.SetLimit(e.joinConcurrency)
	}
	for _, hit := range res.Hits {
		g.Go(func() error {
			if j := joins(hit.Type); j != nil {
				if err := e.ResolveForEntity(gctx, c, langs, j, hit, nil); err != nil {
					return err
				}
			}
			e.dropLanguages(hit.Body, langs)
			hit.Dirty = false
			return nil
		})
	}
	return g.Wait()
}

// aggregations maps each configured aggregation of typ to the store path it
// counts, in the first requested language.
func (e *Engine) aggregations(typ string, langs []string) (map[string]string, error) {
	paths := e.cfg.Aggregations[typ]
	if len(paths) == 0 {
		return nil, nil
	}
	lang := ""
	if l := e.languages(langs); len(l) > 0 {
		lang = l[0]
	}
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		resolved, err := resolvePath(e.cfg, typ, lang, strings.Split(p, "."))
		if err != nil {
			return nil, err
		}
		out[p] = resolved[len(resolved)-1]
	}
	return out, nil
}

// SuggestTypes returns the types with at least one field marked for
// autocompletion.
func (e *Engine) SuggestTypes() []string {
	var out []string
	for _, t := range e.cfg.TypeNames() {
		ent, _ := e.cfg.Entity(t)
		for _, n := range ent.FieldNames() {
			if f, _ := ent.Field(n); f.AutoSuggestion {
				out = append(out, t)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
