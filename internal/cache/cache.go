// Package cache implements the operation-scoped, write-through entity cache
// the graph engine works against. Entities are mutated in memory, marked
// dirty, and written to the store only on Flush.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/immutable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/epicgraph/internal/model"
)

// DefaultFlushConcurrency caps in-flight store writes during a shallow flush.
const DefaultFlushConcurrency = 200

// Writer persists one entity. Shallow flushes use a plain index write;
// deep flushes use the full create pathway, which may dirty more entities
// in the same cache.
type Writer func(ctx context.Context, c *Cache, e *model.Entity) error

// scope is the state shared by every Cache derived through SetImmutable.
type scope struct {
	mu   sync.Mutex
	data map[string]any

	op   sync.Mutex
	memo singleflight.Group
}

// Cache is one scope of in-memory entities and cached results.
type Cache struct {
	*scope
	immutable *immutable.Map[string, any]

	write       Writer
	deepWrite   Writer
	concurrency int
	logger      *zap.SugaredLogger
}

// Option configures a Cache.
type Option func(*Cache)

// WithDeepWriter sets the writer DeepFlush uses.
func WithDeepWriter(w Writer) Option {
	return func(c *Cache) { c.deepWrite = w }
}

// WithConcurrency caps concurrent writes on a shallow flush. Zero or less
// means DefaultFlushConcurrency.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns an empty cache that flushes through w.
func New(w Writer, opts ...Option) *Cache {
	c := &Cache{
		scope:       &scope{data: map[string]any{}},
		immutable:   immutable.NewMap[string, any](nil),
		write:       w,
		concurrency: DefaultFlushConcurrency,
		logger:      zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key canonicalizes a lookup key. Strings are used as is; anything else is
// encoded as JSON, which sorts map keys.
func Key(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	b, err := json.Marshal(k)
	if err != nil {
		return fmt.Sprint(k)
	}
	return string(b)
}

// Get returns the value cached under key, checking the mutable store before
// the immutable overlay. A []string key is a path into nested maps.
func (c *Cache) Get(key any) any {
	if path, ok := key.([]string); ok {
		return c.getPath(path)
	}
	k := Key(key)
	c.mu.Lock()
	v, ok := c.data[k]
	c.mu.Unlock()
	if ok && v != nil {
		return v
	}
	v, _ = c.immutable.Get(k)
	return v
}

func (c *Cache) getPath(path []string) any {
	if len(path) == 0 {
		return nil
	}
	c.mu.Lock()
	v := lookup(c.data, path)
	c.mu.Unlock()
	if v != nil {
		return v
	}
	root, ok := c.immutable.Get(path[0])
	if !ok {
		return nil
	}
	if len(path) == 1 {
		return root
	}
	m, ok := root.(map[string]any)
	if !ok {
		return nil
	}
	return lookup(m, path[1:])
}

func lookup(m map[string]any, path []string) any {
	var cur any = m
	for _, seg := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[seg]
	}
	return cur
}

// Set stores value under key in the mutable store. A []string key sets by
// path, creating intermediate maps.
func (c *Cache) Set(key any, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := key.([]string)
	if !ok {
		c.data[Key(key)] = value
		return
	}
	if len(path) == 0 {
		return
	}
	m := c.data
	for _, seg := range path[:len(path)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[seg] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// Entity returns the cached entity for type and id, or nil.
func (c *Cache) Entity(typ, id string) *model.Entity {
	e, _ := c.Get(model.EntityKey(typ, id)).(*model.Entity)
	return e
}

// SetEntity caches e, replacing any previous copy for the same id and type.
func (c *Cache) SetEntity(e *model.Entity) {
	c.Set(e.Key(), e)
}

// LoadOrStoreEntity caches e unless a copy with the same id and type is
// already cached, and returns the cached copy.
func (c *Cache) LoadOrStoreEntity(e *model.Entity) *model.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.data[e.Key()].(*model.Entity); ok {
		return cur
	}
	c.data[e.Key()] = e
	return e
}

// SetImmutable returns a cache sharing this one's mutable store with key
// bound in a persistent copy of the immutable overlay. The receiver does
// not see the binding.
func (c *Cache) SetImmutable(key any, value any) *Cache {
	next := *c
	next.immutable = c.immutable.Set(Key(key), value)
	return &next
}

// MarkDirty flags the entity cached under key for the next flush. Only
// entities can be marked; a missing key or a non-entity value is logged and
// ignored.
func (c *Cache) MarkDirty(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		c.logger.Warnw("mark dirty: no value cached", "key", key)
		return
	}
	e, ok := v.(*model.Entity)
	if !ok {
		c.logger.Warnw("mark dirty: cached value is not an entity", "key", key)
		return
	}
	e.Dirty = true
}

// MarkDirtyEntity marks e's cached copy dirty.
func (c *Cache) MarkDirtyEntity(e *model.Entity) {
	c.MarkDirty(e.Key())
}

// Dirty returns the dirty entities, one per id and type, ordered by key.
func (c *Cache) Dirty() []*model.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirtyLocked()
}

func (c *Cache) dirtyLocked() []*model.Entity {
	seen := map[string]bool{}
	var out []*model.Entity
	for _, k := range sortedKeys(c.data) {
		e, ok := c.data[k].(*model.Entity)
		if !ok || !e.Dirty || seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e)
	}
	return out
}

// Do runs fn once for every set of identical concurrent calls sharing this
// cache scope. The entry is forgotten once fn returns, so later calls see
// the effects of earlier ones.
func (c *Cache) Do(op string, params any, fn func() (any, error)) (any, error) {
	v, err, _ := c.memo.Do(op+":"+Key(params), fn)
	return v, err
}

// Lock serializes operations that mutate cached entities in this scope.
func (c *Cache) Lock() { c.op.Lock() }

// Unlock releases Lock.
func (c *Cache) Unlock() { c.op.Unlock() }

// Len returns the number of values in the mutable store.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// SplitPath splits a dotted key into a []string path key.
func SplitPath(p string) []string {
	return strings.Split(p, ".")
}
