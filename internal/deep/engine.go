// Package deep implements the graph-aware operations over the document
// store: create, get, search, update, link and unlink. Every operation works
// against a cache scope; joined copies and union fields of related entities
// are kept consistent in memory and written on flush.
package deep

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/epicgraph/internal/cache"
	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
	"github.com/rcliao/epicgraph/internal/store"
)

var (
	// ErrSchema marks unknown types, relations or inverse names.
	ErrSchema = schema.ErrSchema
	// ErrValidation marks requests missing identifying fields.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an entity required by a link that does not exist.
	ErrNotFound = errors.New("entity not found")
)

// Engine runs deep operations against one store and schema.
type Engine struct {
	cfg    *schema.Config
	store  store.Store
	logger *zap.SugaredLogger

	flushConcurrency int
	joinConcurrency  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. It is shared with every cache the
// engine creates.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFlushConcurrency caps concurrent store writes during a flush.
func WithFlushConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.flushConcurrency = n
		}
	}
}

// WithJoinConcurrency caps concurrent loads while resolving joins. Zero
// means unbounded.
func WithJoinConcurrency(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.joinConcurrency = n
		}
	}
}

// New returns an engine.
func New(cfg *schema.Config, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:              cfg,
		store:            st,
		logger:           zap.NewNop().Sugar(),
		flushConcurrency: cache.DefaultFlushConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the schema the engine runs with.
func (e *Engine) Config() *schema.Config { return e.cfg }

// NewCache returns an empty cache scope wired to this engine's store.
func (e *Engine) NewCache() *cache.Cache {
	return cache.New(e.writeEntity,
		cache.WithDeepWriter(e.deepWriteEntity),
		cache.WithConcurrency(e.flushConcurrency),
		cache.WithLogger(e.logger),
	)
}

// Flush writes the dirty entities of c to the store.
func (e *Engine) Flush(ctx context.Context, c *cache.Cache) error {
	c.Lock()
	defer c.Unlock()
	return c.Flush(ctx)
}

// DeepFlush runs the dirty entities of c through the create pathway before
// writing them, so their own graph effects are applied too.
func (e *Engine) DeepFlush(ctx context.Context, c *cache.Cache) error {
	c.Lock()
	defer c.Unlock()
	return c.DeepFlush(ctx)
}

func (e *Engine) writeEntity(ctx context.Context, _ *cache.Cache, ent *model.Entity) error {
	_, err := e.store.Index(ctx, store.IndexParams{
		ID:    ent.ID,
		Type:  ent.Type,
		Index: ent.Index,
		Body:  ent.Body,
	})
	return err
}

func (e *Engine) deepWriteEntity(ctx context.Context, c *cache.Cache, ent *model.Entity) error {
	_, err := e.create(ctx, c, CreateParams{
		ID:    ent.ID,
		Type:  ent.Type,
		Index: ent.Index,
		Body:  model.CopyMap(ent.Body),
	})
	return err
}

// run executes one public operation. Without a cache it gets its own scope
// and flushes it at the end. Identical concurrent calls on the same scope
// share one execution, and operations on a scope run one at a time.
func run[T any](ctx context.Context, e *Engine, c *cache.Cache, op string, params any, fn func(c *cache.Cache) (T, error)) (T, error) {
	autoCommit := c == nil
	if autoCommit {
		c = e.NewCache()
	}
	v, err := c.Do(op, params, func() (any, error) {
		c.Lock()
		defer c.Unlock()
		res, err := fn(c)
		if err != nil {
			return nil, err
		}
		if autoCommit {
			if err := c.Flush(ctx); err != nil {
				return nil, err
			}
		}
		return res, nil
	})
	var res T
	if err != nil {
		return res, err
	}
	res, _ = v.(T)
	return res, nil
}

func newID() string {
	return ulid.Make().String()
}

func (e *Engine) entitySchema(typ string) (*schema.Entity, error) {
	ent, ok := e.cfg.Entity(typ)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrSchema, typ)
	}
	return ent, nil
}

func (e *Engine) relation(typ, name string) (*schema.Field, error) {
	ent, err := e.entitySchema(typ)
	if err != nil {
		return nil, err
	}
	f, ok := ent.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no field %q", ErrSchema, typ, name)
	}
	if !f.IsRelationship() {
		return nil, fmt.Errorf("%w: %s.%s is not a relationship", ErrSchema, typ, name)
	}
	return f, nil
}

func (e *Engine) languages(langs []string) []string {
	if len(langs) > 0 {
		return langs
	}
	return e.cfg.Languages
}
