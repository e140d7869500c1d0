package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/epicgraph/internal/model"
)

// FlushError reports every entity that failed to write during a flush.
type FlushError struct {
	Failed map[string]error // by entity key
	err    error
}

func (e *FlushError) Error() string {
	keys := sortedKeys(e.Failed)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failed[k]))
	}
	return fmt.Sprintf("flush: %d entities failed: %s", len(keys), strings.Join(parts, "; "))
}

// Unwrap exposes the individual write errors to errors.Is and errors.As.
func (e *FlushError) Unwrap() []error {
	return multierr.Errors(e.err)
}

type failures struct {
	mu     sync.Mutex
	failed map[string]error
	err    error
}

func (f *failures) add(e *model.Entity, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[string]error{}
	}
	err = fmt.Errorf("%s/%s: %w", e.Type, e.ID, err)
	f.failed[e.Key()] = err
	f.err = multierr.Append(f.err, err)
}

func (f *failures) result() error {
	if f.err == nil {
		return nil
	}
	return &FlushError{Failed: f.failed, err: f.err}
}

// Flush writes every dirty entity to the store. Dirty flags and the mutable
// store are cleared before any write is issued, so entities cached during
// the flush wait for the next one. All writes are attempted; failures are
// returned together as a *FlushError.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	dirty := c.dirtyLocked()
	for _, e := range dirty {
		e.Dirty = false
	}
	c.data = map[string]any{}
	c.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}
	c.logger.Debugw("flush", "entities", len(dirty))

	var f failures
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, e := range dirty {
		g.Go(func() error {
			if err := c.write(gctx, c, e); err != nil {
				c.logger.Errorw("flush: write failed", "type", e.Type, "id", e.ID, "error", err)
				f.add(e, err)
			}
			return nil
		})
	}
	g.Wait()
	return f.result()
}

// DeepFlush runs every dirty entity through the deep writer, which
// propagates its graph effects into this cache, then flushes shallowly to
// persist those entities and whatever they dirtied. Deep writes run one at a
// time since they mutate shared cached entities.
func (c *Cache) DeepFlush(ctx context.Context) error {
	if c.deepWrite == nil {
		return c.Flush(ctx)
	}

	var f failures
	for _, e := range c.Dirty() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.deepWrite(ctx, c, e); err != nil {
			c.logger.Errorw("deep flush: write failed", "type", e.Type, "id", e.ID, "error", err)
			f.add(e, err)
		}
	}

	err := c.Flush(ctx)
	if ferr := f.result(); ferr != nil {
		return multierr.Append(ferr, err)
	}
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
