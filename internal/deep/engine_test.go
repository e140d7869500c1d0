package deep

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
	"github.com/rcliao/epicgraph/internal/store"
)

const conference = `
[common]
supportedLanguages = ["english", "tibetan"]

[schema.speaker.name]
type = "String"
[schema.speaker.bio]
type = "String"
multiLingual = true
[schema.speaker.sessions]
type = ["session"]
isRelationship = true
inName = "speaker"
[schema.speaker.events]
type = ["event"]
isRelationship = true
inName = "speakers"

[schema.session.title]
type = "String"
multiLingual = true
autoSuggestion = true
[schema.session.tags]
type = ["String"]
unionIn = "event.tags"
[schema.session.speaker]
type = "speaker"
isRelationship = true
inName = "sessions"
unionIn = "event.speakers"
[schema.session.event]
type = "event"
isRelationship = true
inName = "sessions"

[schema.event.title]
type = "String"
multiLingual = true
[schema.event.tags]
type = ["String"]
[schema.event.sessions]
type = ["session"]
isRelationship = true
inName = "event"
[schema.event.speakers]
type = ["speaker"]
isRelationship = true
inName = "events"

[joins.index.session]
speaker = { name = 1 }
event = { title = 1 }

[joins.index.event]
sessions = { title = 1, speaker = { name = 1 } }

[joins.search.session]
speaker = {}

[aggregations]
session = ["tags"]
`

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg, err := schema.LoadString(conference)
	require.NoError(t, err)
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return New(cfg, st, opts...)
}

func mustCreate(t *testing.T, e *Engine, typ, id string, body map[string]any) {
	t.Helper()
	_, err := e.Create(context.Background(), CreateParams{ID: id, Type: typ, Body: body}, nil)
	require.NoError(t, err)
}

func mustLink(t *testing.T, e *Engine, e1 model.Ref, rel, e2 string) *LinkResult {
	t.Helper()
	res, err := e.Link(context.Background(), LinkParams{E1: e1, Relation: rel, E2: &model.Ref{ID: e2}, IsOwn: true}, nil)
	require.NoError(t, err)
	return res
}

// stored reads a document straight from the store, bypassing every cache.
func stored(t *testing.T, e *Engine, typ, id string) map[string]any {
	t.Helper()
	doc, found, err := e.store.Get(context.Background(), getParams(typ, id))
	require.NoError(t, err)
	require.True(t, found, "%s/%s not stored", typ, id)
	return doc.Body
}

func field(t *testing.T, v any, path ...string) any {
	t.Helper()
	for _, p := range path {
		m, ok := v.(map[string]any)
		require.True(t, ok, "%q: not an object: %#v", p, v)
		v = m[p]
	}
	return v
}

func TestCreateReadYourWrites(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	c := e.NewCache()

	ref, err := e.Create(ctx, CreateParams{Type: "speaker", Body: map[string]any{"name": "Ada"}}, c)
	require.NoError(t, err)
	assert.Len(t, ref.ID, 26)
	assert.Equal(t, "speaker", ref.Type)

	got, err := e.Get(ctx, GetParams{ID: ref.ID, Type: "speaker"}, c)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Body["name"])

	_, found, err := e.store.Get(ctx, getParams("speaker", ref.ID))
	require.NoError(t, err)
	assert.False(t, found, "nothing is written before flush")

	require.NoError(t, e.Flush(ctx, c))
	assert.Equal(t, "Ada", stored(t, e, "speaker", ref.ID)["name"])

	require.NoError(t, e.Flush(ctx, c))
	assert.Equal(t, 0, c.Len())
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})

	c := e.NewCache()
	got, err := e.Get(ctx, GetParams{ID: "s1", Type: "speaker"}, c)
	require.NoError(t, err)
	got.Body["name"] = "changed"

	again, err := e.Get(ctx, GetParams{ID: "s1", Type: "speaker"}, c)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Body["name"])
	assert.Empty(t, c.Dirty())
}

func TestGetMissing(t *testing.T) {
	e := newTestEngine(t)
	got, err := e.Get(context.Background(), GetParams{ID: "nope", Type: "speaker"}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetProjectsFieldsAndLanguages(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "session", "t1", map[string]any{
		"english": map[string]any{"title": "Graphs"},
		"tibetan": map[string]any{"title": "Ri mo"},
		"tags":    []any{"go"},
	})

	got, err := e.Get(ctx, GetParams{ID: "t1", Type: "session", Fields: []string{"title"}, Langs: []string{"english"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"english": map[string]any{"title": "Graphs"}}, got.Body)

	got, err = e.Get(ctx, GetParams{ID: "t1", Type: "session", Langs: []string{"tibetan"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"tibetan": map[string]any{"title": "Ri mo"},
		"tags":    []any{"go"},
	}, got.Body)
}

func TestValidationErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "session", "t1", nil)
	t1 := model.Ref{ID: "t1", Type: "session"}

	_, err := e.Get(ctx, GetParams{Type: "speaker"}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.Get(ctx, GetParams{ID: "x", Type: "venue"}, nil)
	assert.ErrorIs(t, err, ErrSchema)

	_, err = e.Create(ctx, CreateParams{}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.Create(ctx, CreateParams{Type: "venue"}, nil)
	assert.ErrorIs(t, err, ErrSchema)

	_, err = e.Link(ctx, LinkParams{E1: t1, Relation: "nope", E2: &model.Ref{ID: "s1"}}, nil)
	assert.ErrorIs(t, err, ErrSchema)

	_, err = e.Link(ctx, LinkParams{E1: t1, Relation: "speaker", E2: &model.Ref{ID: "e1", Type: "event"}}, nil)
	assert.ErrorIs(t, err, ErrSchema)

	_, err = e.Link(ctx, LinkParams{E1: t1, Relation: "speaker"}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.Link(ctx, LinkParams{E1: t1, Relation: "speaker", E2: &model.Ref{ID: "ghost"}}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotContains(t, stored(t, e, "session", "t1"), "speaker")

	_, err = e.Update(ctx, UpdateParams{Type: "session", Update: Update{Set: map[string]any{"tags": "x"}}}, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateMissingEntityIsSkipped(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Update(context.Background(), UpdateParams{
		ID: "nope", Type: "speaker", Update: Update{Set: map[string]any{"name": "x"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, res.Status)
}

func TestDeepFlushLinksCachedEntities(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})

	c := e.NewCache()
	c.SetEntity(&model.Entity{ID: "t9", Type: "session", Body: map[string]any{
		"speaker": map[string]any{"_id": "s1"},
	}})
	c.MarkDirty(model.EntityKey("session", "t9"))

	require.NoError(t, e.DeepFlush(ctx, c))

	assert.Equal(t, []any{map[string]any{"_id": "t9"}}, stored(t, e, "speaker", "s1")["sessions"])
	assert.Equal(t, "Ada", field(t, stored(t, e, "session", "t9"), "speaker", "fields", "name"))
}

func TestConcurrentCallsShareACache(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})

	c := e.NewCache()
	var wg sync.WaitGroup
	results := make([]*model.Entity, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.Get(ctx, GetParams{ID: "s1", Type: "speaker"}, c)
		}()
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "Ada", results[i].Body["name"])
	}
}
