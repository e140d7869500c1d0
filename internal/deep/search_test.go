package deep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/epicgraph/internal/store"
)

func seedSessions(t *testing.T, e *Engine) {
	t.Helper()
	mustCreate(t, e, "session", "t1", map[string]any{
		"english": map[string]any{"title": "Graph databases"},
		"tibetan": map[string]any{"title": "Ri mo"},
		"tags":    []any{"go", "graphs"},
	})
	mustCreate(t, e, "session", "t2", map[string]any{
		"english": map[string]any{"title": "Concurrency patterns"},
		"tags":    []any{"go"},
	})
	mustCreate(t, e, "session", "t3", map[string]any{
		"english": map[string]any{"title": "Ownership in Rust"},
		"tags":    []any{"rust"},
	})
}

func hitIDs(res *store.SearchResult) []string {
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids
}

func TestSearchText(t *testing.T) {
	e := newTestEngine(t)
	seedSessions(t, e)

	res, err := e.Search(context.Background(), SearchParams{Types: []string{"session"}, Q: "databases"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"t1"}, hitIDs(res))
}

func TestSearchFiltersAndAggregations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedSessions(t, e)

	res, err := e.Search(ctx, SearchParams{Types: []string{"session"}}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.NotEmpty(t, res.Aggregations["tags"])
	assert.Equal(t, store.Bucket{Key: "go", Count: 2}, res.Aggregations["tags"][0])

	res, err = e.Search(ctx, SearchParams{Types: []string{"session"}, Filters: map[string]any{"tags": "rust"}, NoAggs: true}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, hitIDs(res))
	assert.Nil(t, res.Aggregations)
}

func TestSearchSuggest(t *testing.T) {
	e := newTestEngine(t)
	seedSessions(t, e)
	assert.Equal(t, []string{"session"}, e.SuggestTypes())

	res, err := e.Search(context.Background(), SearchParams{Q: "conc", Suggest: true}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, hitIDs(res))
}

func TestSearchLanguages(t *testing.T) {
	e := newTestEngine(t)
	seedSessions(t, e)

	res, err := e.Search(context.Background(), SearchParams{Types: []string{"session"}, Q: "databases", Langs: []string{"english"}}, nil, false)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.NotContains(t, res.Hits[0].Body, "tibetan")
	assert.Contains(t, res.Hits[0].Body, "english")
}

func TestSearchSeesCachedEntities(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedSessions(t, e)

	c := e.NewCache()
	_, err := e.Update(ctx, UpdateParams{ID: "t1", Type: "session", Update: Update{
		Set: map[string]any{"english.title": "Graph databases, revisited"},
	}}, c)
	require.NoError(t, err)

	res, err := e.Search(ctx, SearchParams{Types: []string{"session"}, Q: "databases"}, c, false)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "Graph databases, revisited", field(t, res.Hits[0].Body, "english", "title"))
}

func TestSearchResultsAreCached(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedSessions(t, e)
	c := e.NewCache()
	p := SearchParams{Types: []string{"session"}, Q: "go"}

	miss, err := e.Search(ctx, p, c, true)
	require.NoError(t, err)
	assert.Nil(t, miss)

	first, err := e.Search(ctx, p, c, false)
	require.NoError(t, err)
	second, err := e.Search(ctx, p, c, true)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSearchJoinsHits(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada", "english": map[string]any{"bio": "Mathematician"}})
	mustCreate(t, e, "session", "t1", map[string]any{"speaker": map[string]any{"_id": "s1"}})

	res, err := e.Search(context.Background(), SearchParams{Types: []string{"session"}, JoinContext: "search"}, nil, false)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, map[string]any{
		"name":    "Ada",
		"english": map[string]any{"bio": "Mathematician"},
	}, field(t, res.Hits[0].Body, "speaker", "fields"))
}

func TestScroll(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seedSessions(t, e)

	res, err := e.Search(ctx, SearchParams{Types: []string{"session"}, Size: 2, Scroll: time.Minute, NoAggs: true}, nil, false)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	require.NotEmpty(t, res.ScrollID)

	next, err := e.Scroll(ctx, ScrollParams{ScrollID: res.ScrollID}, nil)
	require.NoError(t, err)
	require.Len(t, next.Hits, 1)

	seen := append(hitIDs(res), hitIDs(next)...)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, seen)

	_, err = e.Scroll(ctx, ScrollParams{}, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSearchUnknownType(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Search(context.Background(), SearchParams{Types: []string{"venue"}}, nil, false)
	assert.ErrorIs(t, err, ErrSchema)
}
