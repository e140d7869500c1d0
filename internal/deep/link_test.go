package deep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
)

var (
	t1 = model.Ref{ID: "t1", Type: "session"}
	t2 = model.Ref{ID: "t2", Type: "session"}
	e1 = model.Ref{ID: "e1", Type: "event"}
)

func TestLinkSpeakerToSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})
	mustCreate(t, e, "session", "t1", map[string]any{"english": map[string]any{"title": "Graphs"}})

	res := mustLink(t, e, t1, "speaker", "s1")
	assert.Equal(t, "sessions", res.E2ToE1Relation)
	require.NotNil(t, res.E2)
	assert.Equal(t, "s1", res.E2.ID)

	assert.Equal(t, map[string]any{
		"_id":    "s1",
		"own":    true,
		"fields": map[string]any{"name": "Ada"},
	}, stored(t, e, "session", "t1")["speaker"])
	assert.Equal(t, []any{map[string]any{"_id": "t1", "own": true}}, stored(t, e, "speaker", "s1")["sessions"])

	got, err := e.Get(ctx, GetParams{ID: "t1", Type: "session", Joins: schema.Joins{"speaker": nil}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_id": "s1"}, got.Body["speaker"])
}

func TestLinkIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})
	mustCreate(t, e, "session", "t1", nil)

	mustLink(t, e, t1, "speaker", "s1")
	session, speaker := stored(t, e, "session", "t1"), stored(t, e, "speaker", "s1")

	mustLink(t, e, t1, "speaker", "s1")
	assert.Equal(t, session, stored(t, e, "session", "t1"))
	assert.Equal(t, speaker, stored(t, e, "speaker", "s1"))
}

func TestLinkFromEitherSide(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})
	mustCreate(t, e, "session", "t1", nil)

	res := mustLink(t, e, model.Ref{ID: "s1", Type: "speaker"}, "sessions", "t1")
	assert.Equal(t, "speaker", res.E2ToE1Relation)

	assert.Equal(t, "s1", model.RefID(stored(t, e, "session", "t1")["speaker"]))
	assert.True(t, model.HasRef(stored(t, e, "speaker", "s1")["sessions"], "t1"))
}

func TestUnlinkUndoesLink(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})
	mustCreate(t, e, "session", "t1", map[string]any{"english": map[string]any{"title": "Graphs"}})
	session, speaker := stored(t, e, "session", "t1"), stored(t, e, "speaker", "s1")

	mustLink(t, e, t1, "speaker", "s1")
	res, err := e.Unlink(ctx, LinkParams{E1: t1, Relation: "speaker", E2: &model.Ref{ID: "s1"}}, nil)
	require.NoError(t, err)
	assert.NotContains(t, res.E1.Body, "speaker")

	assert.Equal(t, session, stored(t, e, "session", "t1"))
	assert.Equal(t, speaker, stored(t, e, "speaker", "s1"))
}

func TestLinkReplacesSingleReference(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})
	mustCreate(t, e, "speaker", "s2", map[string]any{"name": "Grace"})
	mustCreate(t, e, "session", "t1", nil)

	mustLink(t, e, t1, "speaker", "s1")
	mustLink(t, e, t1, "speaker", "s2")

	assert.Equal(t, "Grace", field(t, stored(t, e, "session", "t1"), "speaker", "fields", "name"))
	assert.NotContains(t, stored(t, e, "speaker", "s1"), "sessions")
	assert.True(t, model.HasRef(stored(t, e, "speaker", "s2")["sessions"], "t1"))
}

func TestLinkMany(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "event", "e1", nil)
	mustCreate(t, e, "session", "t1", nil)
	mustCreate(t, e, "session", "t2", nil)

	res, err := e.Link(ctx, LinkParams{E1: e1, Relation: "sessions", E2Entities: []model.Ref{{ID: "t1"}, {ID: "t2"}}}, nil)
	require.NoError(t, err)
	assert.Len(t, res.E2Entities, 2)
	assert.Equal(t, []string{"t1", "t2"}, model.RefIDs(stored(t, e, "event", "e1")["sessions"]))
	assert.Equal(t, "e1", model.RefID(stored(t, e, "session", "t2")["event"]))
}

func TestCreateWithReferenceLinksBothWays(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})
	mustCreate(t, e, "session", "t1", map[string]any{"speaker": map[string]any{"_id": "s1"}})

	assert.Equal(t, []any{map[string]any{"_id": "t1"}}, stored(t, e, "speaker", "s1")["sessions"])
	assert.Equal(t, "Ada", field(t, stored(t, e, "session", "t1"), "speaker", "fields", "name"))
}

func TestUpdateOfRelationshipRelinks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	mustCreate(t, e, "speaker", "s1", map[string]any{"name": "Ada"})
	mustCreate(t, e, "speaker", "s2", map[string]any{"name": "Grace"})
	mustCreate(t, e, "session", "t1", map[string]any{"speaker": map[string]any{"_id": "s1"}})

	_, err := e.Update(ctx, UpdateParams{ID: "t1", Type: "session", Update: Update{
		Set: map[string]any{"speaker": map[string]any{"_id": "s2"}},
	}}, nil)
	require.NoError(t, err)

	assert.NotContains(t, stored(t, e, "speaker", "s1"), "sessions")
	assert.True(t, model.HasRef(stored(t, e, "speaker", "s2")["sessions"], "t1"))
	assert.Equal(t, "Grace", field(t, stored(t, e, "session", "t1"), "speaker", "fields", "name"))
}
