package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestParseFieldKinds(t *testing.T) {
	cfg, err := LoadString(conference)
	require.NoError(t, err)

	assert.Equal(t, []string{"english", "tibetan"}, cfg.Languages)
	assert.Equal(t, []string{"event", "session", "speaker"}, cfg.TypeNames())

	sessions, ok := cfg.Field("speaker", "sessions")
	require.True(t, ok)
	assert.Equal(t, Relationship, sessions.Kind)
	assert.Equal(t, Many, sessions.Cardinality)
	assert.Equal(t, "session", sessions.To)
	assert.Equal(t, "speaker", sessions.Inverse)

	speaker, _ := cfg.Field("session", "speaker")
	assert.Equal(t, One, speaker.Cardinality)
	require.NotNil(t, speaker.UnionIn)
	assert.Equal(t, "event", speaker.UnionIn.Via)
	assert.Equal(t, "speakers", speaker.UnionIn.Field)

	bio, _ := cfg.Field("speaker", "bio")
	assert.True(t, bio.Multilingual())

	name, _ := cfg.Field("speaker", "name")
	assert.Equal(t, Scalar, name.Kind)
	assert.Equal(t, "String", name.Type)
}

func TestJoinTemplates(t *testing.T) {
	cfg, err := LoadString(conference)
	require.NoError(t, err)

	j := cfg.JoinsFor("", "session")
	child, ok := j.Child("speaker")
	require.True(t, ok)
	assert.True(t, child.IsLeaf("name"))

	search := cfg.JoinsFor("search", "session")
	child, ok = search.Child("speaker")
	require.True(t, ok)
	assert.Empty(t, child)

	assert.Nil(t, cfg.JoinsFor("index", "speaker"))
}

func TestInvertedJoinIndex(t *testing.T) {
	cfg, err := LoadString(conference)
	require.NoError(t, err)

	inv := cfg.InvertedJoins("speaker", "name")
	require.Len(t, inv, 2)
	assert.Equal(t, InvertedJoin{Root: "event", Path: []string{"sessions", "event"}, JoinAtPath: []string{"sessions", "speaker"}}, inv[0])
	assert.Equal(t, InvertedJoin{Root: "session", Path: []string{"sessions"}, JoinAtPath: []string{"speaker"}}, inv[1])

	assert.True(t, cfg.HasInvertedJoins("session", "title"))
	assert.True(t, cfg.HasInvertedJoins("event", "title"))
	assert.False(t, cfg.HasInvertedJoins("speaker", "bio"))

	paths := cfg.JoinPathsThrough("session", "speaker")
	require.Len(t, paths, 2)
	assert.Equal(t, "event", paths[0].Root)
	assert.Equal(t, []string{"sessions"}, paths[0].Path)
	assert.Equal(t, []string{"event"}, paths[0].Inverse)
	assert.Equal(t, "session", paths[1].Root)
	assert.Empty(t, paths[1].Path)
}

func TestUnionsVia(t *testing.T) {
	cfg, err := LoadString(conference)
	require.NoError(t, err)

	fields := cfg.UnionsVia("session", "event")
	require.Len(t, fields, 2)
	assert.Equal(t, "speaker", fields[0].Name)
	assert.Equal(t, "tags", fields[1].Name)
}

func TestValidateRejectsAsymmetricInverse(t *testing.T) {
	_, err := LoadString(`
[schema.a.b]
type = "b"
isRelationship = true
inName = "a"
[schema.b.a]
type = "a"
isRelationship = true
inName = "other"
[schema.b.other]
type = "String"
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
	assert.Contains(t, err.Error(), "inName")
}

func TestValidateRejectsUnknownTargets(t *testing.T) {
	cases := map[string]string{
		"unknown target": `
[schema.a.b]
type = "nope"
isRelationship = true
`,
		"unknown join field": `
[schema.a.name]
type = "String"
[joins.index.a]
missing = 1
`,
		"nested join on plain field": `
[schema.a.name]
type = "String"
[joins.index.a]
name = { x = 1 }
`,
		"bad union": `
[schema.a.name]
type = "String"
unionIn = "name"
`,
		"multilingual without languages": `
[schema.a.name]
type = "String"
multiLingual = true
`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadString(src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchema), "got %v", err)
		})
	}
}
