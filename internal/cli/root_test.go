package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/epicgraph/internal/schema"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(3), parseValue("3"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, map[string]any{"_id": "s1"}, parseValue(`{"_id":"s1"}`))
	assert.Equal(t, "plain text", parseValue("plain text"))
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"english.title=Graphs", "tags=[\"go\"]", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"english.title": "Graphs",
		"tags":          []any{"go"},
		"note":          "a=b",
	}, got)

	got, err = parseAssignments(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseAssignments([]string{"missing"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

func TestParseJoins(t *testing.T) {
	j, err := parseJoins(`{"speaker":{"name":1},"event":{}}`)
	require.NoError(t, err)
	assert.Equal(t, schema.Joins{"speaker": schema.Joins{"name": nil}, "event": schema.Joins{}}, j)

	j, err = parseJoins("")
	require.NoError(t, err)
	assert.Nil(t, j)

	_, err = parseJoins("{")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
