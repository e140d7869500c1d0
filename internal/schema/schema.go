// Package schema holds the process-wide entity schema, join templates and the
// indexes derived from them. A Config is built once at startup and never
// mutated afterwards.
package schema

import (
	"errors"
	"sort"
	"strings"
)

// ErrSchema marks configuration problems: unknown types, fields or relations.
var ErrSchema = errors.New("schema error")

// Kind is the tag of a field descriptor.
type Kind int

const (
	Scalar Kind = iota
	MultilingualScalar
	Relationship
)

func (k Kind) String() string {
	switch k {
	case MultilingualScalar:
		return "multilingual"
	case Relationship:
		return "relationship"
	}
	return "scalar"
}

// Cardinality of a relationship field.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Union names the relation to follow and the field, on the entities found
// there, that accumulates this field's values.
type Union struct {
	Via   string
	Field string
}

func (u *Union) String() string {
	return u.Via + "." + u.Field
}

// Field describes one field of an entity type.
type Field struct {
	Name           string
	Kind           Kind
	Type           string // declared scalar type, e.g. String
	To             string
	Cardinality    Cardinality
	Inverse        string
	UnionIn        *Union
	AutoSuggestion bool
}

// IsRelationship reports whether the field references other entities.
func (f *Field) IsRelationship() bool { return f.Kind == Relationship }

// Multilingual reports whether values live under a language key.
func (f *Field) Multilingual() bool { return f.Kind == MultilingualScalar }

// Many reports whether a relationship holds a list of references.
func (f *Field) Many() bool { return f.Kind == Relationship && f.Cardinality == Many }

// Entity is the schema of one entity type.
type Entity struct {
	Name   string
	Fields map[string]*Field
	names  []string
}

// Field returns the named field descriptor.
func (e *Entity) Field(name string) (*Field, bool) {
	f, ok := e.Fields[name]
	return f, ok
}

// FieldNames returns the field names in a stable order.
func (e *Entity) FieldNames() []string {
	return e.names
}

// PlainFields returns the names of every non-relationship field.
func (e *Entity) PlainFields() []string {
	var out []string
	for _, n := range e.names {
		if !e.Fields[n].IsRelationship() {
			out = append(out, n)
		}
	}
	return out
}

// Config is the loaded configuration.
type Config struct {
	Languages    []string
	Types        map[string]*Entity
	Joins        map[string]map[string]Joins // context -> type -> template
	Aggregations map[string][]string         // type -> logical paths

	inverted  map[string]map[string][]InvertedJoin // type -> field
	joinPaths map[string]map[string][]JoinPath     // type -> relation
	typeNames []string
}

// Entity returns the schema for a type.
func (c *Config) Entity(typ string) (*Entity, bool) {
	e, ok := c.Types[typ]
	return e, ok
}

// Field returns the descriptor for type.field.
func (c *Config) Field(typ, field string) (*Field, bool) {
	e, ok := c.Types[typ]
	if !ok {
		return nil, false
	}
	return e.Field(field)
}

// TypeNames returns every entity type in a stable order.
func (c *Config) TypeNames() []string {
	return c.typeNames
}

// JoinsFor returns the template for a context and type, or nil.
func (c *Config) JoinsFor(context, typ string) Joins {
	if context == "" {
		context = "index"
	}
	return c.Joins[context][typ]
}

// IsLanguage reports whether s is a supported language code.
func (c *Config) IsLanguage(s string) bool {
	for _, l := range c.Languages {
		if l == s {
			return true
		}
	}
	return false
}

// InvertedJoins returns every place the given field is denormalized.
func (c *Config) InvertedJoins(typ, field string) []InvertedJoin {
	return c.inverted[typ][field]
}

// HasInvertedJoins reports whether any template denormalizes type.field.
func (c *Config) HasInvertedJoins(typ, field string) bool {
	return len(c.inverted[typ][field]) > 0
}

// JoinPathsThrough returns the template paths that follow relation on typ.
func (c *Config) JoinPathsThrough(typ, relation string) []JoinPath {
	return c.joinPaths[typ][relation]
}

// UnionsVia returns the fields of typ whose values are unioned through relation.
func (c *Config) UnionsVia(typ, relation string) []*Field {
	e, ok := c.Types[typ]
	if !ok {
		return nil
	}
	var out []*Field
	for _, n := range e.names {
		f := e.Fields[n]
		if f.UnionIn != nil && f.UnionIn.Via == relation {
			out = append(out, f)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func parseUnion(s string) (*Union, bool) {
	via, field, ok := strings.Cut(s, ".")
	if !ok || via == "" || field == "" {
		return nil, false
	}
	return &Union{Via: via, Field: field}, true
}
