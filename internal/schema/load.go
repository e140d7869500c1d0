package schema

import (
	"fmt"
	"sort"

	"github.com/pelletier/go-toml"
)

// Load reads a TOML configuration file.
func Load(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return Parse(tree.ToMap())
}

// LoadString parses TOML configuration text.
func LoadString(s string) (*Config, error) {
	tree, err := toml.Load(s)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Parse(tree.ToMap())
}

// Parse builds a Config from decoded configuration sections, validates it and
// derives the join indexes.
func Parse(raw map[string]any) (*Config, error) {
	c := &Config{
		Types:        map[string]*Entity{},
		Joins:        map[string]map[string]Joins{},
		Aggregations: map[string][]string{},
	}

	if common, ok := raw["common"].(map[string]any); ok {
		c.Languages = toStrings(common["supportedLanguages"])
	}

	schemas, _ := raw["schema"].(map[string]any)
	for typ, v := range schemas {
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: schema.%s is not a table", ErrSchema, typ)
		}
		ent := &Entity{Name: typ, Fields: map[string]*Field{}}
		for name, fv := range fields {
			def, ok := fv.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: schema.%s.%s is not a table", ErrSchema, typ, name)
			}
			f, err := parseField(name, def)
			if err != nil {
				return nil, fmt.Errorf("schema.%s.%s: %w", typ, name, err)
			}
			ent.Fields[name] = f
		}
		ent.names = sortedKeys(ent.Fields)
		c.Types[typ] = ent
	}
	c.typeNames = sortedKeys(c.Types)

	joins, _ := raw["joins"].(map[string]any)
	for context, v := range joins {
		byType, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: joins.%s is not a table", ErrSchema, context)
		}
		c.Joins[context] = map[string]Joins{}
		for typ, tv := range byType {
			j, err := ParseJoins(tv)
			if err != nil {
				return nil, fmt.Errorf("joins.%s.%s: %w", context, typ, err)
			}
			if j == nil {
				j = Joins{}
			}
			c.Joins[context][typ] = j
		}
	}

	aggs, _ := raw["aggregations"].(map[string]any)
	for typ, v := range aggs {
		paths := toStrings(v)
		sort.Strings(paths)
		c.Aggregations[typ] = paths
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.buildDerived(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseField(name string, def map[string]any) (*Field, error) {
	f := &Field{Name: name}
	isRel, _ := def["isRelationship"].(bool)
	multi, _ := def["multiLingual"].(bool)
	f.AutoSuggestion, _ = def["autoSuggestion"].(bool)
	f.To, _ = def["to"].(string)
	f.Inverse, _ = def["inName"].(string)

	var listType bool
	switch t := def["type"].(type) {
	case string:
		f.Type = t
	case []any:
		listType = true
		if len(t) > 0 {
			f.Type, _ = t[0].(string)
		}
	}

	switch {
	case isRel:
		f.Kind = Relationship
		if f.To == "" {
			f.To = f.Type
		}
		if f.To == "" {
			return nil, fmt.Errorf("%w: relationship without a target type", ErrSchema)
		}
		card, _ := def["cardinality"].(string)
		switch Cardinality(card) {
		case One, Many:
			f.Cardinality = Cardinality(card)
		case "":
			f.Cardinality = One
			if listType {
				f.Cardinality = Many
			}
		default:
			return nil, fmt.Errorf("%w: unknown cardinality %q", ErrSchema, card)
		}
	case multi:
		f.Kind = MultilingualScalar
	default:
		f.Kind = Scalar
	}

	if u, ok := def["unionIn"].(string); ok && u != "" {
		union, ok := parseUnion(u)
		if !ok {
			return nil, fmt.Errorf("%w: unionIn %q must be <relation>.<field>", ErrSchema, u)
		}
		f.UnionIn = union
	}
	return f, nil
}

func toStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
