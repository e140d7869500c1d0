package schema

import (
	"fmt"
)

// Joins is a join template. A nil child is a leaf: a plain field to fetch or
// an id-only relationship. A non-nil child on a relationship joins the target
// with that nested template; an empty child fetches all its plain fields.
type Joins map[string]Joins

// IsLeaf reports whether name is present as a leaf.
func (j Joins) IsLeaf(name string) bool {
	child, ok := j[name]
	return ok && child == nil
}

// Child returns the nested template for name and whether it is joinable.
func (j Joins) Child(name string) (Joins, bool) {
	child, ok := j[name]
	return child, ok && child != nil
}

// Leaves returns the leaf names of this level.
func (j Joins) Leaves() []string {
	var out []string
	for _, k := range sortedKeys(j) {
		if j[k] == nil {
			out = append(out, k)
		}
	}
	return out
}

// InvertedJoin records one place a field is denormalized. JoinAtPath is the
// relation path from the denormalizing entity down to the field's owner; Path
// is the same walk expressed from the owner back up, using inverse relations.
type InvertedJoin struct {
	Root       string
	Path       []string
	JoinAtPath []string
}

// JoinPath is a template path, starting at an entity of type Root, that
// reaches an entity through Path and then follows a relation of it.
type JoinPath struct {
	Root string
	Path []string
	// Inverse is Path walked back with inverse relation names.
	Inverse []string
}

// ParseJoins converts a decoded config value into a template.
func ParseJoins(v any) (Joins, error) {
	switch t := v.(type) {
	case map[string]any:
		out := Joins{}
		for k, child := range t {
			j, err := ParseJoins(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = j
		}
		return out, nil
	case bool, int, int64, float64:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unsupported join value %v (%T)", ErrSchema, v, v)
}

// buildDerived fills the inverted join index and the join paths from the
// index-time templates.
func (c *Config) buildDerived() error {
	c.inverted = map[string]map[string][]InvertedJoin{}
	c.joinPaths = map[string]map[string][]JoinPath{}
	for _, root := range sortedKeys(c.Joins["index"]) {
		if err := c.walkTemplate(root, root, c.Joins["index"][root], nil); err != nil {
			return fmt.Errorf("joins.index.%s: %w", root, err)
		}
	}
	return nil
}

func (c *Config) walkTemplate(root, typ string, tmpl Joins, path []string) error {
	ent, ok := c.Types[typ]
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrSchema, typ)
	}
	var inverse []string
	if len(path) > 0 {
		var err error
		inverse, err = c.inversePath(root, path)
		if err != nil {
			return err
		}
		fields := tmpl.Leaves()
		if len(fields) == 0 {
			fields = ent.PlainFields()
		}
		for _, k := range fields {
			if !ent.Fields[k].IsRelationship() {
				c.addInverted(typ, k, root, path, inverse)
			}
		}
	}
	for _, k := range sortedKeys(tmpl) {
		f := ent.Fields[k]
		if !f.IsRelationship() {
			continue
		}
		child := tmpl[k]
		if len(path) > 0 || child != nil {
			c.addJoinPath(typ, k, root, path, inverse)
		}
		if child == nil {
			continue
		}
		next := append(append([]string(nil), path...), k)
		if err := c.walkTemplate(root, f.To, child, next); err != nil {
			return err
		}
	}
	return nil
}

// inversePath turns a relation path from root into the walk back to root.
func (c *Config) inversePath(root string, path []string) ([]string, error) {
	types := []string{root}
	typ := root
	for _, rel := range path {
		f, _ := c.Field(typ, rel)
		typ = f.To
		types = append(types, typ)
	}
	inverse := make([]string, 0, len(path))
	for i := len(path) - 1; i >= 0; i-- {
		f, _ := c.Field(types[i], path[i])
		if f.Inverse == "" {
			return nil, fmt.Errorf("%w: relation %s.%s is joined but declares no inName", ErrSchema, types[i], path[i])
		}
		inverse = append(inverse, f.Inverse)
	}
	return inverse, nil
}

func (c *Config) addInverted(typ, field, root string, path, inverse []string) {
	if c.inverted[typ] == nil {
		c.inverted[typ] = map[string][]InvertedJoin{}
	}
	c.inverted[typ][field] = append(c.inverted[typ][field], InvertedJoin{
		Root:       root,
		Path:       append([]string(nil), inverse...),
		JoinAtPath: append([]string(nil), path...),
	})
}

func (c *Config) addJoinPath(typ, relation, root string, path, inverse []string) {
	if c.joinPaths[typ] == nil {
		c.joinPaths[typ] = map[string][]JoinPath{}
	}
	c.joinPaths[typ][relation] = append(c.joinPaths[typ][relation], JoinPath{
		Root:    root,
		Path:    append([]string(nil), path...),
		Inverse: append([]string(nil), inverse...),
	})
}
