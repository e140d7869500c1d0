package schema

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Validate checks relationship symmetry, union targets and join templates.
// Every problem found is reported.
func (c *Config) Validate() error {
	var err error
	for _, typ := range c.typeNames {
		ent := c.Types[typ]
		for _, name := range ent.names {
			err = multierr.Append(err, c.validateField(typ, ent.Fields[name]))
		}
	}
	for context, byType := range c.Joins {
		for typ, tmpl := range byType {
			err = multierr.Append(err, c.validateJoins(fmt.Sprintf("joins.%s.%s", context, typ), typ, tmpl))
		}
	}
	for typ, paths := range c.Aggregations {
		ent, ok := c.Types[typ]
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: aggregations for unknown type %q", ErrSchema, typ))
			continue
		}
		for _, p := range paths {
			first, _, _ := strings.Cut(p, ".")
			if _, ok := ent.Fields[first]; !ok {
				err = multierr.Append(err, fmt.Errorf("%w: aggregation path %s.%s names no field", ErrSchema, typ, p))
			}
		}
	}
	return err
}

func (c *Config) validateField(typ string, f *Field) error {
	if f.Multilingual() && len(c.Languages) == 0 {
		return fmt.Errorf("%w: %s.%s is multilingual but no supportedLanguages are configured", ErrSchema, typ, f.Name)
	}
	if f.IsRelationship() {
		target, ok := c.Types[f.To]
		if !ok {
			return fmt.Errorf("%w: %s.%s points to unknown type %q", ErrSchema, typ, f.Name, f.To)
		}
		if f.Inverse != "" {
			back, ok := target.Fields[f.Inverse]
			switch {
			case !ok:
				return fmt.Errorf("%w: %s.%s declares inName %q missing on %s", ErrSchema, typ, f.Name, f.Inverse, f.To)
			case !back.IsRelationship() || back.To != typ:
				return fmt.Errorf("%w: %s.%s must be a relationship to %s", ErrSchema, f.To, f.Inverse, typ)
			case back.Inverse != f.Name:
				return fmt.Errorf("%w: %s.%s must declare inName %q, has %q", ErrSchema, f.To, f.Inverse, f.Name, back.Inverse)
			}
		}
	}
	if f.UnionIn == nil {
		return nil
	}
	if f.Multilingual() {
		return fmt.Errorf("%w: %s.%s unionIn %s: multilingual fields cannot be unioned", ErrSchema, typ, f.Name, f.UnionIn)
	}
	via, ok := c.Field(typ, f.UnionIn.Via)
	if !ok || !via.IsRelationship() {
		return fmt.Errorf("%w: %s.%s unionIn %s: %s is not a relationship of %s", ErrSchema, typ, f.Name, f.UnionIn, f.UnionIn.Via, typ)
	}
	if via.Inverse == "" {
		return fmt.Errorf("%w: %s.%s unionIn %s: relation %s declares no inName", ErrSchema, typ, f.Name, f.UnionIn, f.UnionIn.Via)
	}
	into, ok := c.Field(via.To, f.UnionIn.Field)
	if !ok {
		return fmt.Errorf("%w: %s.%s unionIn %s: %s has no field %q", ErrSchema, typ, f.Name, f.UnionIn, via.To, f.UnionIn.Field)
	}
	if f.IsRelationship() != into.IsRelationship() || into.Multilingual() {
		return fmt.Errorf("%w: %s.%s unionIn %s: field kinds differ", ErrSchema, typ, f.Name, f.UnionIn)
	}
	if f.IsRelationship() && (into.To != f.To || !into.Many()) {
		return fmt.Errorf("%w: %s.%s unionIn %s: target must be a many relationship to %s", ErrSchema, typ, f.Name, f.UnionIn, f.To)
	}
	return nil
}

func (c *Config) validateJoins(at, typ string, tmpl Joins) error {
	ent, ok := c.Types[typ]
	if !ok {
		return fmt.Errorf("%w: %s: unknown type %q", ErrSchema, at, typ)
	}
	var err error
	for _, k := range sortedKeys(tmpl) {
		f, ok := ent.Fields[k]
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: %s: %s has no field %q", ErrSchema, at, typ, k))
			continue
		}
		child := tmpl[k]
		if child == nil {
			continue
		}
		if !f.IsRelationship() {
			err = multierr.Append(err, fmt.Errorf("%w: %s.%s: nested join on a plain field", ErrSchema, at, k))
			continue
		}
		err = multierr.Append(err, c.validateJoins(at+"."+k, f.To, child))
	}
	return err
}
