package deep

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/epicgraph/internal/model"
	"github.com/rcliao/epicgraph/internal/schema"
)

// LogicalPaths lists the dotted field paths a join template reads on typ.
// A level without leaves reads every plain field of its type.
func LogicalPaths(cfg *schema.Config, typ string, joins schema.Joins) ([]string, error) {
	ent, ok := cfg.Entity(typ)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrSchema, typ)
	}
	var out []string
	for _, k := range fieldNames(ent, joins) {
		child, nested := joins.Child(k)
		if !nested {
			out = append(out, k)
			continue
		}
		f, ok := ent.Field(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrSchema, typ, k)
		}
		sub, err := LogicalPaths(cfg, f.To, child)
		if err != nil {
			return nil, err
		}
		for _, p := range sub {
			out = append(out, k+"."+p)
		}
	}
	return out, nil
}

// FieldsToFetch returns the store paths needed to resolve joins on typ.
func FieldsToFetch(cfg *schema.Config, typ string, joins schema.Joins, langs []string) ([]string, error) {
	paths, err := LogicalPaths(cfg, typ, joins)
	if err != nil {
		return nil, err
	}
	return ResolvePaths(cfg, typ, langs, paths)
}

// ResolvePaths turns logical paths like sessions.speaker.name into store
// paths: multilingual fields are expanded per language and every
// relationship hop goes through its resolved fields. The _id path of every
// hop is included. Without langs every supported language is used.
func ResolvePaths(cfg *schema.Config, typ string, langs []string, paths []string) ([]string, error) {
	if len(langs) == 0 {
		langs = cfg.Languages
	}
	if len(langs) == 0 {
		langs = []string{""}
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		for _, lang := range langs {
			resolved, err := resolvePath(cfg, typ, lang, strings.Split(p, "."))
			if err != nil {
				return nil, err
			}
			for _, r := range resolved {
				if !seen[r] {
					seen[r] = true
					out = append(out, r)
				}
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func resolvePath(cfg *schema.Config, typ, lang string, segs []string) ([]string, error) {
	var result, ids []string
	for i, seg := range segs {
		f, ok := cfg.Field(typ, seg)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrSchema, typ, seg)
		}
		switch f.Kind {
		case schema.Relationship:
			result = append(result, seg)
			ids = append(ids, strings.Join(append(append([]string(nil), result...), model.IDKey), "."))
			if i < len(segs)-1 {
				result = append(result, model.FieldsKey)
			} else {
				result = append(result, model.IDKey)
			}
			typ = f.To
		case schema.MultilingualScalar:
			if lang != "" {
				result = append(result, lang)
			}
			result = append(result, seg)
		default:
			result = append(result, seg)
		}
	}
	return append(ids, strings.Join(result, ".")), nil
}

// fieldNames returns the top-level names a template level keeps: its leaves
// and nested joins, or every plain field plus the nested joins when it has
// no leaves.
func fieldNames(ent *schema.Entity, joins schema.Joins) []string {
	leaves := joins.Leaves()
	if len(leaves) == 0 {
		leaves = ent.PlainFields()
	}
	seen := map[string]bool{}
	var out []string
	for _, k := range leaves {
		seen[k] = true
		out = append(out, k)
	}
	for k, child := range joins {
		if child != nil && !seen[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
