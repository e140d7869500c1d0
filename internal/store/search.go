package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rcliao/epicgraph/internal/model"
)

const defaultSize = 10

type cursor struct {
	q       Query
	offset  int
	expires time.Time
}

// Search narrows candidates in SQL (index, type, full text) and applies
// filters, aggregations and paging over the decoded bodies.
func (s *SQLiteStore) Search(ctx context.Context, q Query) (*SearchResult, error) {
	res, err := s.search(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Scroll > 0 && len(res.Hits) > 0 {
		id := s.NewID()
		s.mu.Lock()
		s.scrolls[id] = &cursor{q: q, offset: q.From + len(res.Hits), expires: time.Now().Add(q.Scroll)}
		s.mu.Unlock()
		res.ScrollID = id
	}
	return res, nil
}

// Scroll returns the page after the last one served for scrollID.
func (s *SQLiteStore) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*SearchResult, error) {
	s.mu.Lock()
	c, ok := s.scrolls[scrollID]
	if ok && time.Now().After(c.expires) {
		delete(s.scrolls, scrollID)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("scroll %s: not found or expired", scrollID)
	}

	q := c.q
	q.From = c.offset
	q.Aggregations = nil
	res, err := s.search(ctx, q)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(res.Hits) == 0 {
		delete(s.scrolls, scrollID)
		return res, nil
	}
	c.offset += len(res.Hits)
	c.expires = time.Now().Add(keepAlive)
	res.ScrollID = scrollID
	return res, nil
}

func (s *SQLiteStore) search(ctx context.Context, q Query) (*SearchResult, error) {
	from := "documents d"
	where := []string{"1 = 1"}
	args := []interface{}{}
	order := "d.updated_at DESC, d.id"

	if len(q.Indexes) > 0 {
		where = append(where, "d.idx IN ("+placeholders(len(q.Indexes))+")")
		for _, i := range q.Indexes {
			args = append(args, i)
		}
	}
	if len(q.Types) > 0 {
		where = append(where, "d.type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if match := ftsQuery(q.Text, q.Prefix); match != "" {
		from += " JOIN documents_fts ON documents_fts.rowid = d.rowid"
		where = append(where, "documents_fts MATCH ?")
		args = append(args, match)
		order = "documents_fts.rank"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT d.idx, d.type, d.id, d.body FROM %s WHERE %s ORDER BY %s`,
		from, strings.Join(where, " AND "), order), args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	var matched []*model.Entity
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if matches(doc.Body, filters) {
			matched = append(matched, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res := &SearchResult{Total: len(matched), Hits: []*model.Entity{}}
	if len(q.Aggregations) > 0 {
		res.Aggregations = aggregate(matched, q.Aggregations)
	}

	size := q.Size
	if size <= 0 {
		size = defaultSize
	}
	start := q.From
	if start < 0 {
		start = 0
	}
	for i := start; i < len(matched) && i < start+size; i++ {
		doc := matched[i]
		if len(q.Fields) > 0 {
			doc.Body = project(doc.Body, q.Fields)
		}
		res.Hits = append(res.Hits, doc)
	}
	return res, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ftsQuery quotes every term so user text never parses as FTS5 syntax.
func ftsQuery(text string, prefix bool) string {
	var terms []string
	for _, t := range strings.Fields(text) {
		term := `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		if prefix {
			term += "*"
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " ")
}

func normalizeFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		v, err := model.Normalize(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Path, err)
		}
		out = append(out, Filter{Path: f.Path, Value: v})
	}
	return out, nil
}

func matches(body map[string]any, filters []Filter) bool {
	for _, f := range filters {
		found := false
		for _, v := range valuesAt(body, f.Path) {
			if cmp.Equal(v, f.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func aggregate(docs []*model.Entity, aggs map[string]string) map[string][]Bucket {
	out := map[string][]Bucket{}
	for name, path := range aggs {
		counts := map[any]int{}
		for _, doc := range docs {
			seen := map[any]bool{}
			for _, v := range valuesAt(doc.Body, path) {
				switch v.(type) {
				case string, float64, bool:
				default:
					continue
				}
				if !seen[v] {
					seen[v] = true
					counts[v]++
				}
			}
		}
		buckets := make([]Bucket, 0, len(counts))
		for k, n := range counts {
			buckets = append(buckets, Bucket{Key: k, Count: n})
		}
		sort.Slice(buckets, func(i, j int) bool {
			if buckets[i].Count != buckets[j].Count {
				return buckets[i].Count > buckets[j].Count
			}
			return fmt.Sprint(buckets[i].Key) < fmt.Sprint(buckets[j].Key)
		})
		out[name] = buckets
	}
	return out
}
