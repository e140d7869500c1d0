package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Index(ctx, IndexParams{
		ID: "s1", Type: "speaker", Body: map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if id != "s1" {
		t.Errorf("expected id s1, got %q", id)
	}

	doc, found, err := s.Get(ctx, GetParams{ID: "s1", Type: "speaker"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected document to be found")
	}
	if doc.Index != "speakers" {
		t.Errorf("expected default index speakers, got %q", doc.Index)
	}
	if doc.Body["name"] != "Ada" {
		t.Errorf("expected name Ada, got %v", doc.Body["name"])
	}
}

func TestIndexGeneratesID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Index(ctx, IndexParams{Type: "speaker", Body: map[string]any{"name": "Grace"}})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(id) != 26 {
		t.Errorf("expected a 26 char ULID, got %q", id)
	}
	if _, found, _ := s.Get(ctx, GetParams{ID: id, Type: "speaker"}); !found {
		t.Error("generated id should be retrievable")
	}
}

func TestIndexReplacesAndVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Index(ctx, IndexParams{ID: "1", Type: "session", Body: map[string]any{"title": "v1"}})
	s.Index(ctx, IndexParams{ID: "1", Type: "session", Body: map[string]any{"title": "v2"}})

	doc, _, err := s.Get(ctx, GetParams{ID: "1", Type: "session"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Body["title"] != "v2" {
		t.Errorf("expected v2, got %v", doc.Body["title"])
	}

	st, err := s.Stats(ctx, filepath.Join(t.TempDir(), "missing.db"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 1 {
		t.Fatalf("expected 1 document, got %d", st.Documents)
	}
	if len(st.Indexes) != 1 || st.Indexes[0].Versions != 2 {
		t.Errorf("expected version 2 recorded, got %+v", st.Indexes)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	doc, found, err := s.Get(context.Background(), GetParams{ID: "nope", Type: "speaker"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found || doc != nil {
		t.Error("expected not found")
	}
}

func TestGetProjectsFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Index(ctx, IndexParams{ID: "e1", Type: "session", Body: map[string]any{
		"english": map[string]any{"title": "Talk", "description": "long"},
		"speaker": map[string]any{"_id": "s1", "fields": map[string]any{"name": "Ada", "bio": "x"}},
		"tags":    []any{"go"},
	}})

	doc, _, err := s.Get(ctx, GetParams{ID: "e1", Type: "session", Fields: []string{
		"english.title", "speaker._id", "speaker.fields.name",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Body["tags"]; ok {
		t.Error("tags should be projected away")
	}
	english := doc.Body["english"].(map[string]any)
	if english["title"] != "Talk" || english["description"] != nil {
		t.Errorf("unexpected english projection %v", english)
	}
	speaker := doc.Body["speaker"].(map[string]any)
	fields := speaker["fields"].(map[string]any)
	if speaker["_id"] != "s1" || fields["name"] != "Ada" || fields["bio"] != nil {
		t.Errorf("unexpected speaker projection %v", speaker)
	}
}

func TestMultiGetKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Index(ctx, IndexParams{ID: "a", Type: "speaker", Body: map[string]any{"name": "A"}})
	s.Index(ctx, IndexParams{ID: "b", Type: "speaker", Body: map[string]any{"name": "B"}})

	docs, err := s.MultiGet(ctx, []DocRef{
		{ID: "b", Type: "speaker"},
		{ID: "missing", Type: "speaker"},
		{ID: "a", Type: "speaker"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(docs))
	}
	if docs[0].ID != "b" || docs[1] != nil || docs[2].ID != "a" {
		t.Errorf("unexpected order: %v", docs)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	src.Index(ctx, IndexParams{ID: "1", Type: "speaker", Body: map[string]any{"name": "A"}})
	src.Index(ctx, IndexParams{ID: "2", Type: "session", Index: "talks", Body: map[string]any{"title": "T"}})

	docs, err := src.ExportAll(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}

	dst := newTestStore(t)
	n, err := dst.Import(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported, got %d", n)
	}
	doc, found, _ := dst.Get(ctx, GetParams{ID: "2", Type: "session", Index: "talks"})
	if !found || doc.Body["title"] != "T" {
		t.Errorf("expected session in talks index, got %v", doc)
	}

	only, _ := dst.ExportAll(ctx, "talks")
	if len(only) != 1 {
		t.Errorf("expected 1 doc in talks, got %d", len(only))
	}
}

func TestTextOf(t *testing.T) {
	got := textOf(map[string]any{
		"b": "second",
		"a": []any{"first", map[string]any{"_id": "skip", "c": "third"}},
	})
	if got != "first third second" {
		t.Errorf("unexpected text %q", got)
	}
}
