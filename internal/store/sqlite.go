package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/epicgraph/internal/model"
)

// SQLiteStore implements Store using SQLite. Each document is one row keyed
// by (index, type, id) with its JSON body; a FTS5 table indexes the body text.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex // guards entropy and scrolls
	entropy *rand.Rand
	scrolls map[string]*cursor
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		scrolls: map[string]*cursor{},
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewID returns a new ULID string.
func (s *SQLiteStore) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		idx         TEXT NOT NULL,
		type        TEXT NOT NULL,
		id          TEXT NOT NULL,
		body        TEXT NOT NULL,
		text        TEXT NOT NULL DEFAULT '',
		version     INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (idx, type, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at DESC);

	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		text,
		content=documents,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO documents_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, text) VALUES('delete', old.rowid, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			INSERT INTO documents_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}
	return nil
}

// Index writes a document, bumping its version when it already exists.
func (s *SQLiteStore) Index(ctx context.Context, p IndexParams) (string, error) {
	if p.Type == "" {
		return "", fmt.Errorf("index: type is required")
	}
	id := p.ID
	if id == "" {
		id = s.NewID()
	}
	body := p.Body
	if body == nil {
		body = map[string]any{}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode body: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (idx, type, id, body, text, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(idx, type, id) DO UPDATE SET
		   body = excluded.body,
		   text = excluded.text,
		   version = documents.version + 1,
		   updated_at = excluded.updated_at`,
		model.IndexFor(p.Type, p.Index), p.Type, id, string(b), textOf(body), now, now)
	if err != nil {
		return "", fmt.Errorf("index %s/%s: %w", p.Type, id, err)
	}
	return id, nil
}

// Get fetches one document, projected to p.Fields when given.
func (s *SQLiteStore) Get(ctx context.Context, p GetParams) (*model.Entity, bool, error) {
	if p.ID == "" || p.Type == "" {
		return nil, false, fmt.Errorf("get: id and type are required")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT idx, type, id, body FROM documents WHERE idx = ? AND type = ? AND id = ?`,
		model.IndexFor(p.Type, p.Index), p.Type, p.ID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", p.Type, p.ID, err)
	}
	if len(p.Fields) > 0 {
		doc.Body = project(doc.Body, p.Fields)
	}
	return doc, true, nil
}

// MultiGet fetches documents in request order.
func (s *SQLiteStore) MultiGet(ctx context.Context, refs []DocRef) ([]*model.Entity, error) {
	out := make([]*model.Entity, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	where := make([]string, 0, len(refs))
	args := make([]interface{}, 0, len(refs)*3)
	pos := map[string][]int{}
	for i, r := range refs {
		idx := model.IndexFor(r.Type, r.Index)
		where = append(where, "(idx = ? AND type = ? AND id = ?)")
		args = append(args, idx, r.Type, r.ID)
		k := idx + "\x00" + r.Type + "\x00" + r.ID
		pos[k] = append(pos[k], i)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, type, id, body FROM documents WHERE `+strings.Join(where, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		for _, i := range pos[doc.Index+"\x00"+doc.Type+"\x00"+doc.ID] {
			out[i] = doc.Clone()
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (*model.Entity, error) {
	var doc model.Entity
	var body string
	if err := row.Scan(&doc.Index, &doc.Type, &doc.ID, &body); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), &doc.Body); err != nil {
		return nil, fmt.Errorf("decode body of %s/%s: %w", doc.Type, doc.ID, err)
	}
	if doc.Body == nil {
		doc.Body = map[string]any{}
	}
	return &doc, nil
}

// textOf collects every string leaf of a body, in key order, for the FTS index.
func textOf(body map[string]any) string {
	var parts []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			parts = append(parts, t)
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				if k == model.IDKey {
					continue
				}
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(body)
	return strings.Join(parts, " ")
}
