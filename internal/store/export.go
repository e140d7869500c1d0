package store

import (
	"context"

	"github.com/rcliao/epicgraph/internal/model"
)

// ExportAll returns every document, optionally filtered by index.
func (s *SQLiteStore) ExportAll(ctx context.Context, index string) ([]*model.Entity, error) {
	query := `SELECT idx, type, id, body FROM documents`
	args := []interface{}{}
	if index != "" {
		query += ` WHERE idx = ?`
		args = append(args, index)
	}
	query += ` ORDER BY idx, type, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*model.Entity
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Import writes documents as they are, without graph propagation.
func (s *SQLiteStore) Import(ctx context.Context, docs []*model.Entity) (int, error) {
	imported := 0
	for _, d := range docs {
		_, err := s.Index(ctx, IndexParams{
			ID:    d.ID,
			Type:  d.Type,
			Index: d.Index,
			Body:  d.Body,
		})
		if err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
