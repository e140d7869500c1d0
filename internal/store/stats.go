package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string       `json:"db_path"`
	DBSizeBytes int64        `json:"db_size_bytes"`
	Documents   int          `json:"documents"`
	Indexes     []IndexStats `json:"indexes"`
}

// IndexStats holds per index and type counts.
type IndexStats struct {
	Index    string `json:"index"`
	Type     string `json:"type"`
	Count    int    `json:"count"`
	Versions int    `json:"versions"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.Documents)

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, type, COUNT(*) AS cnt, SUM(version) AS versions
		FROM documents
		GROUP BY idx, type ORDER BY cnt DESC, idx`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var is IndexStats
		if err := rows.Scan(&is.Index, &is.Type, &is.Count, &is.Versions); err != nil {
			return st, err
		}
		st.Indexes = append(st.Indexes, is)
	}

	return st, rows.Err()
}
