// Package store provides the document store interface the graph engine writes
// through, and its SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/rcliao/epicgraph/internal/model"
)

// GetParams holds parameters for fetching one document.
type GetParams struct {
	ID    string
	Type  string
	Index string
	// Fields are store-native dotted paths. Empty means the whole body.
	Fields []string
}

// DocRef addresses one document for MultiGet.
type DocRef struct {
	ID    string
	Type  string
	Index string
}

// IndexParams holds parameters for writing one document.
type IndexParams struct {
	ID    string // generated when empty
	Type  string
	Index string
	Body  map[string]any
}

// Filter matches documents whose value at Path equals Value. Array values
// match when any element equals Value.
type Filter struct {
	Path  string
	Value any
}

// Query is a search request.
type Query struct {
	Indexes []string
	Types   []string
	Text    string
	// Prefix treats every Text term as a prefix (suggestions).
	Prefix  bool
	Filters []Filter
	From    int
	Size    int
	Fields  []string
	// Aggregations maps a bucket name to the body path counted.
	Aggregations map[string]string
	// Scroll keeps a cursor open for this long when non-zero.
	Scroll time.Duration
}

// Bucket is one term count of an aggregation.
type Bucket struct {
	Key   any `json:"key"`
	Count int `json:"doc_count"`
}

// SearchResult holds one page of hits.
type SearchResult struct {
	Total        int                 `json:"total"`
	Hits         []*model.Entity     `json:"hits"`
	Aggregations map[string][]Bucket `json:"aggregations,omitempty"`
	ScrollID     string              `json:"scroll_id,omitempty"`
}

// Store defines the document storage interface.
type Store interface {
	// Get fetches one document. found is false when it does not exist.
	Get(ctx context.Context, p GetParams) (doc *model.Entity, found bool, err error)

	// MultiGet fetches documents in the order requested; missing ones are nil.
	MultiGet(ctx context.Context, refs []DocRef) ([]*model.Entity, error)

	// Search runs a query and returns one page of hits.
	Search(ctx context.Context, q Query) (*SearchResult, error)

	// Index writes a document, replacing any previous version. Returns its id.
	Index(ctx context.Context, p IndexParams) (string, error)

	// Scroll returns the next page of an open cursor.
	Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*SearchResult, error)

	// Close closes the store.
	Close() error
}
