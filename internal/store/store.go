// Package store provides durable persistence for memory items and vector
// documents over database/sql. SQLite (modernc.org/sqlite) is the default
// backend; PostgreSQL (lib/pq) shares the same schema and queries.
package store

import (
	"context"
	"time"

	"github.com/rcliao/treering/internal/model"
)

// ItemQuery filters memory items. Zero-valued fields do not filter.
type ItemQuery struct {
	Tags            []string  // contains-any
	Since           time.Time // created at or after
	Until           time.Time // created at or before
	MinImportance   float64
	BelowImportance float64 // importance strictly below
	MinLevel        int
	AccessedBefore  time.Time
	Limit           int // 0 means unlimited
}

// ItemStore persists MemoryItems by id.
type ItemStore interface {
	// PutItem inserts or replaces the item with the same id.
	PutItem(ctx context.Context, item *model.MemoryItem) error

	// GetItem returns the item or an error matching model.ErrNotFound.
	GetItem(ctx context.Context, id string) (*model.MemoryItem, error)

	// QueryItems lists matching items, most recently created first.
	QueryItems(ctx context.Context, q ItemQuery) ([]model.MemoryItem, error)

	// DeleteItems removes the given ids and reports how many existed.
	DeleteItems(ctx context.Context, ids ...string) (int, error)
}

// DocumentStore persists embedded chunks grouped by namespace and document id.
type DocumentStore interface {
	// ReplaceDocument atomically swaps every chunk of docID for docs.
	ReplaceDocument(ctx context.Context, namespace, docID string, docs []model.VectorDocument) error

	// GetDocument returns the chunks of docID ordered by chunk index, or an
	// error matching model.ErrNotFound.
	GetDocument(ctx context.Context, namespace, docID string) ([]model.VectorDocument, error)

	// ListDocuments returns every chunk in the namespace.
	ListDocuments(ctx context.Context, namespace string) ([]model.VectorDocument, error)

	// DeleteDocument removes every chunk of docID. Missing documents match
	// model.ErrNotFound.
	DeleteDocument(ctx context.Context, namespace, docID string) error

	// DeleteNamespace removes every chunk in the namespace and returns the count.
	DeleteNamespace(ctx context.Context, namespace string) (int, error)
}

// Backend is a complete durable store.
type Backend interface {
	ItemStore
	DocumentStore
	Close() error
}

var (
	_ Backend = (*SQLStore)(nil)
)
