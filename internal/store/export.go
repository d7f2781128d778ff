package store

import (
	"context"

	"github.com/rcliao/treering/internal/model"
)

// Dump is the portable export format.
type Dump struct {
	Items     []model.MemoryItem `json:"items"`
	Documents []ExportedChunk    `json:"documents"`
}

// ExportedChunk carries the embedding that VectorDocument omits from JSON.
type ExportedChunk struct {
	model.VectorDocument
	Embedding []float32 `json:"embedding"`
}

// ExportAll returns every item and every chunk, optionally limited to one
// document namespace.
func (s *SQLStore) ExportAll(ctx context.Context, namespace string) (*Dump, error) {
	items, err := s.QueryItems(ctx, ItemQuery{})
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + documentColumns + ` FROM vector_documents`
	var args []any
	if namespace != "" {
		query += ` WHERE namespace = ?`
		args = append(args, namespace)
	}
	query += ` ORDER BY namespace, document_id, chunk_index`
	docs, err := s.listDocuments(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	d := &Dump{Items: items, Documents: make([]ExportedChunk, len(docs))}
	for i, doc := range docs {
		d.Documents[i] = ExportedChunk{VectorDocument: doc, Embedding: doc.Embedding}
	}
	return d, nil
}

// Import upserts a dump. Re-importing the same dump is a no-op.
func (s *SQLStore) Import(ctx context.Context, d *Dump) (items, chunks int, err error) {
	for i := range d.Items {
		if err := s.PutItem(ctx, &d.Items[i]); err != nil {
			return items, chunks, err
		}
		items++
	}

	type docKey struct{ ns, id string }
	grouped := make(map[docKey][]model.VectorDocument)
	var order []docKey
	for _, c := range d.Documents {
		doc := c.VectorDocument
		doc.Embedding = c.Embedding
		k := docKey{doc.Namespace, doc.DocumentID}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], doc)
	}
	for _, k := range order {
		if err := s.ReplaceDocument(ctx, k.ns, k.id, grouped[k]); err != nil {
			return items, chunks, err
		}
		chunks += len(grouped[k])
	}
	return items, chunks, nil
}
