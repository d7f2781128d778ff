package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/treering/internal/model"
)

const documentColumns = `namespace, id, document_id, chunk_index, content, embedding, metadata, created_at`

// ReplaceDocument deletes every chunk of docID in namespace and writes docs
// in one transaction. Chunk rows are upserted on (namespace, id), so a retry
// with the same chunk ids overwrites instead of duplicating.
func (s *SQLStore) ReplaceDocument(ctx context.Context, namespace, docID string, docs []model.VectorDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.StorageErr("begin", err)
	}
	defer tx.Rollback()

	if _, err := s.exec(ctx, tx,
		`DELETE FROM vector_documents WHERE namespace = ? AND document_id = ?`,
		namespace, docID); err != nil {
		return model.StorageErr("delete chunks", err)
	}

	for i := range docs {
		d := &docs[i]
		emb, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding %s: %w", d.ID, err)
		}
		var meta *string
		if len(d.Metadata) > 0 {
			b, err := json.Marshal(d.Metadata)
			if err != nil {
				return model.Validationf("metadata of %s is not serializable: %v", d.ID, err)
			}
			m := string(b)
			meta = &m
		}
		_, err = s.exec(ctx, tx,
			`INSERT INTO vector_documents (`+documentColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (namespace, id) DO UPDATE SET
				document_id = excluded.document_id,
				chunk_index = excluded.chunk_index,
				content = excluded.content,
				embedding = excluded.embedding,
				metadata = excluded.metadata,
				created_at = excluded.created_at`,
			namespace, d.ID, docID, d.ChunkIndex, d.Content, string(emb), meta, d.Timestamp.UnixNano())
		if err != nil {
			return model.StorageErr("insert chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.StorageErr("commit", err)
	}
	return nil
}

// GetDocument returns the chunks of docID ordered by chunk index.
func (s *SQLStore) GetDocument(ctx context.Context, namespace, docID string) ([]model.VectorDocument, error) {
	docs, err := s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM vector_documents
		 WHERE namespace = ? AND document_id = ? ORDER BY chunk_index`,
		namespace, docID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, model.NotFoundf("document %s", docID)
	}
	return docs, nil
}

// ListDocuments returns every chunk in namespace.
func (s *SQLStore) ListDocuments(ctx context.Context, namespace string) ([]model.VectorDocument, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM vector_documents
		 WHERE namespace = ? ORDER BY document_id, chunk_index`,
		namespace)
}

// DeleteDocument removes every chunk of docID.
func (s *SQLStore) DeleteDocument(ctx context.Context, namespace, docID string) error {
	res, err := s.exec(ctx, s.db,
		`DELETE FROM vector_documents WHERE namespace = ? AND document_id = ?`, namespace, docID)
	if err != nil {
		return model.StorageErr("delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.StorageErr("delete document", err)
	}
	if n == 0 {
		return model.NotFoundf("document %s", docID)
	}
	return nil
}

// DeleteNamespace removes every chunk in namespace.
func (s *SQLStore) DeleteNamespace(ctx context.Context, namespace string) (int, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM vector_documents WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, model.StorageErr("clear namespace", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, model.StorageErr("clear namespace", err)
	}
	return int(n), nil
}

func (s *SQLStore) listDocuments(ctx context.Context, query string, args ...any) ([]model.VectorDocument, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, model.StorageErr("query documents", err)
	}
	defer rows.Close()

	var docs []model.VectorDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, model.StorageErr("scan document", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageErr("query documents", err)
	}
	return docs, nil
}

func scanDocument(row scanner) (model.VectorDocument, error) {
	var d model.VectorDocument
	var emb string
	var meta sql.NullString
	var created int64

	if err := row.Scan(&d.Namespace, &d.ID, &d.DocumentID, &d.ChunkIndex,
		&d.Content, &emb, &meta, &created); err != nil {
		return d, err
	}
	d.Timestamp = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(emb), &d.Embedding); err != nil {
		return d, fmt.Errorf("decode embedding of %s: %w", d.ID, err)
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &d.Metadata); err != nil {
			return d, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
		}
	}
	return d, nil
}
