package store

import (
	"context"
	"os"

	"github.com/rcliao/treering/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	Driver      string           `json:"driver"`
	DBPath      string           `json:"db_path,omitempty"`
	DBSizeBytes int64            `json:"db_size_bytes,omitempty"`
	TotalItems  int              `json:"total_items"`
	Rings       []RingStats      `json:"rings"`
	TotalChunks int              `json:"total_chunks"`
	Namespaces  []NamespaceStats `json:"namespaces"`
}

// RingStats holds per-level item counts.
type RingStats struct {
	Level int `json:"level"`
	Count int `json:"count"`
}

// NamespaceStats holds per-namespace counts.
type NamespaceStats struct {
	Namespace string `json:"namespace"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

// Stats returns database statistics.
func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Driver: s.dialect.name, DBPath: s.path}

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}

	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.TotalItems); err != nil {
		return nil, model.StorageErr("count memories", err)
	}
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM vector_documents`).Scan(&st.TotalChunks); err != nil {
		return nil, model.StorageErr("count chunks", err)
	}

	rows, err := s.query(ctx, `SELECT level, COUNT(*) FROM memories GROUP BY level ORDER BY level`)
	if err != nil {
		return nil, model.StorageErr("ring stats", err)
	}
	for rows.Next() {
		var r RingStats
		if err := rows.Scan(&r.Level, &r.Count); err != nil {
			rows.Close()
			return nil, model.StorageErr("ring stats", err)
		}
		st.Rings = append(st.Rings, r)
	}
	rows.Close()

	rows, err = s.query(ctx, `
		SELECT namespace, COUNT(DISTINCT document_id) AS docs, COUNT(*) AS chunks
		FROM vector_documents
		GROUP BY namespace ORDER BY chunks DESC, namespace`)
	if err != nil {
		return nil, model.StorageErr("namespace stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns NamespaceStats
		if err := rows.Scan(&ns.Namespace, &ns.Documents, &ns.Chunks); err != nil {
			return nil, model.StorageErr("namespace stats", err)
		}
		st.Namespaces = append(st.Namespaces, ns)
	}
	return st, rows.Err()
}
