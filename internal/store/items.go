package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/treering/internal/model"
)

const itemColumns = `id, level, created_at, last_accessed, access_count, content, context, refs, importance`

// PutItem upserts item by id.
func (s *SQLStore) PutItem(ctx context.Context, item *model.MemoryItem) error {
	if item == nil || item.ID == "" {
		return model.Validationf("item id is required")
	}
	tags, err := encodeStrings(item.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	refs, err := encodeStrings(item.References)
	if err != nil {
		return fmt.Errorf("encode references: %w", err)
	}
	content := string(item.Content)
	if content == "" {
		content = "null"
	}

	_, err = s.exec(ctx, s.db,
		`INSERT INTO memories (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			level = excluded.level,
			last_accessed = excluded.last_accessed,
			access_count = excluded.access_count,
			content = excluded.content,
			context = excluded.context,
			refs = excluded.refs,
			importance = excluded.importance`,
		item.ID, item.Level, item.Timestamp.UnixNano(), item.LastAccessed.UnixNano(),
		item.AccessCount, content, tags, refs, item.Importance)
	if err != nil {
		return model.StorageErr("upsert memory", err)
	}
	return nil
}

// GetItem returns the item with id.
func (s *SQLStore) GetItem(ctx context.Context, id string) (*model.MemoryItem, error) {
	row := s.queryRow(ctx, `SELECT `+itemColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("memory %s", id)
	}
	if err != nil {
		return nil, model.StorageErr("get memory", err)
	}
	return &m, nil
}

// QueryItems lists items matching q, most recently created first.
func (s *SQLStore) QueryItems(ctx context.Context, q ItemQuery) ([]model.MemoryItem, error) {
	where := []string{"1 = 1"}
	var args []any

	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, q.MinImportance)
	}
	if q.BelowImportance > 0 {
		where = append(where, "importance < ?")
		args = append(args, q.BelowImportance)
	}
	if q.MinLevel > 0 {
		where = append(where, "level >= ?")
		args = append(args, q.MinLevel)
	}
	if !q.AccessedBefore.IsZero() {
		where = append(where, "last_accessed < ?")
		args = append(args, q.AccessedBefore.UnixNano())
	}

	// Tag filtering: a coarse LIKE on the JSON array, refined below.
	if len(q.Tags) > 0 {
		var ors []string
		for _, tag := range q.Tags {
			b, _ := json.Marshal(tag)
			ors = append(ors, "context LIKE ?")
			args = append(args, "%"+string(b)+"%")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}

	query := `SELECT ` + itemColumns + ` FROM memories WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 && len(q.Tags) == 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, model.StorageErr("query memories", err)
	}
	defer rows.Close()

	var items []model.MemoryItem
	for rows.Next() {
		m, err := scanItem(rows)
		if err != nil {
			return nil, model.StorageErr("scan memory", err)
		}
		if len(q.Tags) > 0 && !m.HasAnyTag(q.Tags) {
			continue
		}
		items = append(items, m)
		if q.Limit > 0 && len(items) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageErr("query memories", err)
	}
	return items, nil
}

// DeleteItems removes ids and reports how many rows existed.
func (s *SQLStore) DeleteItems(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.exec(ctx, s.db, `DELETE FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, model.StorageErr("delete memories", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, model.StorageErr("delete memories", err)
	}
	return int(n), nil
}

func scanItem(row scanner) (model.MemoryItem, error) {
	var m model.MemoryItem
	var created, accessed int64
	var content string
	var tags, refs sql.NullString

	err := row.Scan(&m.ID, &m.Level, &created, &accessed, &m.AccessCount,
		&content, &tags, &refs, &m.Importance)
	if err != nil {
		return m, err
	}

	m.Timestamp = time.Unix(0, created).UTC()
	m.LastAccessed = time.Unix(0, accessed).UTC()
	m.Content = json.RawMessage(content)
	if tags.Valid {
		if err := json.Unmarshal([]byte(tags.String), &m.Context); err != nil {
			return m, fmt.Errorf("decode context of %s: %w", m.ID, err)
		}
	}
	if refs.Valid {
		if err := json.Unmarshal([]byte(refs.String), &m.References); err != nil {
			return m, fmt.Errorf("decode references of %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func encodeStrings(v []string) (*string, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
