package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/treering/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func testItem(id string, importance float64, created time.Time, tags ...string) *model.MemoryItem {
	m := &model.MemoryItem{
		ID:           id,
		Timestamp:    created,
		LastAccessed: created,
		Content:      json.RawMessage(`{"note":"` + id + `"}`),
		Context:      tags,
	}
	m.SetImportance(importance)
	return m
}

// backendSuite runs against every configured backend.
func backendSuite(t *testing.T, newStore func(t *testing.T) *SQLStore) {
	t.Run("PutGetItem", func(t *testing.T) { testPutGetItem(t, newStore(t)) })
	t.Run("UpsertItem", func(t *testing.T) { testUpsertItem(t, newStore(t)) })
	t.Run("QueryItems", func(t *testing.T) { testQueryItems(t, newStore(t)) })
	t.Run("DeleteItems", func(t *testing.T) { testDeleteItems(t, newStore(t)) })
	t.Run("ReplaceDocument", func(t *testing.T) { testReplaceDocument(t, newStore(t)) })
	t.Run("NamespaceIsolation", func(t *testing.T) { testNamespaceIsolation(t, newStore(t)) })
	t.Run("ExportImport", func(t *testing.T) { testExportImport(t, newStore(t), newStore(t)) })
}

func TestSQLiteBackend(t *testing.T) {
	backendSuite(t, newTestStore)
}

func testPutGetItem(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	item := testItem("01A", 0.9, base, "greeting", "tour")
	item.References = []string{"01B"}
	item.AccessCount = 2

	require.NoError(t, s.PutItem(ctx, item))

	got, err := s.GetItem(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Level)
	assert.Equal(t, 0.9, got.Importance)
	assert.Equal(t, []string{"greeting", "tour"}, got.Context)
	assert.Equal(t, []string{"01B"}, got.References)
	assert.Equal(t, 2, got.AccessCount)
	assert.True(t, got.Timestamp.Equal(base))
	assert.JSONEq(t, `{"note":"01A"}`, string(got.Content))

	_, err = s.GetItem(ctx, "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)
}

func testUpsertItem(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	item := testItem("01A", 0.5, base)
	require.NoError(t, s.PutItem(ctx, item))

	item.SetImportance(0.65)
	item.AccessCount = 7
	item.LastAccessed = base.Add(time.Hour)
	require.NoError(t, s.PutItem(ctx, item))

	all, err := s.QueryItems(ctx, ItemQuery{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].Level)
	assert.Equal(t, 7, all[0].AccessCount)
	assert.True(t, all[0].LastAccessed.Equal(base.Add(time.Hour)))

	assert.Error(t, s.PutItem(ctx, &model.MemoryItem{}))
}

func testQueryItems(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	require.NoError(t, s.PutItem(ctx, testItem("a", 0.9, base, "venue")))
	require.NoError(t, s.PutItem(ctx, testItem("b", 0.3, base.Add(time.Hour), "venue", "royalty")))
	require.NoError(t, s.PutItem(ctx, testItem("c", 0.1, base.Add(2*time.Hour), "crew")))
	// "venues" must not match the tag "venue"
	require.NoError(t, s.PutItem(ctx, testItem("d", 0.5, base.Add(3*time.Hour), "venues")))

	ids := func(items []model.MemoryItem) []string {
		var out []string
		for _, m := range items {
			out = append(out, m.ID)
		}
		return out
	}

	got, err := s.QueryItems(ctx, ItemQuery{Tags: []string{"venue"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(got))

	got, _ = s.QueryItems(ctx, ItemQuery{Tags: []string{"royalty", "crew"}})
	assert.Equal(t, []string{"c", "b"}, ids(got))

	got, _ = s.QueryItems(ctx, ItemQuery{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
	assert.Equal(t, []string{"c", "b"}, ids(got))

	got, _ = s.QueryItems(ctx, ItemQuery{MinImportance: 0.5})
	assert.Equal(t, []string{"d", "a"}, ids(got))

	got, _ = s.QueryItems(ctx, ItemQuery{Limit: 2})
	assert.Equal(t, []string{"d", "c"}, ids(got))

	got, _ = s.QueryItems(ctx, ItemQuery{Tags: []string{"venue", "crew"}, Limit: 1})
	assert.Equal(t, []string{"c"}, ids(got))

	got, _ = s.QueryItems(ctx, ItemQuery{MinLevel: 3, BelowImportance: 0.3, AccessedBefore: base.Add(90 * time.Minute)})
	assert.Empty(t, got)
	got, _ = s.QueryItems(ctx, ItemQuery{MinLevel: 3, BelowImportance: 0.3, AccessedBefore: base.Add(3 * time.Hour)})
	assert.Equal(t, []string{"c"}, ids(got))

	got, _ = s.QueryItems(ctx, ItemQuery{Tags: []string{"nothing"}})
	assert.Empty(t, got)
}

func testDeleteItems(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	require.NoError(t, s.PutItem(ctx, testItem("a", 0.5, base)))
	require.NoError(t, s.PutItem(ctx, testItem("b", 0.5, base)))

	n, err := s.DeleteItems(ctx, "a", "b", "zzz")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testExportImport(t *testing.T, src, dst *SQLStore) {
	ctx := context.Background()
	require.NoError(t, src.PutItem(ctx, testItem("a", 0.7, base, "x")))
	require.NoError(t, src.ReplaceDocument(ctx, "ns", "doc", chunks("ns", "doc", 2)))

	dump, err := src.ExportAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, dump.Items, 1)
	require.Len(t, dump.Documents, 2)
	assert.NotEmpty(t, dump.Documents[0].Embedding)

	// JSON round trip, as the CLI does
	b, err := json.Marshal(dump)
	require.NoError(t, err)
	var back Dump
	require.NoError(t, json.Unmarshal(b, &back))

	for i := 0; i < 2; i++ {
		items, n, err := dst.Import(ctx, &back)
		require.NoError(t, err)
		assert.Equal(t, 1, items)
		assert.Equal(t, 2, n)
	}

	st, err := dst.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalItems)
	assert.Equal(t, 2, st.TotalChunks)

	docs, err := dst.GetDocument(ctx, "ns", "doc")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, docs[0].Embedding)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutItem(ctx, testItem("a", 0.9, base)))
	require.NoError(t, s.PutItem(ctx, testItem("b", 0.85, base)))
	require.NoError(t, s.PutItem(ctx, testItem("c", 0.1, base)))
	require.NoError(t, s.ReplaceDocument(ctx, "tour", "d1", chunks("tour", "d1", 3)))
	require.NoError(t, s.ReplaceDocument(ctx, "tour", "d2", chunks("tour", "d2", 1)))
	require.NoError(t, s.ReplaceDocument(ctx, "label", "d3", chunks("label", "d3", 1)))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", st.Driver)
	assert.Equal(t, 3, st.TotalItems)
	assert.Equal(t, []RingStats{{Level: 0, Count: 2}, {Level: 4, Count: 1}}, st.Rings)
	assert.Equal(t, 5, st.TotalChunks)
	require.Len(t, st.Namespaces, 2)
	assert.Equal(t, NamespaceStats{Namespace: "tour", Documents: 2, Chunks: 4}, st.Namespaces[0])
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", postgresDialect.rebind(q))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	assert.Error(t, err)
}
