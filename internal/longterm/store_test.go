package longterm

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/treering/internal/chunker"
	"github.com/rcliao/treering/internal/embedding"
	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/store"
)

func newBackend(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStore(t *testing.T, backend store.DocumentStore, opts Options) *Store {
	t.Helper()
	s, err := New(backend, embedding.NewHashingEmbedder(1536), opts)
	require.NoError(t, err)
	return s
}

// flakyEmbedder fails on the call numbered failOn (1-based).
type flakyEmbedder struct {
	inner  embedding.Embedder
	calls  atomic.Int32
	failOn int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if f.calls.Add(1) == f.failOn {
		return nil, errors.New("provider unavailable")
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) Dims() int { return f.inner.Dims() }

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(newBackend(t), nil, Options{})
	assert.True(t, errors.Is(err, model.ErrEmbedding), "got %v", err)
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newBackend(t), Options{Namespace: "test"})

	_, err := s.AddDocuments(ctx, []Document{
		{Content: "Project planning meeting notes", Metadata: map[string]any{"type": "meeting", "topic": "planning"}},
		{Content: "Technical design document", Metadata: map[string]any{"type": "document", "topic": "design"}},
		{Content: "Project timeline discussion", Metadata: map[string]any{"type": "meeting", "topic": "timeline"}},
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, "project planning", SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Project planning meeting notes", results[0].Document.Content)
	assert.Equal(t, "Project timeline discussion", results[1].Document.Content)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, "planning", results[0].Document.Metadata["topic"])
}

func TestSearch_FilterAndMinScore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newBackend(t), Options{})

	_, err := s.AddDocuments(ctx, []Document{
		{Content: "Meeting notes A", Metadata: map[string]any{"type": "meeting", "project": "A", "rev": 1}},
		{Content: "Meeting notes B", Metadata: map[string]any{"type": "meeting", "project": "B", "rev": 1}},
		{Content: "Design doc A", Metadata: map[string]any{"type": "document", "project": "A", "rev": 2}},
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, "meeting", SearchOptions{Filter: map[string]any{"project": "A"}})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = s.Search(ctx, "meeting", SearchOptions{Filter: map[string]any{"project": "A"}, MinScore: 0.1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Meeting notes A", results[0].Document.Content)

	// an int filter matches the number read back from storage
	results, err = s.Search(ctx, "doc", SearchOptions{Filter: map[string]any{"rev": 2}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Design doc A", results[0].Document.Content)

	results, err = s.Search(ctx, "meeting", SearchOptions{Filter: map[string]any{"missing": "x"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_TiesBreakByRecency(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, newBackend(t), Options{Now: func() time.Time { return now }})

	older, err := s.AddDocument(ctx, "load in at noon", nil)
	require.NoError(t, err)
	now = now.Add(time.Hour)
	newer, err := s.AddDocument(ctx, "load in at noon", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "load in", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer, results[0].Document.DocumentID)
	assert.Equal(t, older, results[1].Document.DocumentID)
}

func TestSearch_EmptyStore(t *testing.T) {
	s := newTestStore(t, newBackend(t), Options{})
	results, err := s.Search(context.Background(), "anything", SearchOptions{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	_, err = s.Search(context.Background(), "", SearchOptions{})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	a := newTestStore(t, backend, Options{Namespace: "tour"})
	b := newTestStore(t, backend, Options{Namespace: "label"})

	_, err := a.AddDocument(ctx, "venue contract signed", map[string]any{"k": "v"})
	require.NoError(t, err)

	results, err := b.Search(ctx, "venue contract", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = b.AddDocument(ctx, "royalty statement", nil)
	require.NoError(t, err)
	require.NoError(t, b.ClearNamespace(ctx))

	results, err = a.Search(ctx, "venue contract", SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	results, err = b.Search(ctx, "royalty", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddDocumentWithID_Idempotent(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	c, err := chunker.New(chunker.Options{MaxTokens: 8, OverlapTokens: 2})
	require.NoError(t, err)
	s := newTestStore(t, backend, Options{Chunker: c})

	content := strings.Repeat("the crew sets up the stage early. ", 6)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddDocumentWithID(ctx, "setlist", content, map[string]any{"try": i}))
	}

	all, err := backend.ListDocuments(ctx, DefaultNamespace)
	require.NoError(t, err)
	docs, err := s.GetDocument(ctx, "setlist")
	require.NoError(t, err)
	assert.Equal(t, len(docs), len(all))
	assert.Greater(t, len(docs), 1)
	for i, d := range docs {
		assert.Equal(t, model.ChunkID("setlist", i), d.ID)
		assert.Equal(t, "setlist", d.Metadata[MetaDocumentID])
		assert.Equal(t, float64(i), d.Metadata[MetaChunkIndex])
		assert.Equal(t, float64(2), d.Metadata["try"])
	}
	assert.Equal(t, content, Content(docs))
}

func TestAddDocument_Validation(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	s := newTestStore(t, backend, Options{})

	for name, tc := range map[string]struct {
		content string
		meta    map[string]any
	}{
		"empty content":  {"", nil},
		"blank content":  {"  \n ", nil},
		"nil meta value": {"text", map[string]any{"owner": nil}},
		"empty meta key": {"text", map[string]any{"": "x"}},
		"NaN meta value": {"text", map[string]any{"score": math.NaN()}},
		"func meta":      {"text", map[string]any{"hook": func() {}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.AddDocument(ctx, tc.content, tc.meta)
			assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
		})
	}

	all, err := backend.ListDocuments(ctx, DefaultNamespace)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAddDocument_BadMetadataSkipsEmbedding(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	e := &flakyEmbedder{inner: embedding.NewHashingEmbedder(64)}
	s, err := New(backend, e, Options{})
	require.NoError(t, err)

	_, err = s.AddDocument(ctx, "hello world", map[string]any{"score": math.NaN()})
	assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
	err = s.AddDocumentWithID(ctx, "greeting", "hello world", map[string]any{"ch": make(chan int)})
	assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)
	assert.Zero(t, e.calls.Load())
}

func TestAddDocument_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	c, err := chunker.New(chunker.Options{MaxTokens: 4, OverlapTokens: 0})
	require.NoError(t, err)
	e := &flakyEmbedder{inner: embedding.NewHashingEmbedder(64), failOn: 2}
	s, err := New(backend, e, Options{Chunker: c})
	require.NoError(t, err)

	_, err = s.AddDocument(ctx, "one two three four five six seven eight nine ten", nil)
	assert.True(t, errors.Is(err, model.ErrEmbedding), "got %v", err)

	all, err := backend.ListDocuments(ctx, DefaultNamespace)
	require.NoError(t, err)
	assert.Empty(t, all)
}

type wrongDims struct{}

func (wrongDims) Embed(context.Context, string) (embedding.Vector, error) {
	return embedding.Vector{1, 2, 3}, nil
}
func (wrongDims) Dims() int { return 8 }

func TestAddDocument_RejectsMalformedVectors(t *testing.T) {
	s, err := New(newBackend(t), wrongDims{}, Options{})
	require.NoError(t, err)
	_, err = s.AddDocument(context.Background(), "text", nil)
	assert.True(t, errors.Is(err, model.ErrEmbedding), "got %v", err)
}

func TestUpdateDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newBackend(t), Options{})

	id, err := s.AddDocument(ctx, "Original content", map[string]any{"version": 1})
	require.NoError(t, err)

	updated := "Updated content"
	require.NoError(t, s.UpdateDocument(ctx, id, Update{Content: &updated, Metadata: map[string]any{"version": 2}}))

	docs, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Updated content", Content(docs))
	assert.Equal(t, float64(2), docs[0].Metadata["version"])

	results, err := s.Search(ctx, "updated", SearchOptions{MinScore: 0.1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// metadata only: content and embedding stay
	require.NoError(t, s.UpdateDocument(ctx, id, Update{Metadata: map[string]any{"version": 3, "tag": "final"}}))
	docs, err = s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Updated content", docs[0].Content)
	assert.Equal(t, "final", docs[0].Metadata["tag"])
	assert.Equal(t, id, docs[0].Metadata[MetaDocumentID])

	// content only: metadata survives
	again := "Updated content again"
	require.NoError(t, s.UpdateDocument(ctx, id, Update{Content: &again}))
	docs, err = s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "final", docs[0].Metadata["tag"])

	err = s.UpdateDocument(ctx, "missing", Update{Content: &updated})
	assert.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newBackend(t), Options{})

	id, err := s.AddDocument(ctx, "Test document", nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteDocument(ctx, id))

	results, err := s.Search(ctx, "test", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.True(t, errors.Is(s.DeleteDocument(ctx, id), model.ErrNotFound))
	_, err = s.GetDocument(ctx, id)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
