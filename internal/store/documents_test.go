package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/treering/internal/model"
)

func chunks(ns, docID string, n int) []model.VectorDocument {
	out := make([]model.VectorDocument, n)
	for i := range out {
		out[i] = model.VectorDocument{
			ID:         model.ChunkID(docID, i),
			Namespace:  ns,
			DocumentID: docID,
			ChunkIndex: i,
			Content:    "chunk text",
			Embedding:  []float32{1, float32(i)},
			Metadata:   map[string]any{"documentId": docID, "chunkIndex": i, "artist": "Lumen"},
			Timestamp:  base,
		}
	}
	return out
}

func testReplaceDocument(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	require.NoError(t, s.ReplaceDocument(ctx, "ns", "doc", chunks("ns", "doc", 3)))

	got, err := s.GetDocument(ctx, "ns", "doc")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, d := range got {
		assert.Equal(t, i, d.ChunkIndex)
		assert.Equal(t, model.ChunkID("doc", i), d.ID)
	}
	assert.Equal(t, []float32{1, 2}, got[2].Embedding)
	assert.Equal(t, "Lumen", got[0].Metadata["artist"])
	// numbers come back as JSON numbers
	assert.Equal(t, float64(1), got[1].Metadata["chunkIndex"])

	// retry with the same ids does not duplicate
	require.NoError(t, s.ReplaceDocument(ctx, "ns", "doc", chunks("ns", "doc", 3)))
	all, err := s.ListDocuments(ctx, "ns")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// a shorter replacement drops stale chunks
	require.NoError(t, s.ReplaceDocument(ctx, "ns", "doc", chunks("ns", "doc", 1)))
	got, err = s.GetDocument(ctx, "ns", "doc")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.DeleteDocument(ctx, "ns", "doc"))
	_, err = s.GetDocument(ctx, "ns", "doc")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	err = s.DeleteDocument(ctx, "ns", "doc")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func testNamespaceIsolation(t *testing.T, s *SQLStore) {
	ctx := context.Background()
	require.NoError(t, s.ReplaceDocument(ctx, "a", "doc", chunks("a", "doc", 2)))
	require.NoError(t, s.ReplaceDocument(ctx, "b", "doc", chunks("b", "doc", 1)))

	a, err := s.ListDocuments(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, a, 2)

	n, err := s.DeleteNamespace(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, _ = s.ListDocuments(ctx, "a")
	assert.Empty(t, a)
	b, _ := s.ListDocuments(ctx, "b")
	assert.Len(t, b, 1)

	_, err = s.GetDocument(ctx, "a", "doc")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestReplaceDocumentRejectsBadMetadata(t *testing.T) {
	s := newTestStore(t)
	docs := chunks("ns", "doc", 1)
	docs[0].Metadata["bad"] = make(chan int)
	err := s.ReplaceDocument(context.Background(), "ns", "doc", docs)
	assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)

	all, _ := s.ListDocuments(context.Background(), "ns")
	assert.Empty(t, all)
}
