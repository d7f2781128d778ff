// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/rcliao/treering/internal/model"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text. Implementations must be
// deterministic for the same text within the lifetime of one index.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero-magnitude vectors score 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// rounding can push identical vectors a hair past 1
	return math.Max(-1, math.Min(1, sim))
}

// Validate checks that v is a usable embedding of the expected width.
// dims <= 0 skips the width check.
func Validate(v Vector, dims int) error {
	if len(v) == 0 {
		return model.EmbeddingErr("empty vector", nil)
	}
	if dims > 0 && len(v) != dims {
		return model.EmbeddingErr(fmt.Sprintf("got %d dimensions, want %d", len(v), dims), nil)
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return model.EmbeddingErr(fmt.Sprintf("non-finite value at index %d", i), nil)
		}
	}
	return nil
}

// Checked wraps an Embedder so every vector is validated and every failure
// carries model.ErrEmbedding.
func Checked(e Embedder) Embedder {
	if c, ok := e.(*checked); ok {
		return c
	}
	return &checked{inner: e}
}

type checked struct {
	inner Embedder
}

func (c *checked) Embed(ctx context.Context, text string) (Vector, error) {
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, model.EmbeddingErr("embed", err)
	}
	if err := Validate(v, c.inner.Dims()); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *checked) Dims() int { return c.inner.Dims() }
