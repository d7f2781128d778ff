// Package longterm implements crash memory: durable, semantically searchable
// documents. Content is chunked, every chunk is embedded, and chunks are
// persisted under a namespace so several logical stores can share one backend.
package longterm

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/rcliao/treering/internal/chunker"
	"github.com/rcliao/treering/internal/embedding"
	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/store"
)

const (
	DefaultNamespace = "default"
	DefaultLimit     = 10
)

// Metadata keys written on every chunk.
const (
	MetaDocumentID = "documentId"
	MetaChunkIndex = "chunkIndex"
	MetaChunkCount = "chunkCount"
	MetaOverlap    = "overlapBytes"
)

var reservedKeys = []string{MetaDocumentID, MetaChunkIndex, MetaChunkCount, MetaOverlap}

// Options configures a Store.
type Options struct {
	Namespace string
	Chunker   *chunker.Chunker // nil uses chunker defaults
	Now       func() time.Time
	Logger    *slog.Logger
}

// Document is input to AddDocuments.
type Document struct {
	ID       string // optional; generated when empty
	Content  string
	Metadata map[string]any
}

// Update describes a partial document change. Nil fields are left alone.
type Update struct {
	Content  *string
	Metadata map[string]any
}

// SearchOptions tunes Search.
type SearchOptions struct {
	Limit    int
	Filter   map[string]any // exact match on every key
	MinScore float64        // applied when > 0
}

// Result is one scored chunk.
type Result struct {
	Document model.VectorDocument `json:"document"`
	Score    float64              `json:"score"`
}

// Store is a namespaced view over a DocumentStore.
type Store struct {
	backend   store.DocumentStore
	embedder  embedding.Embedder
	chunker   *chunker.Chunker
	namespace string
	now       func() time.Time
	logger    *slog.Logger
}

// New returns a Store. A nil embedder is an error: there is no random
// fallback.
func New(backend store.DocumentStore, embedder embedding.Embedder, opts Options) (*Store, error) {
	if embedder == nil {
		return nil, model.Wrap("longterm.New", model.EmbeddingErr("no embedding provider configured", nil))
	}
	if backend == nil {
		return nil, model.Wrap("longterm.New", model.Validationf("backend is required"))
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Chunker == nil {
		c, err := chunker.New(chunker.DefaultOptions())
		if err != nil {
			return nil, err
		}
		opts.Chunker = c
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		backend:   backend,
		embedder:  embedding.Checked(embedder),
		chunker:   opts.Chunker,
		namespace: opts.Namespace,
		now:       opts.Now,
		logger:    opts.Logger,
	}, nil
}

// Namespace returns the namespace this store reads and writes.
func (s *Store) Namespace() string { return s.namespace }

// AddDocument chunks, embeds and persists content under a new document id.
func (s *Store) AddDocument(ctx context.Context, content string, metadata map[string]any) (string, error) {
	id := model.NewID()
	if err := s.put(ctx, id, content, metadata); err != nil {
		return "", model.Wrap("AddDocument", err)
	}
	return id, nil
}

// AddDocumentWithID writes content under id, replacing any previous chunks.
// Retrying with the same id is idempotent.
func (s *Store) AddDocumentWithID(ctx context.Context, id, content string, metadata map[string]any) error {
	if id == "" {
		return model.Wrap("AddDocumentWithID", model.Validationf("document id is required"))
	}
	return model.Wrap("AddDocumentWithID", s.put(ctx, id, content, metadata))
}

// AddDocuments adds each document in order and returns their ids. It stops at
// the first failure; documents already written stay written.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		id := d.ID
		if id == "" {
			id = model.NewID()
		}
		if err := s.put(ctx, id, d.Content, d.Metadata); err != nil {
			return ids, model.Wrap("AddDocuments", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// put validates, chunks and embeds everything before writing anything.
func (s *Store) put(ctx context.Context, id, content string, metadata map[string]any) error {
	if err := validate(content, metadata); err != nil {
		return err
	}
	chunks := s.chunker.Chunk(content)
	if len(chunks) == 0 {
		return model.Validationf("content must not be empty")
	}

	now := s.now().UTC()
	docs := make([]model.VectorDocument, len(chunks))
	for i, ch := range chunks {
		vec, err := s.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return err
		}
		docs[i] = model.VectorDocument{
			ID:         model.ChunkID(id, i),
			Namespace:  s.namespace,
			DocumentID: id,
			ChunkIndex: i,
			Content:    ch.Text,
			Embedding:  vec,
			Metadata:   chunkMetadata(metadata, id, i, len(chunks), ch.OverlapBytes),
			Timestamp:  now,
		}
	}

	if err := s.backend.ReplaceDocument(ctx, s.namespace, id, docs); err != nil {
		return err
	}
	s.logger.Debug("document stored", "namespace", s.namespace, "id", id, "chunks", len(docs))
	return nil
}

func validate(content string, metadata map[string]any) error {
	if content == "" {
		return model.Validationf("document content must be a non-empty string")
	}
	for k, v := range metadata {
		if k == "" {
			return model.Validationf("metadata keys must not be empty")
		}
		if v == nil {
			return model.Validationf("metadata field %q must not be nil", k)
		}
	}
	if _, err := json.Marshal(metadata); err != nil {
		return model.Validationf("metadata is not serializable: %v", err)
	}
	return nil
}

func chunkMetadata(user map[string]any, docID string, index, count, overlap int) map[string]any {
	m := make(map[string]any, len(user)+len(reservedKeys))
	for k, v := range user {
		m[k] = v
	}
	m[MetaDocumentID] = docID
	m[MetaChunkIndex] = index
	m[MetaChunkCount] = count
	if overlap > 0 {
		m[MetaOverlap] = overlap
	}
	return m
}

// userMetadata strips the keys put adds.
func userMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range reservedKeys {
		delete(out, k)
	}
	return out
}

// GetDocument returns every chunk of id in chunk order.
func (s *Store) GetDocument(ctx context.Context, id string) ([]model.VectorDocument, error) {
	docs, err := s.backend.GetDocument(ctx, s.namespace, id)
	if err != nil {
		return nil, model.Wrap("GetDocument", err)
	}
	return docs, nil
}

// Content reassembles the stored text of a document from its chunks.
func Content(chunks []model.VectorDocument) string {
	cs := make([]chunker.Chunk, len(chunks))
	for i, d := range chunks {
		cs[i] = chunker.Chunk{Text: d.Content, OverlapBytes: intValue(d.Metadata[MetaOverlap])}
		if cs[i].OverlapBytes > len(d.Content) {
			cs[i].OverlapBytes = 0
		}
	}
	return chunker.Reassemble(cs)
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// UpdateDocument re-chunks and re-embeds on a content change and replaces the
// user metadata when u.Metadata is set.
func (s *Store) UpdateDocument(ctx context.Context, id string, u Update) error {
	existing, err := s.backend.GetDocument(ctx, s.namespace, id)
	if err != nil {
		return model.Wrap("UpdateDocument", err)
	}

	metadata := userMetadata(existing[0].Metadata)
	if u.Metadata != nil {
		metadata = u.Metadata
	}

	if u.Content != nil {
		return model.Wrap("UpdateDocument", s.put(ctx, id, *u.Content, metadata))
	}

	if err := validate(existing[0].Content, metadata); err != nil {
		return model.Wrap("UpdateDocument", err)
	}
	now := s.now().UTC()
	for i := range existing {
		overlap := intValue(existing[i].Metadata[MetaOverlap])
		existing[i].Metadata = chunkMetadata(metadata, id, existing[i].ChunkIndex, len(existing), overlap)
		existing[i].Timestamp = now
	}
	return model.Wrap("UpdateDocument", s.backend.ReplaceDocument(ctx, s.namespace, id, existing))
}

// DeleteDocument removes every chunk of id.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return model.Wrap("DeleteDocument", s.backend.DeleteDocument(ctx, s.namespace, id))
}

// ClearNamespace removes every document in this store's namespace.
func (s *Store) ClearNamespace(ctx context.Context) error {
	n, err := s.backend.DeleteNamespace(ctx, s.namespace)
	if err != nil {
		return model.Wrap("ClearNamespace", err)
	}
	s.logger.Debug("namespace cleared", "namespace", s.namespace, "chunks", n)
	return nil
}

// Search embeds query and ranks every chunk in the namespace that passes
// the filter by cosine similarity. Ties fall back to the newest chunk.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if query == "" {
		return nil, model.Wrap("Search", model.Validationf("query must not be empty"))
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	docs, err := s.backend.ListDocuments(ctx, s.namespace)
	if err != nil {
		return nil, model.Wrap("Search", err)
	}
	if len(docs) == 0 {
		return []Result{}, nil
	}

	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, model.Wrap("Search", err)
	}

	filter := normalize(opts.Filter)
	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		if !matches(d.Metadata, filter) {
			continue
		}
		score := embedding.CosineSimilarity(qv, d.Embedding)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		results = append(results, Result{Document: d, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.Timestamp.After(results[j].Document.Timestamp)
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// normalize maps values through JSON so an int filter matches a number read
// back from storage.
func normalize(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}

func matches(meta, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	meta = normalize(meta)
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
