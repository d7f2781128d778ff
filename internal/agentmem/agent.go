// Package agentmem gives a single agent one entry point into every memory
// tier. A Store call lands in the ring manager, the semantic store and the
// short-term cache; reads are scoped to the agent's own memories.
package agentmem

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/treering/internal/longterm"
	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/shortterm"
	"github.com/rcliao/treering/internal/treering"
)

const (
	defaultSearchTopK = 5
	recentLimit       = 10
	learnSample       = 100

	// LearnImportance places learned patterns in the core ring.
	LearnImportance = 0.8
)

// Tags applied to the output of Learn.
const (
	TagLearning = "learning"
	TagPattern  = "pattern"
)

// Tagged values contribute their own context tags when stored.
type Tagged interface {
	MemoryTags() []string
}

// Options configures an Agent. Semantic and Cache are optional.
type Options struct {
	Semantic *longterm.Store
	Cache    *shortterm.Cache[model.MemoryItem]
	CacheTTL time.Duration // zero uses the cache default
	Analyzer Analyzer      // nil uses TagFrequency
	Logger   *slog.Logger
}

// Memory is a semantic search hit.
type Memory struct {
	ItemID    string         `json:"item_id,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Relevance float64        `json:"relevance"`
}

// Agent is the memory of one agent within one session.
type Agent struct {
	id        string
	sessionID string
	mgr       *treering.Manager
	opts      Options
	log       *slog.Logger
}

// New creates the memory façade for agentID.
func New(agentID, sessionID string, mgr *treering.Manager, opts Options) (*Agent, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, model.Wrap("agentmem.New", model.Validationf("agent id is required"))
	}
	if mgr == nil {
		return nil, model.Wrap("agentmem.New", model.Validationf("memory manager is required"))
	}
	if opts.Analyzer == nil {
		opts.Analyzer = TagFrequency{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{
		id:        agentID,
		sessionID: sessionID,
		mgr:       mgr,
		opts:      opts,
		log:       opts.Logger.With("agent", agentID),
	}, nil
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

type storeConfig struct {
	semantic bool
	cache    bool
}

// StoreOption adjusts a single Store call.
type StoreOption func(*storeConfig)

// WithoutSemantic skips the semantic store.
func WithoutSemantic() StoreOption { return func(c *storeConfig) { c.semantic = false } }

// WithoutCache skips the short-term cache.
func WithoutCache() StoreOption { return func(c *storeConfig) { c.cache = false } }

// Store writes data to every configured tier. The ring item is the record of
// truth: if the semantic write fails the item is removed again and the error
// returned. A cache failure is only logged.
func (a *Agent) Store(ctx context.Context, data any, tags []string, importance float64, opts ...StoreOption) (*model.MemoryItem, error) {
	cfg := storeConfig{semantic: true, cache: true}
	for _, o := range opts {
		o(&cfg)
	}

	fields := asObject(data)
	item, err := a.mgr.Store(ctx, data, a.tagsFor(data, fields, tags), importance)
	if err != nil {
		return nil, model.Wrap("agentmem.Store", err)
	}

	if cfg.semantic && a.opts.Semantic != nil {
		if err := a.storeSemantic(ctx, item, data, fields, tags, importance); err != nil {
			if derr := a.mgr.Delete(ctx, item.ID); derr != nil {
				a.log.Warn("rollback after semantic failure", "id", item.ID, "error", derr)
			}
			return nil, model.Wrap("agentmem.Store", err)
		}
	}

	if cfg.cache && a.opts.Cache != nil {
		if err := a.opts.Cache.Set(a.sessionID, a.id, item.ID, item.Clone(), a.opts.CacheTTL); err != nil {
			a.log.Warn("cache write failed", "id", item.ID, "error", err)
		}
	}
	return item, nil
}

func (a *Agent) storeSemantic(ctx context.Context, item *model.MemoryItem, data any, fields map[string]any, tags []string, importance float64) error {
	text := semanticText(data, fields)
	if strings.TrimSpace(text) == "" {
		a.log.Debug("nothing to embed", "id", item.ID)
		return nil
	}
	meta := map[string]any{
		treering.MetaAgentID:  a.id,
		treering.MetaMemoryID: item.ID,
		"importance":          importance,
	}
	if t := model.NormalizeTags(tags); len(t) > 0 {
		meta["tags"] = t
	}
	if _, ok := fields["content"]; ok {
		for k, v := range extractMetadata(fields) {
			meta[k] = v
		}
	}
	return a.opts.Semantic.AddDocumentWithID(ctx, item.ID, text, meta)
}

// tagsFor adds the agent tag, a type tag for objects with a string "type"
// field and any tags the value reports itself.
func (a *Agent) tagsFor(data any, fields map[string]any, tags []string) []string {
	out := append([]string(nil), tags...)
	out = append(out, treering.AgentTag(a.id))
	if kind, ok := fields["type"].(string); ok && kind != "" {
		out = append(out, "type:"+kind)
	}
	if t, ok := data.(Tagged); ok {
		out = append(out, t.MemoryTags()...)
	}
	return out
}

// SearchMemories runs a semantic search limited to this agent. Chunks of the
// same memory collapse into the best-scoring one. Without a semantic tier the
// result is empty.
func (a *Agent) SearchMemories(ctx context.Context, query string, topK int) ([]Memory, error) {
	if a.opts.Semantic == nil {
		return []Memory{}, nil
	}
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	results, err := a.opts.Semantic.Search(ctx, query, longterm.SearchOptions{
		Limit:  topK * 3,
		Filter: map[string]any{treering.MetaAgentID: a.id},
	})
	if err != nil {
		return nil, model.Wrap("SearchMemories", err)
	}

	out := make([]Memory, 0, topK)
	seen := make(map[string]bool)
	for _, r := range results {
		itemID, _ := r.Document.Metadata[treering.MetaMemoryID].(string)
		key := itemID
		if key == "" {
			key = r.Document.DocumentID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Memory{
			ItemID:    itemID,
			Content:   r.Document.Content,
			Metadata:  r.Document.Metadata,
			Relevance: r.Score,
		})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// GetRecentMemories returns up to ten of this agent's most recent items,
// optionally restricted to those carrying any of tags.
func (a *Agent) GetRecentMemories(ctx context.Context, tags ...string) ([]model.MemoryItem, error) {
	q := treering.Query{Context: []string{treering.AgentTag(a.id)}, Limit: recentLimit}
	if len(tags) > 0 {
		q = treering.Query{Context: tags}
	}
	items, err := a.mgr.Query(ctx, q)
	if err != nil {
		return nil, model.Wrap("GetRecentMemories", err)
	}
	if len(tags) > 0 {
		items = ownedBy(items, a.id)
		if len(items) > recentLimit {
			items = items[:recentLimit]
		}
	}
	return items, nil
}

// Recall searches every tier on behalf of this agent and session.
func (a *Agent) Recall(ctx context.Context, query string, tags ...string) ([]treering.Recalled, error) {
	return a.mgr.Recall(ctx, treering.Recall{
		SessionID: a.sessionID,
		AgentID:   a.id,
		Query:     query,
		Context:   tags,
	})
}

// Learn analyzes this agent's recent memories and stores the result as a
// pattern in the core ring. Previous learnings are not fed back in. With
// nothing to learn from it returns nil, nil.
func (a *Agent) Learn(ctx context.Context) (*model.MemoryItem, error) {
	items, err := a.mgr.Query(ctx, treering.Query{
		Context: []string{treering.AgentTag(a.id)},
		Limit:   learnSample,
	})
	if err != nil {
		return nil, model.Wrap("Learn", err)
	}
	sample := items[:0]
	for _, it := range items {
		if !it.HasAnyTag([]string{TagLearning}) {
			sample = append(sample, it)
		}
	}
	if len(sample) == 0 {
		return nil, nil
	}

	patterns, err := a.opts.Analyzer.Analyze(ctx, sample)
	if err != nil {
		return nil, model.Wrap("Learn", err)
	}
	item, err := a.Store(ctx, map[string]any{
		"type":     "learned_pattern",
		"patterns": patterns,
		"sampled":  len(sample),
	}, []string{TagLearning, TagPattern}, LearnImportance)
	if err != nil {
		return nil, model.Wrap("Learn", err)
	}
	a.log.Info("learned patterns", "id", item.ID, "sampled", len(sample))
	return item, nil
}

// asObject returns data as a generic JSON object, or nil if it is not one.
func asObject(data any) map[string]any {
	if m, ok := data.(map[string]any); ok {
		return m
	}
	switch data.(type) {
	case string, []byte, nil:
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil || len(b) == 0 || b[0] != '{' {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(b, &m) != nil {
		return nil
	}
	return m
}

// semanticText picks the text to embed: the "content" field of an object
// when present, otherwise the value itself.
func semanticText(data any, fields map[string]any) string {
	if c, ok := fields["content"]; ok {
		if s, ok := c.(string); ok {
			return s
		}
		b, _ := json.Marshal(c)
		return string(b)
	}
	if s, ok := data.(string); ok {
		return s
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}

// extractMetadata recognises agent messages (type, from, to) and tasks
// (type, priority, input).
func extractMetadata(fields map[string]any) map[string]any {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := fields[k]; !ok {
				return false
			}
		}
		return true
	}
	out := map[string]any{}
	switch {
	case has("type", "from", "to"):
		out["type"] = "message"
		out["messageType"] = fields["type"]
		out["from"] = fields["from"]
		out["to"] = fields["to"]
	case has("type", "priority", "input"):
		out["type"] = "task"
		out["taskType"] = fields["type"]
		out["priority"] = fields["priority"]
	default:
		return nil
	}
	if c, ok := fields["context"]; ok {
		out["context"] = c
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out
}

func ownedBy(items []model.MemoryItem, agentID string) []model.MemoryItem {
	tag := []string{treering.AgentTag(agentID)}
	out := items[:0]
	for _, it := range items {
		if it.HasAnyTag(tag) {
			out = append(out, it)
		}
	}
	return out
}

// Analyzer turns a sample of memories into a learned pattern value.
type Analyzer interface {
	Analyze(ctx context.Context, memories []model.MemoryItem) (any, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, memories []model.MemoryItem) (any, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, memories []model.MemoryItem) (any, error) {
	return f(ctx, memories)
}

// TagCount is one entry of a TagFrequency result.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// TagFrequency counts how often each context tag occurs, ignoring agent
// tags, and returns the Top most frequent (default 10).
type TagFrequency struct {
	Top int
}

func (t TagFrequency) Analyze(_ context.Context, memories []model.MemoryItem) (any, error) {
	top := t.Top
	if top <= 0 {
		top = 10
	}
	counts := make(map[string]int)
	for _, m := range memories {
		for _, tag := range m.Context {
			if strings.HasPrefix(tag, treering.AgentTag("")) {
				continue
			}
			counts[tag]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > top {
		out = out[:top]
	}
	return out, nil
}
