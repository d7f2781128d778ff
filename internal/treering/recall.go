package treering

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/treering/internal/longterm"
	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/shortterm"
)

// MetaMemoryID links a long-term chunk to the item it was written for.
const MetaMemoryID = "memoryId"

// MetaAgentID scopes long-term chunks to an agent.
const MetaAgentID = "agentId"

const defaultRecallLimit = 10

// Recall describes a cross-tier lookup.
type Recall struct {
	SessionID string
	AgentID   string
	Query     string
	Context   []string
	TimeRange *TimeRange
	Limit     int
}

// Source names the tier a recalled item came from.
type Source string

const (
	SourceShortTerm Source = "short_term"
	SourceRings     Source = "rings"
	SourceSemantic  Source = "semantic"
)

// Recalled is one merged, scored result.
type Recalled struct {
	Item    model.MemoryItem `json:"item"`
	Score   float64          `json:"score"`
	Sources []Source         `json:"sources"`
}

type candidate struct {
	item      model.MemoryItem
	relevance float64
	sources   []Source
}

// Recall gathers items from the short-term cache, the tag/time index and the
// semantic store, removes duplicates by id and ranks them by
// relevance*0.4 + recency*0.2 + importance*0.2 + access*0.2. Tiers that are
// not configured are skipped. Recall is a listing and does not count reads.
func (m *Manager) Recall(ctx context.Context, r Recall) ([]Recalled, error) {
	limit := r.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	found := make(map[string]*candidate)
	var order []string
	add := func(item model.MemoryItem, relevance float64, src Source) {
		c, ok := found[item.ID]
		if !ok {
			found[item.ID] = &candidate{item: item, relevance: relevance, sources: []Source{src}}
			order = append(order, item.ID)
			return
		}
		if src != SourceShortTerm {
			c.item = item
		}
		c.relevance = math.Max(c.relevance, relevance)
		c.sources = append(c.sources, src)
	}

	if m.opts.Cache != nil && r.SessionID != "" {
		for _, e := range m.opts.Cache.Find(r.SessionID, r.AgentID, shortterm.Wildcard) {
			// cache entries outlive deletes and prunes; the index does not
			item, ok := m.indexed(e.Value.ID)
			if !ok {
				continue
			}
			add(item, textRelevance(r.Query, item), SourceShortTerm)
		}
	}

	if len(r.Context) > 0 || r.TimeRange != nil {
		items, err := m.Query(ctx, Query{Context: r.Context, TimeRange: r.TimeRange})
		if err != nil {
			return nil, model.Wrap("Recall", err)
		}
		want := model.NormalizeTags(r.Context)
		if r.AgentID != "" {
			items = filterAgent(items, r.AgentID)
		}
		for _, it := range items {
			add(it, tagRelevance(want, it.Context), SourceRings)
		}
	}

	if m.opts.Semantic != nil && strings.TrimSpace(r.Query) != "" {
		opts := longterm.SearchOptions{Limit: limit * 3}
		if r.AgentID != "" {
			opts.Filter = map[string]any{MetaAgentID: r.AgentID}
		}
		results, err := m.opts.Semantic.Search(ctx, r.Query, opts)
		if err != nil {
			return nil, model.Wrap("Recall", err)
		}
		for _, res := range results {
			id, _ := res.Document.Metadata[MetaMemoryID].(string)
			if id == "" {
				continue
			}
			if c, ok := found[id]; ok {
				add(c.item, res.Score, SourceSemantic)
				continue
			}
			item, err := m.items.GetItem(ctx, id)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return nil, model.Wrap("Recall", err)
			}
			add(*item, res.Score, SourceSemantic)
		}
	}

	now := m.opts.Now()
	out := make([]Recalled, 0, len(order))
	for _, id := range order {
		c := found[id]
		out = append(out, Recalled{
			Item:    c.item,
			Score:   m.score(&c.item, c.relevance, now),
			Sources: c.sources,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Manager) score(item *model.MemoryItem, relevance float64, now time.Time) float64 {
	age := now.Sub(item.Timestamp).Hours() / 24
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-0.1 * age)

	importance := Decay(item.Importance, m.opts.DecayRate, now.Sub(item.LastAccessed))

	access := 0.0
	if item.AccessCount > 0 {
		access = math.Min(1, math.Log(float64(item.AccessCount)+1)/math.Log(100))
	}
	return relevance*0.4 + recency*0.2 + importance*0.2 + access*0.2
}

// tagRelevance is the fraction of wanted tags the item carries; 1 when no
// tags were asked for.
func tagRelevance(want, have []string) float64 {
	if len(want) == 0 {
		return 1
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	n := 0
	for _, t := range want {
		if set[t] {
			n++
		}
	}
	return float64(n) / float64(len(want))
}

// textRelevance scores a short-term hit: 1 when the query appears in the
// content (or there is no query), 0.5 otherwise.
func textRelevance(query string, item model.MemoryItem) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || strings.Contains(strings.ToLower(string(item.Content)), q) {
		return 1
	}
	return 0.5
}

// filterAgent keeps items tagged for agentID.
func filterAgent(items []model.MemoryItem, agentID string) []model.MemoryItem {
	tag := []string{AgentTag(agentID)}
	out := items[:0]
	for _, it := range items {
		if it.HasAnyTag(tag) {
			out = append(out, it)
		}
	}
	return out
}

func (m *Manager) indexed(id string) (model.MemoryItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	level, ok := m.levelOf[id]
	if !ok {
		return model.MemoryItem{}, false
	}
	return m.rings[level][id].Clone(), true
}

// AgentTag is the context tag that marks an item as owned by agentID.
func AgentTag(agentID string) string {
	return "agent:" + agentID
}
