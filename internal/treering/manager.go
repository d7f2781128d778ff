// Package treering places memory items in importance rings, promotes them on
// access, decays them on neglect and prunes the stale outer rings.
//
// The durable store is the source of truth. The manager keeps a per-level
// index of item copies for ring-scoped reads and rebuilds it on start.
package treering

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/treering/internal/longterm"
	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/shortterm"
	"github.com/rcliao/treering/internal/store"
)

const (
	DefaultImportance      = 0.5
	DefaultRetentionWindow = 30 * 24 * time.Hour
	DefaultDecayRate       = 0.1 // per day

	// AccessBoost is added to importance by each Access.
	AccessBoost = 0.1
)

// Prune thresholds: items outside the inner rings that are unimportant and
// untouched for the retention window are removed.
const (
	pruneMinLevel        = 3
	pruneBelowImportance = 0.3
)

// SemanticSearcher is the long-term tier as seen by Recall.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, opts longterm.SearchOptions) ([]longterm.Result, error)
}

// Options configures a Manager.
type Options struct {
	RetentionWindow time.Duration
	// DecayRate is the per-day exponential decay constant. Zero uses
	// DefaultDecayRate; a negative value disables decay.
	DecayRate float64
	Now       func() time.Time
	Logger    *slog.Logger

	// Optional tiers consulted by Recall.
	Cache    *shortterm.Cache[model.MemoryItem]
	Semantic SemanticSearcher
}

// Patch holds the fields Update changes. Nil fields are left alone.
type Patch struct {
	Content    any
	Context    []string
	Importance *float64
	References []string
}

// Manager coordinates ring placement over an ItemStore. It is safe for
// concurrent use.
type Manager struct {
	items store.ItemStore
	opts  Options
	log   *slog.Logger

	locks *keyedMutex
	hub   *hub

	mu      sync.RWMutex
	rings   [model.MaxLevel + 1]map[string]*model.MemoryItem
	levelOf map[string]int
}

// New creates a Manager and builds its ring index from items.
func New(ctx context.Context, items store.ItemStore, opts Options) (*Manager, error) {
	if items == nil {
		return nil, model.Wrap("treering.New", model.Validationf("item store is required"))
	}
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = DefaultRetentionWindow
	}
	if opts.DecayRate == 0 {
		opts.DecayRate = DefaultDecayRate
	}
	if opts.DecayRate < 0 {
		opts.DecayRate = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		items: items,
		opts:  opts,
		log:   opts.Logger,
		locks: newKeyedMutex(),
	}
	m.hub = newHub(func(ev Event) {
		m.log.Warn("subscriber too slow, dropping event", "type", ev.Type, "id", ev.ItemID)
	})
	if err := m.Rebuild(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Rebuild reloads the ring index from the store.
func (m *Manager) Rebuild(ctx context.Context) error {
	all, err := m.items.QueryItems(ctx, store.ItemQuery{})
	if err != nil {
		return model.Wrap("Rebuild", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rings {
		m.rings[i] = make(map[string]*model.MemoryItem)
	}
	m.levelOf = make(map[string]int, len(all))
	for i := range all {
		m.indexLocked(&all[i])
	}
	m.log.Debug("ring index rebuilt", "items", len(all))
	return nil
}

// Close ends every subscription.
func (m *Manager) Close() {
	m.hub.close()
}

// Subscribe returns a subscription with the given channel buffer. Events that
// do not fit are dropped rather than blocking writers.
func (m *Manager) Subscribe(buffer int) *Subscription {
	return m.hub.subscribe(buffer)
}

// Store creates an item in the ring matching importance.
func (m *Manager) Store(ctx context.Context, content any, contextTags []string, importance float64) (*model.MemoryItem, error) {
	if err := checkImportance(importance); err != nil {
		return nil, model.Wrap("Store", err)
	}
	raw, err := encodeContent(content)
	if err != nil {
		return nil, model.Wrap("Store", err)
	}

	now := m.opts.Now().UTC()
	item := &model.MemoryItem{
		ID:           model.NewID(),
		Timestamp:    now,
		LastAccessed: now,
		Content:      raw,
		Context:      model.NormalizeTags(contextTags),
	}
	item.SetImportance(importance)

	if err := m.items.PutItem(ctx, item); err != nil {
		return nil, model.Wrap("Store", err)
	}
	m.index(item)
	m.emit(EventStored, item)
	m.log.Debug("memory stored", "id", item.ID, "level", item.Level, "importance", item.Importance)
	return item, nil
}

// StoreValue stores v and returns the item; model.DecodeContent reads it back.
func StoreValue[T any](ctx context.Context, m *Manager, v T, contextTags []string, importance float64) (*model.MemoryItem, error) {
	return m.Store(ctx, v, contextTags, importance)
}

// Get reads an item. A read applies pending decay, counts the access and
// persists both.
func (m *Manager) Get(ctx context.Context, id string) (*model.MemoryItem, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	item, err := m.items.GetItem(ctx, id)
	if err != nil {
		return nil, model.Wrap("Get", err)
	}
	now := m.opts.Now().UTC()
	m.applyDecay(item, now)
	item.AccessCount++
	item.LastAccessed = now

	if err := m.items.PutItem(ctx, item); err != nil {
		return nil, model.Wrap("Get", err)
	}
	m.index(item)
	return item, nil
}

// Update merges p into the item and refreshes LastAccessed. Decay accrued so
// far is applied before the clock is reset.
func (m *Manager) Update(ctx context.Context, id string, p Patch) (*model.MemoryItem, error) {
	if p.Importance != nil {
		if err := checkImportance(*p.Importance); err != nil {
			return nil, model.Wrap("Update", err)
		}
	}
	var raw json.RawMessage
	if p.Content != nil {
		var err error
		if raw, err = encodeContent(p.Content); err != nil {
			return nil, model.Wrap("Update", err)
		}
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	item, err := m.items.GetItem(ctx, id)
	if err != nil {
		return nil, model.Wrap("Update", err)
	}
	now := m.opts.Now().UTC()
	m.applyDecay(item, now)

	if raw != nil {
		item.Content = raw
	}
	if p.Context != nil {
		item.Context = model.NormalizeTags(p.Context)
	}
	if p.References != nil {
		item.References = model.NormalizeTags(p.References)
	}
	if p.Importance != nil {
		item.SetImportance(*p.Importance)
	}
	item.LastAccessed = now

	if err := m.items.PutItem(ctx, item); err != nil {
		return nil, model.Wrap("Update", err)
	}
	m.index(item)
	m.emit(EventUpdated, item)
	return item, nil
}

// Link replaces the item's references with relatedIDs.
func (m *Manager) Link(ctx context.Context, id string, relatedIDs []string) (*model.MemoryItem, error) {
	for _, rid := range relatedIDs {
		if rid == id {
			return nil, model.Wrap("Link", model.Validationf("memory %s cannot reference itself", id))
		}
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	item, err := m.items.GetItem(ctx, id)
	if err != nil {
		return nil, model.Wrap("Link", err)
	}
	item.References = model.NormalizeTags(relatedIDs)
	if err := m.items.PutItem(ctx, item); err != nil {
		return nil, model.Wrap("Link", err)
	}
	m.index(item)
	m.emit(EventLinked, item)
	return item, nil
}

// Related returns the items the given item references. References are
// non-owning, so ids that no longer resolve are skipped.
func (m *Manager) Related(ctx context.Context, id string) ([]model.MemoryItem, error) {
	item, err := m.items.GetItem(ctx, id)
	if err != nil {
		return nil, model.Wrap("Related", err)
	}
	out := make([]model.MemoryItem, 0, len(item.References))
	for _, rid := range item.References {
		ref, err := m.items.GetItem(ctx, rid)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, model.Wrap("Related", err)
		}
		out = append(out, *ref)
	}
	return out, nil
}

// Delete removes an item.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	n, err := m.items.DeleteItems(ctx, id)
	if err != nil {
		return model.Wrap("Delete", err)
	}
	if n == 0 {
		return model.Wrap("Delete", model.NotFoundf("memory %s", id))
	}
	m.unindex(id)
	m.emit(EventDeleted, &model.MemoryItem{ID: id})
	return nil
}

// GetRing returns every item currently at level, most recent first. It is
// served from the index and does not count as a read.
func (m *Manager) GetRing(ctx context.Context, level int) ([]model.MemoryItem, error) {
	if level < 0 || level > model.MaxLevel {
		return nil, model.Wrap("GetRing", model.Validationf("level %d outside 0..%d", level, model.MaxLevel))
	}
	m.mu.RLock()
	out := make([]model.MemoryItem, 0, len(m.rings[level]))
	for _, it := range m.rings[level] {
		out = append(out, it.Clone())
	}
	m.mu.RUnlock()

	sortRecentFirst(out)
	return out, nil
}

// RingSizes returns the item count per level.
func (m *Manager) RingSizes() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sizes := make([]int, len(m.rings))
	for i, r := range m.rings {
		sizes[i] = len(r)
	}
	return sizes
}

func (m *Manager) index(item *model.MemoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexLocked(item)
}

func (m *Manager) indexLocked(item *model.MemoryItem) {
	if old, ok := m.levelOf[item.ID]; ok {
		delete(m.rings[old], item.ID)
	}
	c := item.Clone()
	m.rings[c.Level][c.ID] = &c
	m.levelOf[c.ID] = c.Level
}

func (m *Manager) unindex(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.levelOf[id]; ok {
		delete(m.rings[old], id)
		delete(m.levelOf, id)
	}
}

func (m *Manager) emit(t EventType, item *model.MemoryItem) {
	ev := Event{Type: t, ItemID: item.ID, At: m.opts.Now().UTC()}
	if t != EventDeleted && t != EventPruned {
		c := item.Clone()
		ev.Item = &c
	}
	m.hub.publish(ev)
}

func checkImportance(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return model.Validationf("importance %v outside [0, 1]", v)
	}
	return nil
}

func encodeContent(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, model.Validationf("content is not valid JSON")
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, model.Validationf("content is not serializable: %v", err)
	}
	return b, nil
}

func sortRecentFirst(items []model.MemoryItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID > items[j].ID
	})
}
