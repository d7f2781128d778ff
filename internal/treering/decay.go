package treering

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rcliao/treering/internal/model"
)

// Decay returns importance after elapsed time without access, following an
// exponential forgetting curve with rate per day. It never increases the
// value.
func Decay(importance, rate float64, elapsed time.Duration) float64 {
	if rate <= 0 || elapsed <= 0 {
		return importance
	}
	days := elapsed.Hours() / 24
	return importance * math.Exp(-rate*days)
}

// EffectiveImportance is the item's importance with pending decay applied.
// It does not modify the item.
func (m *Manager) EffectiveImportance(item *model.MemoryItem) float64 {
	return Decay(item.Importance, m.opts.DecayRate, m.opts.Now().Sub(item.LastAccessed))
}

func (m *Manager) applyDecay(item *model.MemoryItem, now time.Time) {
	decayed := Decay(item.Importance, m.opts.DecayRate, now.Sub(item.LastAccessed))
	if decayed != item.Importance {
		item.SetImportance(decayed)
	}
}

// Access reads an item and promotes it: importance becomes the decayed value
// plus AccessBoost, capped at 1, and the ring is re-derived.
func (m *Manager) Access(ctx context.Context, id string) (*model.MemoryItem, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	item, err := m.items.GetItem(ctx, id)
	if err != nil {
		return nil, model.Wrap("Access", err)
	}
	now := m.opts.Now().UTC()
	m.applyDecay(item, now)
	before := item.Level
	item.SetImportance(math.Min(1, item.Importance+AccessBoost))
	item.AccessCount++
	item.LastAccessed = now

	if err := m.items.PutItem(ctx, item); err != nil {
		return nil, model.Wrap("Access", err)
	}
	m.index(item)
	m.emit(EventAccessed, item)
	if item.Level != before {
		m.log.Debug("memory moved ring", "id", id, "from", before, "to", item.Level)
	}
	return item, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
