package treering

import (
	"context"
	"time"

	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/store"
)

// Prune deletes items in the outer rings (level > 2) with importance below
// 0.3 that were last accessed before the retention window. Importance and
// ring are judged after decay, so an item stored high but never touched
// again is eventually removed. It returns how many items were removed.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	now := m.opts.Now().UTC()
	cutoff := now.Add(-m.opts.RetentionWindow)
	// stored importance only overstates the decayed one, so the ring and
	// importance bounds are checked per item
	candidates, err := m.items.QueryItems(ctx, store.ItemQuery{AccessedBefore: cutoff})
	if err != nil {
		return 0, model.Wrap("Prune", err)
	}

	pruned := 0
	for _, c := range candidates {
		ok, err := m.pruneOne(ctx, c.ID, now, cutoff)
		if err != nil {
			return pruned, model.Wrap("Prune", err)
		}
		if ok {
			pruned++
		}
	}
	if pruned > 0 {
		m.log.Info("pruned stale memories", "count", pruned, "cutoff", cutoff)
	}
	return pruned, nil
}

// pruneOne re-checks the item under its lock so a concurrent Access wins.
// Decay is applied to the loaded copy only; a survivor keeps its stored
// importance so later reads decay it from the same LastAccessed.
func (m *Manager) pruneOne(ctx context.Context, id string, now, cutoff time.Time) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	item, err := m.items.GetItem(ctx, id)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.applyDecay(item, now)
	if !prunable(item, cutoff) {
		return false, nil
	}
	if _, err := m.items.DeleteItems(ctx, id); err != nil {
		return false, err
	}
	m.unindex(id)
	m.emit(EventPruned, item)
	return true, nil
}

func prunable(item *model.MemoryItem, cutoff time.Time) bool {
	return item.Level >= pruneMinLevel &&
		item.Importance < pruneBelowImportance &&
		item.LastAccessed.Before(cutoff)
}

// Run prunes every interval until ctx is done. Failures are logged and the
// loop keeps going.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Prune(ctx); err != nil {
				m.log.Warn("prune failed", "error", err)
			}
		}
	}
}
