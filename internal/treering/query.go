package treering

import (
	"context"
	"time"

	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/store"
)

// TimeRange bounds item creation time. A zero end is open.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Query selects items. Empty fields do not filter.
type Query struct {
	Context       []string   // contains any
	TimeRange     *TimeRange
	MinImportance float64
	Limit         int
}

// Query lists matching items, most recent first. It is a listing, not a
// read: access counts, decay and LastAccessed are left alone, and
// MinImportance compares stored importance.
func (m *Manager) Query(ctx context.Context, q Query) ([]model.MemoryItem, error) {
	if q.MinImportance < 0 || q.MinImportance > 1 {
		return nil, model.Wrap("Query", model.Validationf("importance threshold %v outside [0, 1]", q.MinImportance))
	}
	if q.Limit < 0 {
		return nil, model.Wrap("Query", model.Validationf("negative limit %d", q.Limit))
	}
	iq := store.ItemQuery{
		Tags:          model.NormalizeTags(q.Context),
		MinImportance: q.MinImportance,
		Limit:         q.Limit,
	}
	if q.TimeRange != nil {
		iq.Since = q.TimeRange.Start
		iq.Until = q.TimeRange.End
	}
	items, err := m.items.QueryItems(ctx, iq)
	if err != nil {
		return nil, model.Wrap("Query", err)
	}
	if items == nil {
		items = []model.MemoryItem{}
	}
	return items, nil
}

// Recent returns the limit most recently created items.
func (m *Manager) Recent(ctx context.Context, limit int) ([]model.MemoryItem, error) {
	return m.Query(ctx, Query{Limit: limit})
}
