package treering

import (
	"sync"
	"time"

	"github.com/rcliao/treering/internal/model"
)

// EventType names a state change.
type EventType string

const (
	EventStored   EventType = "stored"
	EventUpdated  EventType = "updated"
	EventAccessed EventType = "accessed"
	EventLinked   EventType = "linked"
	EventDeleted  EventType = "deleted"
	EventPruned   EventType = "pruned"
)

// Event is published after a change has been persisted. Item is a copy of
// the item after the change; it is nil for deletions.
type Event struct {
	Type   EventType         `json:"type"`
	ItemID string            `json:"item_id"`
	Item   *model.MemoryItem `json:"item,omitempty"`
	At     time.Time         `json:"at"`
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	id   uint64
	hub  *hub
	once sync.Once
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s.id) })
}

// hub fans events out without ever blocking a writer.
type hub struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]chan Event
	closed bool
	onDrop func(Event)
}

func newHub(onDrop func(Event)) *hub {
	return &hub{subs: make(map[uint64]chan Event), onDrop: onDrop}
}

func (h *hub) subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	s := &Subscription{C: ch, hub: h}
	if h.closed {
		close(ch)
		s.once.Do(func() {})
		return s
	}
	h.next++
	s.id = h.next
	h.subs[s.id] = ch
	return s
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.onDrop(ev)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.closed = true
}
