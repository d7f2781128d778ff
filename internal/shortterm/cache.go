// Package shortterm implements rush memory: an in-process cache keyed by
// (session, agent, scope) with per-entry TTL and a hard entry limit enforced
// by least-recently-used eviction.
package shortterm

import (
	"container/list"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/treering/internal/model"
)

// Wildcard as a scope in Find matches every scope of a (session, agent) pair.
const Wildcard = "*"

const (
	DefaultCapacity = 1000
	DefaultTTL      = 5 * time.Minute
)

// Key identifies one cache entry.
type Key struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Scope     string `json:"scope"`
}

type owner struct {
	sessionID string
	agentID   string
}

func (k Key) owner() owner { return owner{k.SessionID, k.AgentID} }

// Entry is a live cache entry.
type Entry[V any] struct {
	Key       Key       `json:"key"`
	Value     V         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Options configures a Cache.
type Options struct {
	Capacity      int
	DefaultTTL    time.Duration
	SweepInterval time.Duration // janitor period for Start; 0 means DefaultTTL
	Now           func() time.Time
	Logger        *slog.Logger
}

// Stats are cumulative counters.
type Stats struct {
	Entries     int    `json:"entries"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

// Cache is safe for concurrent use. Writes to the same key are
// last-writer-wins.
type Cache[V any] struct {
	mu      sync.Mutex
	opts    Options
	ll      *list.List // front = most recently used
	items   map[Key]*list.Element
	byOwner map[owner]map[string]*list.Element
	stats   Stats

	stop chan struct{}
	done chan struct{}
}

// New creates a Cache, filling zero options with defaults.
func New[V any](opts Options) *Cache[V] {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = opts.DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache[V]{
		opts:    opts,
		ll:      list.New(),
		items:   make(map[Key]*list.Element),
		byOwner: make(map[owner]map[string]*list.Element),
	}
}

// Set inserts or overwrites an entry and resets its TTL. A zero ttl uses the
// default; a negative ttl is rejected. When the cache is full and the key is
// new, the least recently used entry is evicted.
func (c *Cache[V]) Set(sessionID, agentID, scope string, value V, ttl time.Duration) error {
	if ttl < 0 {
		return model.Validationf("negative ttl %s", ttl)
	}
	if ttl == 0 {
		ttl = c.opts.DefaultTTL
	}
	key := Key{SessionID: sessionID, AgentID: agentID, Scope: scope}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.opts.Now().Add(ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*Entry[V])
		e.Value = value
		e.ExpiresAt = expires
		c.ll.MoveToFront(el)
		return nil
	}

	if c.ll.Len() >= c.opts.Capacity {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}

	el := c.ll.PushFront(&Entry[V]{Key: key, Value: value, ExpiresAt: expires})
	c.items[key] = el
	o := key.owner()
	if c.byOwner[o] == nil {
		c.byOwner[o] = make(map[string]*list.Element)
	}
	c.byOwner[o][scope] = el
	return nil
}

// Get returns the live value for an exact key. Expired entries are removed
// and reported as absent.
func (c *Cache[V]) Get(sessionID, agentID, scope string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(Key{SessionID: sessionID, AgentID: agentID, Scope: scope})
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// lookup must be called with mu held. It promotes hits and drops expired entries.
func (c *Cache[V]) lookup(key Key) (*Entry[V], bool) {
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e := el.Value.(*Entry[V])
	if c.expired(e) {
		c.removeElement(el)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.stats.Hits++
	return e, true
}

// Find returns the live entries matching scope under (sessionID, agentID).
// With scope == Wildcard every scope matches. Results are ordered by scope.
func (c *Cache[V]) Find(sessionID, agentID, scope string) []Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if scope != Wildcard {
		e, ok := c.lookup(Key{SessionID: sessionID, AgentID: agentID, Scope: scope})
		if !ok {
			return nil
		}
		return []Entry[V]{*e}
	}

	scopes := c.byOwner[owner{sessionID, agentID}]
	out := make([]Entry[V], 0, len(scopes))
	for _, el := range scopes {
		e := el.Value.(*Entry[V])
		if c.expired(e) {
			c.removeElement(el)
			c.stats.Expirations++
			continue
		}
		c.ll.MoveToFront(el)
		out = append(out, *e)
	}
	if len(out) == 0 {
		c.stats.Misses++
		return nil
	}
	c.stats.Hits += uint64(len(out))
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Scope < out[j].Key.Scope })
	return out
}

// Delete removes an entry. It reports whether the key was present.
func (c *Cache[V]) Delete(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[Key]*list.Element)
	c.byOwner = make(map[owner]map[string]*list.Element)
}

// Len counts stored entries, including expired ones not yet purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	s.Capacity = c.opts.Capacity
	return s
}

// Purge removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*Entry[V])) {
			c.removeElement(el)
			n++
		}
		el = prev
	}
	c.stats.Expirations += uint64(n)
	return n
}

// Start runs a janitor that purges expired entries every SweepInterval until
// ctx is done or Close is called. Calling Start twice is a no-op.
func (c *Cache[V]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Purge(); n > 0 {
					c.opts.Logger.Debug("rush memory purged expired entries", "count", n)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the janitor and waits for it to exit.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Cache[V]) expired(e *Entry[V]) bool {
	return c.opts.Now().After(e.ExpiresAt)
}

// removeElement must be called with mu held.
func (c *Cache[V]) removeElement(el *list.Element) {
	e := el.Value.(*Entry[V])
	c.ll.Remove(el)
	delete(c.items, e.Key)
	o := e.Key.owner()
	if scopes := c.byOwner[o]; scopes != nil {
		delete(scopes, e.Key.Scope)
		if len(scopes) == 0 {
			delete(c.byOwner, o)
		}
	}
}
