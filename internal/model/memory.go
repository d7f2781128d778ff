// Package model defines the core memory data types.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxLevel is the outermost ring.
const MaxLevel = 4

// MemoryItem is a single remembered unit placed in an importance ring.
type MemoryItem struct {
	ID           string          `json:"id"`
	Level        int             `json:"level"`
	Timestamp    time.Time       `json:"timestamp"`
	LastAccessed time.Time       `json:"last_accessed"`
	AccessCount  int             `json:"access_count"`
	Content      json.RawMessage `json:"content"`
	Context      []string        `json:"context,omitempty"`
	References   []string        `json:"references,omitempty"`
	Importance   float64         `json:"importance"`
}

// LevelFor maps an importance score to its ring. Higher importance lands
// closer to the core (level 0).
func LevelFor(importance float64) int {
	switch {
	case importance >= 0.8:
		return 0
	case importance >= 0.6:
		return 1
	case importance >= 0.4:
		return 2
	case importance >= 0.2:
		return 3
	default:
		return MaxLevel
	}
}

// SetImportance clamps v to [0,1] and re-derives the ring level.
func (m *MemoryItem) SetImportance(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.Importance = v
	m.Level = LevelFor(v)
}

// HasAnyTag reports whether the item carries at least one of tags.
func (m *MemoryItem) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range m.Context {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy so callers can't mutate shared index entries.
func (m MemoryItem) Clone() MemoryItem {
	c := m
	if m.Content != nil {
		c.Content = append(json.RawMessage(nil), m.Content...)
	}
	if m.Context != nil {
		c.Context = append([]string(nil), m.Context...)
	}
	if m.References != nil {
		c.References = append([]string(nil), m.References...)
	}
	return c
}

// DecodeContent unmarshals the item's payload into T.
func DecodeContent[T any](m *MemoryItem) (T, error) {
	var v T
	if len(m.Content) == 0 {
		return v, fmt.Errorf("decode content of %s: empty payload", m.ID)
	}
	if err := json.Unmarshal(m.Content, &v); err != nil {
		return v, fmt.Errorf("decode content of %s: %w", m.ID, err)
	}
	return v, nil
}

// NormalizeTags drops empty tags and duplicates, preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// VectorDocument is one embedded chunk in the long-term store. Chunks of the
// same logical document share DocumentID.
type VectorDocument struct {
	ID         string         `json:"id"`
	Namespace  string         `json:"namespace"`
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ChunkID is the stable key of chunk index i of documentID. Retried writes
// reuse it, so they overwrite instead of duplicating.
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s:%d", documentID, i)
}
