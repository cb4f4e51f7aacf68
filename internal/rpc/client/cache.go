// Package client implements the entity cache a frontend keeps over the
// procedure catalog: one confirmed row per (entity type, id), a LIFO stack
// of optimistic drafts layered on top of it, and a field-selection-aware
// fetch that only asks the server for the columns a view actually renders.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/internal/rpc"
)

// entityKey addresses one cached row.
type entityKey struct {
	Entity string
	ID     string
}

// optimisticEntry is one pending draft layered on top of a row's confirmed
// value. id identifies the draft so a later confirm/revert can find it even
// if other drafts were pushed after it.
type optimisticEntry struct {
	id    string
	draft map[string]any
}

// Cache holds the confirmed value of every entity the client has fetched,
// plus a per-entity LIFO stack of optimistic drafts rendered on top of it.
// A read always returns the topmost draft if one exists, else the confirmed
// value, so a mutation's effect is visible immediately and disappears
// cleanly on revert without clobbering a draft pushed after it.
type Cache struct {
	mu        sync.RWMutex
	confirmed map[entityKey]map[string]any
	drafts    map[entityKey][]optimisticEntry
}

// NewCache returns an empty entity cache.
func NewCache() *Cache {
	return &Cache{
		confirmed: make(map[entityKey]map[string]any),
		drafts:    make(map[entityKey][]optimisticEntry),
	}
}

// Get returns the entity's current visible value: the topmost optimistic
// draft if one is pending, else the last confirmed value, else (nil, false).
func (c *Cache) Get(entity, id string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := entityKey{entity, id}
	if drafts := c.drafts[key]; len(drafts) > 0 {
		return drafts[len(drafts)-1].draft, true
	}
	v, ok := c.confirmed[key]
	return v, ok
}

// Put records a confirmed value fetched or returned by the server. It does
// not disturb any pending optimistic draft: the draft still renders until
// that specific mutation resolves.
func (c *Cache) Put(entity, id string, value map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed[entityKey{entity, id}] = value
}

// Evict drops an entity and any pending drafts for it, e.g. after a delete
// mutation confirms.
func (c *Cache) Evict(entity, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := entityKey{entity, id}
	delete(c.confirmed, key)
	delete(c.drafts, key)
}

// PushOptimistic applies spec to the entity's current visible value and
// pushes the result as a new draft, returning a token Confirm/Revert use to
// unwind exactly this draft later.
func (c *Cache) PushOptimistic(spec *rpc.OptimisticSpec, input map[string]any) string {
	id := spec.IDFromInput(input)
	token := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	key := entityKey{spec.Entity, id}

	var base map[string]any
	if drafts := c.drafts[key]; len(drafts) > 0 {
		base = drafts[len(drafts)-1].draft
	} else {
		base = c.confirmed[key]
	}

	draft := spec.Apply(copyMap(base), input, time.Now())
	c.drafts[key] = append(c.drafts[key], optimisticEntry{id: token, draft: draft})
	return token
}

// Confirm replaces the entity's confirmed value with the server's
// authoritative result and removes the draft identified by token, wherever
// it sits in the stack (a later mutation may have already resolved and
// popped drafts pushed after it).
func (c *Cache) Confirm(entity, id, token string, result map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := entityKey{entity, id}
	c.confirmed[key] = result
	c.drafts[key] = removeToken(c.drafts[key], token)
}

// Revert discards the draft identified by token without touching the
// confirmed value, used when a mutation fails and its optimistic update
// must be undone.
func (c *Cache) Revert(entity, id, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := entityKey{entity, id}
	c.drafts[key] = removeToken(c.drafts[key], token)
}

func removeToken(entries []optimisticEntry, token string) []optimisticEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.id != token {
			out = append(out, e)
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
