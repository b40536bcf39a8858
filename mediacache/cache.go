// Package mediacache persists the mapping from logical media slot names
// to platform-issued file handles, so a piece of media is uploaded at
// most once and re-sent by handle afterwards.
package mediacache

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// Cache is a write-through slot -> handle store backed by a flat JSON
// document. The document is read in full at open time and rewritten in
// full on every mutation. Handles have no TTL; they stay until a failed
// send invalidates them.
type Cache struct {
	path string

	mu sync.Mutex
	m  map[string]string
}

// Open loads the cache document at path. A missing or unreadable
// document yields an empty cache, not an error.
func Open(path string) *Cache {
	c := &Cache{path: path, m: map[string]string{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(raw, &c.m); err != nil {
		log.Printf("media cache %v is corrupt, starting empty: %v", path, err)
		c.m = map[string]string{}
	}
	return c
}

// Resolve returns the cached handle for slot, if any.
func (c *Cache) Resolve(slot string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ok := c.m[slot]
	return handle, ok
}

// Remember overwrites the handle for slot unconditionally.
func (c *Cache) Remember(slot, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[slot] = handle
	c.persist()
}

// Invalidate removes the entry for slot. Resolve returns absent for the
// slot until the next Remember.
func (c *Cache) Invalidate(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.m, slot)
	c.persist()
}

// FirstFreeSlot returns the first of slots with no cached handle.
func (c *Cache) FirstFreeSlot(slots ...string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, slot := range slots {
		if _, ok := c.m[slot]; !ok {
			return slot, true
		}
	}
	return "", false
}

// caller holds c.mu
func (c *Cache) persist() {
	raw, err := json.Marshal(c.m)
	if err != nil {
		log.Printf("failed to marshal media cache: %v", err)
		return
	}
	if err := os.WriteFile(c.path, raw, 0644); err != nil {
		log.Printf("failed to save media cache to %v: %v", c.path, err)
	}
}
