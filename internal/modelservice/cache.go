package modelservice

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// selectionCache memoizes model selections. Selections are keyed by task
// type, a coarse complexity band, and the quality preference, so near-equal
// complexities share an entry instead of hammering the selection endpoint.
type selectionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]selectionEntry
}

type selectionEntry struct {
	selection ModelSelection
	expires   time.Time
}

func newSelectionCache(ttl time.Duration) *selectionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &selectionCache{
		ttl:     ttl,
		entries: make(map[string]selectionEntry),
	}
}

// selectionKey buckets complexity into tenths.
func selectionKey(taskType string, complexity float64, qualityPref string) string {
	band := int(math.Floor(complexity * 10))
	if band > 10 {
		band = 10
	}
	if band < 0 {
		band = 0
	}
	return fmt.Sprintf("%s|%d|%s", taskType, band, qualityPref)
}

func (c *selectionCache) get(key string) (ModelSelection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		delete(c.entries, key)
		return ModelSelection{}, false
	}
	return entry.selection, true
}

func (c *selectionCache) put(key string, sel ModelSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = selectionEntry{selection: sel, expires: time.Now().Add(c.ttl)}
}
