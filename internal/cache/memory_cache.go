package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	submission Submission
	expiresAt  time.Time
}

// MemorySubmissionCache is the single-process fallback used when Redis is not
// configured.
type MemorySubmissionCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemorySubmissionCache() *MemorySubmissionCache {
	return &MemorySubmissionCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemorySubmissionCache) Get(_ context.Context, key string) (*Submission, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	sub := entry.submission
	return &sub, true, nil
}

func (c *MemorySubmissionCache) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.entries[key] = memoryEntry{
		submission: Submission{State: StatePending},
		expiresAt:  c.now().Add(ttl),
	}
	return true, nil
}

func (c *MemorySubmissionCache) Complete(_ context.Context, key string, saleID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		submission: Submission{State: StateDone, SaleID: saleID},
		expiresAt:  c.now().Add(ttl),
	}
	return nil
}

func (c *MemorySubmissionCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// lookup drops expired entries as it finds them. Caller holds mu.
func (c *MemorySubmissionCache) lookup(key string) (memoryEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}
