package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a bounded in-process cache with per-entry expiry.
type Memory struct {
	mu         sync.RWMutex
	now        func() time.Time
	maxEntries int
	entries    map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory returns a cache holding at most maxEntries values.
func NewMemory(maxEntries int, now func() time.Time) *Memory {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, maxEntries: maxEntries, entries: make(map[string]memoryEntry)}
}

// Get returns a copy of the cached value or ErrMiss.
func (c *Memory) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, ErrMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores value until ttl elapses. A non-positive ttl stores nothing.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	expiry := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: expiry}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Memory) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOneLocked drops the entry closest to expiry.
func (c *Memory) evictOneLocked() {
	var (
		victim string
		oldest time.Time
	)
	for key, entry := range c.entries {
		if victim == "" || entry.expiresAt.Before(oldest) {
			victim, oldest = key, entry.expiresAt
		}
	}
	delete(c.entries, victim)
}
