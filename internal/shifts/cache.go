package shifts

import (
	"sync"
	"time"
)

type cacheEntry struct {
	shifts    []RawShift
	fetchedAt time.Time
}

// ScheduleCache keeps recently fetched schedules per email so that a plan
// preview followed by a fill does not hit the scheduling API twice.
type ScheduleCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewScheduleCache(ttl time.Duration) *ScheduleCache {
	return &ScheduleCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *ScheduleCache) Get(email string) []RawShift {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[email]
	if !ok || c.ttl <= 0 || c.now().Sub(e.fetchedAt) > c.ttl {
		return nil
	}

	result := make([]RawShift, len(e.shifts))
	copy(result, e.shifts)
	return result
}

func (c *ScheduleCache) Set(email string, shifts []RawShift) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := make([]RawShift, len(shifts))
	copy(cp, shifts)
	c.entries[email] = cacheEntry{shifts: cp, fetchedAt: c.now()}
}

func (c *ScheduleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}
