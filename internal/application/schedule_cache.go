package application

import (
	"sync"
	"time"
)

// scheduleCache stores recently read schedules so that attendance traffic does
// not hit the schedule table on every request. Configuration writes invalidate
// the affected entry.
type scheduleCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]scheduleCacheEntry
}

type scheduleCacheEntry struct {
	schedule  Schedule
	expiresAt time.Time
}

func newScheduleCache(ttl time.Duration, maxEntries int, now func() time.Time) *scheduleCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &scheduleCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]scheduleCacheEntry),
	}
}

func (c *scheduleCache) Get(id string) (Schedule, bool) {
	if c == nil {
		return Schedule{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return Schedule{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
		return Schedule{}, false
	}
	return cloneSchedule(entry.schedule), true
}

func (c *scheduleCache) Store(schedule Schedule) {
	if c == nil || schedule.ID == "" {
		return
	}
	cloned := cloneSchedule(schedule)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if _, exists := c.entries[schedule.ID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[schedule.ID] = scheduleCacheEntry{schedule: cloned, expiresAt: expiry}
}

func (c *scheduleCache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

func (c *scheduleCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *scheduleCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

func cloneSchedule(schedule Schedule) Schedule {
	schedule.RecurringDays = append([]int(nil), schedule.RecurringDays...)
	return schedule
}
