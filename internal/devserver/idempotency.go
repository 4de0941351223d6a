package devserver

import (
	"sync"
	"time"
)

// IdempotencyWindow is how long a submission key keeps pointing at its job.
const IdempotencyWindow = 10 * time.Minute

type idempotencyEntry struct {
	jobID string
	at    time.Time
}

// idempotencyCache maps (user, key) to the job the key first created.
type idempotencyCache struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyCache(window time.Duration, now func() time.Time) *idempotencyCache {
	return &idempotencyCache{window: window, now: now, entries: make(map[string]idempotencyEntry)}
}

// reserve binds key to jobID unless a live entry exists, in which case that
// entry's job id is returned with fresh false.
func (c *idempotencyCache) reserve(owner, key, jobID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.at) >= c.window {
			delete(c.entries, k)
		}
	}
	id := owner + "\x00" + key
	if e, ok := c.entries[id]; ok {
		return e.jobID, false
	}
	c.entries[id] = idempotencyEntry{jobID: jobID, at: now}
	return jobID, true
}

// release forgets a reservation whose job was never created.
func (c *idempotencyCache) release(owner, key, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := owner + "\x00" + key
	if e, ok := c.entries[id]; ok && e.jobID == jobID {
		delete(c.entries, id)
	}
}
