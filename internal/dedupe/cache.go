// ABOUTME: TTL and size-bounded cache of recently seen message keys.
// ABOUTME: Guards the live ingest path against replayed frames after reconnect.

package dedupe

import (
	"sync"
	"time"
)

// entry pairs a key with the time it was marked.
type entry struct {
	key      string
	markedAt time.Time
}

// Cache remembers message keys for a bounded window so a frame replayed
// after a transport reset is rejected before it reaches the merge path.
// Expired entries are pruned lazily on insert; there is no background
// goroutine, so teardown has nothing to stop.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	queue   []entry // insertion order, oldest first
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache that forgets keys after ttl and holds at most maxSize.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Key builds the cache key for a message in a conversation.
func Key(conversationID, messageID string) string {
	return conversationID + "\x00" + messageID
}

// Seen atomically checks whether key was marked within the TTL window and
// marks it if not. Returns true for duplicates.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)

	if markedAt, ok := c.seen[key]; ok && now.Sub(markedAt) < c.ttl {
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = now
	c.queue = append(c.queue, entry{key: key, markedAt: now})
	return false
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(c.now())
	return len(c.seen)
}

// prune drops expired entries from the front of the queue. A key re-marked
// after its queue entry was written is detected by comparing timestamps.
func (c *Cache) prune(now time.Time) {
	i := 0
	for ; i < len(c.queue); i++ {
		e := c.queue[i]
		if now.Sub(e.markedAt) < c.ttl {
			break
		}
		if markedAt, ok := c.seen[e.key]; ok && markedAt.Equal(e.markedAt) {
			delete(c.seen, e.key)
		}
	}
	if i > 0 {
		c.queue = append(c.queue[:0], c.queue[i:]...)
	}
}

// evictOldest removes the oldest live entry to make room.
func (c *Cache) evictOldest() {
	for len(c.queue) > 0 {
		e := c.queue[0]
		c.queue = c.queue[1:]
		if markedAt, ok := c.seen[e.key]; ok && markedAt.Equal(e.markedAt) {
			delete(c.seen, e.key)
			return
		}
	}
}
