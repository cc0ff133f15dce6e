// Package dedupe remembers recently seen message keys so redelivered frames
// are dispatched once.
package dedupe

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 10000
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache is a TTL and size bounded set of keys. The list is kept in seenAt
// order, oldest at the front, so expiry and eviction both pop from the front.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	index      map[string]*list.Element
	order      *list.List
	now        func() time.Time
}

func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		index:      make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// Key builds the cache key for one message on one bot account.
func Key(selfID, messageID int64) string {
	return strconv.FormatInt(selfID, 10) + ":" + strconv.FormatInt(messageID, 10)
}

// Seen reports whether key was marked within the TTL and marks it either
// way. A nil cache never reports duplicates.
func (c *Cache) Seen(key string) bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if elem, ok := c.index[key]; ok {
		elem.Value.(*entry).seenAt = now
		c.order.MoveToBack(elem)
		return true
	}

	for c.order.Len() >= c.maxEntries {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(c.now())
	return c.order.Len()
}

func (c *Cache) expireLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*entry).seenAt) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.index, elem.Value.(*entry).key)
}
