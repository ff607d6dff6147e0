package fetch

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a TTL-bound LRU of response bodies.
type Cache struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	now   func() time.Time
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // key -> element
}

type entry struct {
	key  string
	body []byte
	exp  time.Time
}

func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{cap: maxEntries, ttl: ttl, now: time.Now, ll: list.New(), items: make(map[string]*list.Element)}
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	en := el.Value.(*entry)
	if !c.now().Before(en.exp) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return en.body, true
}

func (c *Cache) Put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry)
		en.body, en.exp = body, exp
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&entry{key: key, body: body, exp: exp})
	for c.ll.Len() > c.cap {
		c.evict(c.ll.Back())
	}
	// drop expired tail
	for t := c.ll.Back(); t != nil && !c.now().Before(t.Value.(*entry).exp); t = c.ll.Back() {
		c.evict(t)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) evict(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
