package pagecache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	entry   Entry
	expires time.Time
}

// MemoryCache is the single-process Cache used when Redis is not configured.
type MemoryCache struct {
	mu    sync.Mutex
	pages map[string]map[string]memEntry
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		pages: make(map[string]map[string]memEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, path, query string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	variants := c.pages[path]
	me, ok := variants[queryHash(query)]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(me.expires) {
		delete(variants, queryHash(query))
		return nil, false, nil
	}
	e := me.entry
	e.Body = append([]byte(nil), me.entry.Body...)
	return &e, true, nil
}

func (c *MemoryCache) Set(_ context.Context, path, query string, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	variants, ok := c.pages[path]
	if !ok {
		variants = make(map[string]memEntry)
		c.pages[path] = variants
	}
	stored := *e
	stored.Body = append([]byte(nil), e.Body...)
	variants[queryHash(query)] = memEntry{entry: stored, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Revalidate(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, path)
	return nil
}
