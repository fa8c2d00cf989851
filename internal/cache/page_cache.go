package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/gravel/resource"
)

// PageSize is the unit of caching and of all external-memory I/O.
const PageSize = 4096

// Key identifies a cached page by file and page-aligned offset.
type Key struct {
	FileID uint32
	Off    int64
}

// Page is a fixed-size cached block of file data. Data may be shorter
// than PageSize for the final page of a file.
type Page struct {
	key  Key
	data []byte
	refs atomic.Int32
	elem *list.Element
}

// Data returns the page contents. The slice is valid while the page is
// pinned.
func (p *Page) Data() []byte { return p.data }

// Key returns the page identity.
func (p *Page) Key() Key { return p.key }

// PageCache is a shared, pin-aware LRU page cache.
type PageCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[Key]*Page
	evict    *list.List
	rc       *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

// NewPageCache creates a page cache with the given capacity in bytes.
// If rc is provided, it tracks the cache's memory usage.
func NewPageCache(capacity int64, rc *resource.Controller) *PageCache {
	return &PageCache{
		capacity: capacity,
		items:    make(map[Key]*Page),
		evict:    list.New(),
		rc:       rc,
	}
}

// GetPinned returns the cached page for key with its reference count
// incremented. The caller must Release the page when done.
func (c *PageCache) GetPinned(key Key) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.items[key]; ok {
		c.hits.Add(1)
		p.refs.Add(1)
		c.evict.MoveToFront(p.elem)
		return p, true
	}
	c.misses.Add(1)
	return nil, false
}

// AddPinned inserts a page read from disk and returns it pinned.
// If another reader raced the insert, the existing page is returned
// instead and data is discarded.
func (c *PageCache) AddPinned(key Key, data []byte) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.items[key]; ok {
		p.refs.Add(1)
		c.evict.MoveToFront(p.elem)
		return p
	}

	p := &Page{key: key, data: data}
	p.refs.Store(1)

	// Evict unpinned pages from the cold end until we fit. Pinned pages
	// are skipped; the cache may grow past capacity while everything is
	// pinned.
	for c.size+int64(len(data)) > c.capacity {
		if !c.evictOne() {
			break
		}
	}

	if c.rc != nil && !c.rc.TryAcquireMemory(int64(len(data))) {
		// Over the global memory limit: serve the page unmanaged. It is
		// pinned by the caller and dropped on Release.
		p.elem = nil
		return p
	}

	p.elem = c.evict.PushFront(p)
	c.items[key] = p
	c.size += int64(len(data))
	return p
}

// Release unpins a page previously returned by GetPinned or AddPinned.
func (c *PageCache) Release(p *Page) {
	if p == nil {
		return
	}
	p.refs.Add(-1)
}

// evictOne removes the least recently used unpinned page.
// Returns false if every resident page is pinned.
func (c *PageCache) evictOne() bool {
	for e := c.evict.Back(); e != nil; e = e.Prev() {
		p := e.Value.(*Page)
		if p.refs.Load() > 0 {
			continue
		}
		c.evict.Remove(e)
		delete(c.items, p.key)
		c.size -= int64(len(p.data))
		if c.rc != nil {
			c.rc.ReleaseMemory(int64(len(p.data)))
		}
		return true
	}
	return false
}

// Invalidate removes unpinned entries matching the predicate.
func (c *PageCache) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*Page
	for key, p := range c.items {
		if predicate(key) && p.refs.Load() == 0 {
			toRemove = append(toRemove, p)
		}
	}
	for _, p := range toRemove {
		c.evict.Remove(p.elem)
		delete(c.items, p.key)
		c.size -= int64(len(p.data))
		if c.rc != nil {
			c.rc.ReleaseMemory(int64(len(p.data)))
		}
	}
}

// Size returns the current size of the cache in bytes.
func (c *PageCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns the hit and miss counters.
func (c *PageCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
