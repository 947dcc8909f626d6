package pagehandler

import "github.com/cloverdb/pagehandler/pkg/lrucache"

// PageCache is an LRU cache of decoded raw pages, keyed by page-id. Every
// value handed out is a fresh clone so callers can freely mutate it
// without corrupting the cached copy -- see RawPage.Clone and spec.md
// Design Notes §9 on pipeline ownership.
type PageCache struct {
	lru *lrucache.Cache[PageID]
}

// NewPageCache returns a cache that holds at most maxPages pages.
func NewPageCache(maxPages int) *PageCache {
	return &PageCache{lru: lrucache.New[PageID](maxPages)}
}

// Get returns a clone of the cached page, if present. The header page
// (id 0) is moved to the front and marked accessed on every hit, so under
// cache pressure it gets a second-chance pass instead of being evicted as
// soon as it reaches the tail; it can still be evicted if it is not read
// again before a later eviction reaches it.
func (c *PageCache) Get(id PageID) (*RawPage, bool) {
	var v any
	var ok bool
	if id == HeaderPageID {
		v, ok = c.lru.GetAndPromote(id)
	} else {
		v, ok = c.lru.Get(id)
	}
	if !ok {
		return nil, false
	}
	return v.(*RawPage).Clone(), true
}

// Insert stores a clone of page, keyed by its id.
func (c *PageCache) Insert(page *RawPage) {
	c.lru.Put(page.ID, page.Clone(), true)
}

// Invalidate removes a single page from the cache, e.g. once it has been
// freed back to the header's free list.
func (c *PageCache) Invalidate(id PageID) {
	c.lru.Delete(id)
}

// Clear discards every cached page. The coordinator calls this on
// rollback (spec.md §4.2, invariant P5): cached pages may reflect writes
// that were just undone, so the cache cannot be trusted to survive a
// rollback the way it survives a checkpoint.
func (c *PageCache) Clear() { c.lru.Clear() }

// Len reports how many pages are currently cached.
func (c *PageCache) Len() int { return c.lru.Len() }
