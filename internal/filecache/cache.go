// Package filecache implements the bounded, size-accounted, in-memory file
// cache described by the fastpath subsystem: entries are keyed by an
// OS-stable file identity, refcounted so concurrent readers can safely hold
// a resident entry after it has been evicted from the index, and built by
// at most one goroutine per key at a time.
package filecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/Elettrotecnica/naviserver/internal/metrics"
)

// entryOverhead approximates the bookkeeping cost of one resident entry,
// added to its byte size when accounting against MaxSize — mirrors the
// original's "entry.size + entry_overhead" accounting note.
const entryOverhead = 64

// Entry is one cached file's contents plus its stat identity.
type Entry struct {
	Mtime time.Time
	Size  int64
	Bytes []byte

	mu     sync.Mutex
	refcnt int32
}

// Retain increments the entry's reference count. Safe to call concurrently.
func (e *Entry) Retain() {
	e.mu.Lock()
	e.refcnt++
	e.mu.Unlock()
}

// Release decrements the entry's reference count. The caller must pair every
// Retain (including the implicit one returned by LookupOrBuild) with exactly
// one Release.
func (e *Entry) Release() {
	e.mu.Lock()
	e.refcnt--
	e.mu.Unlock()
}

func (e *Entry) refs() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refcnt
}

// BuildFunc produces a new Entry for a cache miss. It is invoked with the
// cache lock released so file I/O never blocks unrelated lookups.
type BuildFunc func() (*Entry, error)

// node is the cache's internal bookkeeping for one resident or in-flight key.
type node struct {
	key      any
	entry    *Entry // nil while building
	building bool
	elem     *list.Element // position in the LRU list; nil while building
}

// Cache is a size-bounded, LRU-evicting, refcounted map from an opaque key
// (normally filecache.Key) to *Entry. All exported methods are safe for
// concurrent use.
type Cache struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxSize   int64
	totalSize int64

	nodes map[any]*node
	lru   *list.List // front = most recently used
}

// New returns an empty cache bounded to maxSize total accounted bytes.
func New(maxSize int64) *Cache {
	c := &Cache{
		maxSize: maxSize,
		nodes:   make(map[any]*node),
		lru:     list.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// LookupOrBuild returns the resident entry for key, building it via build if
// absent. At most one goroutine runs build per key; concurrent callers for
// the same key block on the cache's condition variable until the builder
// finishes. The returned Entry has already been Retain()'d on the caller's
// behalf; the caller must Release() it when done. If build fails, no entry
// is left behind and the error is returned to the caller that ran build;
// callers that were waiting on that build find the key absent and one of
// them runs its own build.
func (c *Cache) LookupOrBuild(key any, build BuildFunc) (*Entry, error) {
	c.mu.Lock()

	for {
		n, ok := c.nodes[key]
		if !ok {
			break
		}
		if n.building {
			c.cond.Wait()
			continue
		}
		// Resident hit.
		n.entry.Retain()
		c.touch(n)
		c.mu.Unlock()
		return n.entry, nil
	}

	// Install a building placeholder so concurrent lookups wait instead of
	// racing to build the same key.
	n := &node{key: key, building: true}
	c.nodes[key] = n
	c.mu.Unlock()

	entry, err := build()

	c.mu.Lock()
	if err != nil {
		delete(c.nodes, key)
		c.cond.Broadcast()
		c.mu.Unlock()
		return nil, err
	}

	entry.Retain() // one ref for the cache's own residency
	n.entry = entry
	n.building = false
	n.elem = c.lru.PushFront(n)
	c.totalSize += entry.Size + entryOverhead
	c.evictLocked(n)
	c.cond.Broadcast()

	entry.Retain() // one ref for the caller
	c.mu.Unlock()

	return entry, nil
}

// InvalidateIfStale removes the resident entry for key if its (mtime, size)
// disagree with the values given. Waiters blocked in LookupOrBuild observe
// the key as absent on their next iteration and rebuild it. A no-op if the
// key is not resident or is currently building.
func (c *Cache) InvalidateIfStale(key any, mtime time.Time, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[key]
	if !ok || n.building {
		return
	}
	if n.entry.Mtime.Equal(mtime) && n.entry.Size == size {
		return
	}
	c.removeLocked(n)
}

// touch moves n to the front of the LRU list; n must be resident.
func (c *Cache) touch(n *node) {
	if n.elem != nil {
		c.lru.MoveToFront(n.elem)
	}
}

// removeLocked drops n from the index. The underlying Entry's memory is
// freed only once its refcount reaches zero (see Entry.Release); removing it
// from the index just stops new lookups from finding it.
func (c *Cache) removeLocked(n *node) {
	delete(c.nodes, n.key)
	if n.elem != nil {
		c.lru.Remove(n.elem)
	}
	if n.entry != nil {
		c.totalSize -= n.entry.Size + entryOverhead
		n.entry.Release() // drop the cache's own residency reference
	}
}

// evictLocked evicts least-recently-used resident entries until totalSize
// fits within maxSize, or until nothing evictable remains. n itself (just
// inserted) is never evicted by its own insertion.
func (c *Cache) evictLocked(n *node) {
	for c.totalSize > c.maxSize {
		elem := c.lru.Back()
		if elem == nil {
			return
		}
		victim := elem.Value.(*node)
		if victim == n {
			// Only the just-inserted entry remains; it alone exceeds the
			// budget. Keep it resident — an entry larger than MaxSize is
			// still usable by the caller that just built it, even if it
			// makes the cache temporarily over budget until released.
			return
		}
		c.removeLocked(victim)
		metrics.CacheEvictions.Inc()
	}
}

// Len returns the number of resident (non-building) entries, for tests and
// metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, nd := range c.nodes {
		if !nd.building {
			n++
		}
	}
	return n
}

// TotalBytes returns the current accounted byte total, for tests and
// metrics.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}
