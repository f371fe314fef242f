// Package lrucache implements a sharded, reference-counted LRU cache,
// transliterated directly from kudu/util/cache.cc: 16 independently locked
// shards, each a chained hash table plus two circular doubly linked lists
// (the "in LRU, evictable" list and the "currently held by a caller" list).
// A cache entry is never freed while any Handle referencing it is
// outstanding, even if it has since been evicted or explicitly erased.
//
// The hash table and intrusive list mechanics mirror cache.cc's
// HandleTable/LRUHandle almost line for line. The one substitution is the
// hash function: CityHash64 has no Go port in this stack, so
// github.com/cespare/xxhash/v2 (already pulled in by the rest of this
// module's corpus for checksums) stands in as an equivalent-purpose
// non-cryptographic 64-bit hash.
package lrucache

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Deleter is invoked, at most once, when a cache entry's last reference
// (cache-held or caller-held) goes away.
type Deleter func(key []byte, value interface{})

// Handle is a reference to one cache entry. It remains valid — Value and
// Key keep returning the same data — until the caller passes it to
// Cache.Release, no matter what else happens to the entry in the meantime
// (eviction, Erase, a newer Insert of the same key).
type Handle struct {
	key     []byte
	hash    uint64
	value   interface{}
	deleter Deleter
	charge  int64

	inCache bool
	refs    int32 // guarded by the owning shard's mutex

	next, prev *Handle // LRU-list or in-use-list links
	nextHash   *Handle // hash-bucket chaining
}

// Value returns the handle's cached value.
func (h *Handle) Value() interface{} { return h.value }

// Key returns the handle's key.
func (h *Handle) Key() []byte { return h.key }

// handleTable is a chained hash table keyed by (hash, key), doubling its
// bucket array as it fills. Grounded on cache.cc's HandleTable. Its zero
// value is not ready for use: newShard calls resize() once up front, the
// way cache.cc's HandleTable constructor calls Resize(), so list always has
// at least 4 buckets before the first insert/lookup.
type handleTable struct {
	length uint32
	elems  uint32
	list   []*Handle
}

func (t *handleTable) lookup(key []byte, hash uint64) *Handle {
	return *t.findPointer(key, hash)
}

func (t *handleTable) findPointer(key []byte, hash uint64) **Handle {
	ptr := &t.list[hash&uint64(t.length-1)]
	for *ptr != nil && ((*ptr).hash != hash || !bytes.Equal((*ptr).key, key)) {
		ptr = &(*ptr).nextHash
	}
	return ptr
}

func (t *handleTable) insert(h *Handle) *Handle {
	ptr := t.findPointer(h.key, h.hash)
	old := *ptr
	if old != nil {
		h.nextHash = old.nextHash
	} else {
		h.nextHash = nil
	}
	*ptr = h
	if old == nil {
		t.elems++
		if t.elems > t.length {
			t.resize()
		}
	}
	return old
}

func (t *handleTable) remove(key []byte, hash uint64) *Handle {
	ptr := t.findPointer(key, hash)
	result := *ptr
	if result != nil {
		*ptr = result.nextHash
		t.elems--
	}
	return result
}

func (t *handleTable) resize() {
	newLength := uint32(4)
	for newLength < t.elems {
		newLength *= 2
	}
	newList := make([]*Handle, newLength)
	for _, h := range t.list {
		for h != nil {
			next := h.nextHash
			ptr := &newList[h.hash&uint64(newLength-1)]
			h.nextHash = *ptr
			*ptr = h
			h = next
		}
	}
	t.length = newLength
	t.list = newList
}

// lruShard is one independently locked segment of a Cache, corresponding to
// cache.cc's LRUCache.
type lruShard struct {
	mu       sync.Mutex
	capacity int64
	usage    int64
	table    handleTable

	lru   Handle // sentinel: lru.next is the oldest evictable entry
	inUse Handle // sentinel: entries currently referenced by a caller
}

func newShard(capacity int64) *lruShard {
	s := &lruShard{capacity: capacity}
	s.table.resize()
	s.lru.next, s.lru.prev = &s.lru, &s.lru
	s.inUse.next, s.inUse.prev = &s.inUse, &s.inUse
	return s
}

func lruRemove(e *Handle) {
	e.next.prev = e.prev
	e.prev.next = e.next
}

func lruAppend(list *Handle, e *Handle) {
	e.next = list
	e.prev = list.prev
	e.prev.next = e
	e.next.prev = e
}

// ref accounts for a new outstanding reference to e. An entry that was only
// held by the cache itself (refs==1, inCache) moves from the LRU list to
// the in-use list.
func (s *lruShard) ref(e *Handle) {
	if e.refs == 1 && e.inCache {
		lruRemove(e)
		lruAppend(&s.inUse, e)
	}
	e.refs++
}

// unref drops one reference. An entry with no references left is deleted;
// one that falls back to being held only by the cache returns to the LRU
// list.
func (s *lruShard) unref(e *Handle) {
	e.refs--
	switch {
	case e.refs <= 0:
		if e.deleter != nil {
			e.deleter(e.key, e.value)
		}
	case e.inCache && e.refs == 1:
		lruRemove(e)
		lruAppend(&s.lru, e)
	}
}

func (s *lruShard) finishErase(e *Handle) {
	if e == nil {
		return
	}
	lruRemove(e)
	e.inCache = false
	s.usage -= e.charge
	s.unref(e)
}

func (s *lruShard) insert(key []byte, hash uint64, value interface{}, charge int64, del Deleter) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Handle{key: key, hash: hash, value: value, charge: charge, deleter: del, inCache: true, refs: 2}
	lruAppend(&s.inUse, e)
	s.usage += charge
	s.finishErase(s.table.insert(e))

	for s.usage > s.capacity && s.lru.next != &s.lru {
		oldest := s.lru.next
		s.finishErase(s.table.remove(oldest.key, oldest.hash))
	}
	return e
}

func (s *lruShard) lookup(key []byte, hash uint64) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.table.lookup(key, hash)
	if e != nil {
		s.ref(e)
	}
	return e
}

func (s *lruShard) release(e *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unref(e)
}

func (s *lruShard) erase(key []byte, hash uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishErase(s.table.remove(key, hash))
}

func (s *lruShard) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.lru.next != &s.lru {
		e := s.lru.next
		s.finishErase(s.table.remove(e.key, e.hash))
	}
}

func (s *lruShard) totalCharge() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

const (
	numShardBits = 4
	numShards    = 1 << numShardBits
)

// Cache is a sharded LRU cache, grounded on cache.cc's ShardedLRUCache. Its
// capacity is divided evenly across numShards independently locked shards,
// so unrelated keys essentially never contend on the same mutex.
type Cache struct {
	shards [numShards]*lruShard
	lastID atomic.Uint64
}

// New constructs a Cache with the given total capacity, expressed in the
// same units as the charge passed to Insert (for a MemRowSet, bytes).
func New(capacity int64) *Cache {
	c := &Cache{}
	perShard := (capacity + numShards - 1) / numShards
	for i := range c.shards {
		c.shards[i] = newShard(perShard)
	}
	return c
}

func hashKey(key []byte) uint64 { return xxhash.Sum64(key) }

func (c *Cache) shardFor(hash uint64) *lruShard {
	return c.shards[hash>>(64-numShardBits)]
}

// Insert adds key/value to the cache with the given charge against its
// capacity, returning a Handle the caller owns (refs start at 2: one for
// the cache, one for the caller) and must eventually Release. If an entry
// for key already existed, it is erased and, once its own references drain
// to zero, deleted via its own Deleter.
func (c *Cache) Insert(key []byte, value interface{}, charge int64, del Deleter) *Handle {
	hash := hashKey(key)
	return c.shardFor(hash).insert(append([]byte(nil), key...), hash, value, charge, del)
}

// Lookup returns a Handle for key, or nil if absent. A returned Handle must
// be Released exactly once.
func (c *Cache) Lookup(key []byte) *Handle {
	hash := hashKey(key)
	return c.shardFor(hash).lookup(key, hash)
}

// Release drops the caller's reference to h, obtained from Insert or
// Lookup.
func (c *Cache) Release(h *Handle) {
	c.shardFor(h.hash).release(h)
}

// Erase removes key from the cache if present. Any Handle already held by a
// caller remains valid until Released; the entry's Deleter runs once the
// last such Handle is released.
func (c *Cache) Erase(key []byte) {
	hash := hashKey(key)
	c.shardFor(hash).erase(key, hash)
}

// Prune evicts every entry not currently referenced by an outstanding
// Handle.
func (c *Cache) Prune() {
	for _, s := range c.shards {
		s.prune()
	}
}

// TotalCharge returns the sum of charges currently accounted for across all
// shards.
func (c *Cache) TotalCharge() int64 {
	var total int64
	for _, s := range c.shards {
		total += s.totalCharge()
	}
	return total
}

// NewID returns a cache-scoped, monotonically increasing identifier, for
// callers (such as file-block cache keys) that need to namespace their own
// keys uniquely, matching cache.cc's Cache::NewId().
func (c *Cache) NewID() uint64 { return c.lastID.Add(1) }
