// Package msbtree implements an ordered, concurrent key/value container
// ("MSBTree"): a key-ordered map supporting a two-phase mutation API
// (PreparedMutation) and a snapshot-consistent Iterator, where writers
// serialize per-leaf and readers never block on writers.
//
// Grounded on arenaskl's concurrency texture (optimistic retry around a
// short critical section, atomic-pointer publication) generalized to a
// leaf/version contract with no direct analogue in pebble (its memtable is
// a plain append-only skip list with no ghost-row or two-phase-mutation
// concept), so the leaf and routing structures here are assembled from
// existing concurrency idioms rather than transliterated from one source
// file. See DESIGN.md.
package msbtree

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"
)

// maxLeafEntries bounds how many entries a leaf holds before it is split.
// Kept deliberately small so tests can exercise splitting without inserting
// huge numbers of rows; production tuning would raise this.
const maxLeafEntries = 256

// Entry is one key/value pair as observed by an Iterator or a
// PreparedMutation.
type Entry[V any] struct {
	Key   []byte
	Value V
}

// Compare orders keys byte-lexicographically, the ordering encoded keys
// must respect.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

type leaf[V any] struct {
	mu      sync.Mutex
	version atomic.Uint64
	entries atomic.Pointer[[]Entry[V]]
}

func newLeaf[V any](entries []Entry[V]) *leaf[V] {
	l := &leaf[V]{}
	l.store(entries)
	return l
}

func (l *leaf[V]) load() []Entry[V] {
	p := l.entries.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (l *leaf[V]) store(entries []Entry[V]) {
	l.entries.Store(&entries)
}

// minKey returns this leaf's smallest key. Only valid for leaves other than
// the tree's first, which is the only leaf ever allowed to be empty.
func (l *leaf[V]) minKey() []byte {
	return l.load()[0].Key
}

func search[V any](entries []Entry[V], key []byte) (idx int, found bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return Compare(entries[i].Key, key) >= 0
	})
	if i < len(entries) && Compare(entries[i].Key, key) == 0 {
		return i, true
	}
	return i, false
}

// Tree is a concurrent ordered map from encoded keys to values of type V.
// The zero value is not usable; construct with New.
type Tree[V any] struct {
	structMu sync.RWMutex
	leaves   []*leaf[V] // sorted: leaves[i].minKey() <= leaves[i+1].minKey()
}

// New constructs an empty Tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{leaves: []*leaf[V]{newLeaf[V](nil)}}
}

// findLeafIndex returns the index of the leaf that would contain key: the
// rightmost leaf whose minKey is <= key (leaf 0 is always a candidate,
// standing in for an implicit -infinity lower bound).
func (t *Tree[V]) findLeafIndex(key []byte) int {
	t.structMu.RLock()
	defer t.structMu.RUnlock()
	leaves := t.leaves
	lo, hi := 0, len(leaves)
	for lo < hi {
		mid := (lo + hi) / 2
		if mid == 0 || Compare(leaves[mid].minKey(), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

func (t *Tree[V]) leafAt(idx int) *leaf[V] {
	t.structMu.RLock()
	defer t.structMu.RUnlock()
	return t.leaves[idx]
}

func (t *Tree[V]) leafCount() int {
	t.structMu.RLock()
	defer t.structMu.RUnlock()
	return len(t.leaves)
}

// splitIfNeeded splits l, a leaf the caller already holds l.mu for, in half
// if it has grown past maxLeafEntries. l.mu is still held on return.
func (t *Tree[V]) splitIfNeeded(l *leaf[V]) {
	entries := l.load()
	if len(entries) <= maxLeafEntries {
		return
	}
	mid := len(entries) / 2
	left := append([]Entry[V](nil), entries[:mid]...)
	right := append([]Entry[V](nil), entries[mid:]...)
	l.store(left)
	newLeaf := newLeaf(right)

	t.structMu.Lock()
	defer t.structMu.Unlock()
	for i, cur := range t.leaves {
		if cur == l {
			next := make([]*leaf[V], 0, len(t.leaves)+1)
			next = append(next, t.leaves[:i+1]...)
			next = append(next, newLeaf)
			next = append(next, t.leaves[i+1:]...)
			t.leaves = next
			return
		}
	}
	panic("msbtree: leaf being split is no longer in the tree")
}

// PreparedMutation is a cursor locating (or about to create) the entry for
// a single key. It locks the owning leaf for the duration between Prepare
// and Release, giving callers a short, exclusive critical section in which
// to inspect and optionally install a value. Call Release exactly once
// after Prepare succeeds (there is no implicit unlock — Go has no
// destructors to rely on the way the original's stack-allocated
// PreparedMutation did).
type PreparedMutation[V any] struct {
	key   []byte
	tree  *Tree[V]
	leaf  *leaf[V]
	idx   int
	found bool
}

// NewPreparedMutation returns a cursor for key, ready for Prepare.
func NewPreparedMutation[V any](key []byte) *PreparedMutation[V] {
	return &PreparedMutation[V]{key: key}
}

// Prepare locates the leaf that contains (or would contain) the cursor's
// key and locks it. Blocking discipline: this is a short critical section —
// at most a leaf lookup and a binary search over its current entries.
func (pm *PreparedMutation[V]) Prepare(t *Tree[V]) {
	pm.tree = t
	for {
		idx := t.findLeafIndex(pm.key)
		l := t.leafAt(idx)
		l.mu.Lock()
		// A concurrent split may have moved our key into a different leaf
		// between findLeafIndex and taking the lock; re-resolve and retry
		// if so.
		if t.leafAt(t.findLeafIndex(pm.key)) == l {
			pm.leaf = l
			break
		}
		l.mu.Unlock()
	}
	entries := pm.leaf.load()
	pm.idx, pm.found = search(entries, pm.key)
}

// Exists reports whether key was already present when Prepare ran.
func (pm *PreparedMutation[V]) Exists() bool { return pm.found }

// CurrentMutableValue returns the value already stored at key. It bumps the
// leaf's version even though it does not itself mutate anything: a known
// wart, since read-only probes that go through this path cause benign
// retries in concurrent readers that snapshotted the older version. Valid
// only if Exists().
func (pm *PreparedMutation[V]) CurrentMutableValue() V {
	pm.leaf.version.Add(1)
	return pm.leaf.load()[pm.idx].Value
}

// Insert installs value at the cursor's key. It requires !Exists(); callers
// that find Exists() true and still need to record something append a
// mutation to the existing value instead (see MemRowSet.reinsert in package
// memrowset).
func (pm *PreparedMutation[V]) Insert(value V) bool {
	if pm.found {
		return false
	}
	entries := pm.leaf.load()
	next := make([]Entry[V], 0, len(entries)+1)
	next = append(next, entries[:pm.idx]...)
	next = append(next, Entry[V]{Key: pm.key, Value: value})
	next = append(next, entries[pm.idx:]...)
	pm.leaf.store(next)
	pm.leaf.version.Add(1)
	pm.found = true
	pm.tree.splitIfNeeded(pm.leaf)
	return true
}

// Release unlocks the leaf this cursor prepared. Safe to call multiple
// times.
func (pm *PreparedMutation[V]) Release() {
	if pm.leaf != nil {
		pm.leaf.mu.Unlock()
		pm.leaf = nil
	}
}

// Iterator is a snapshot-consistent scan over a Tree. Each leaf it visits is
// read via an optimistic, lock-free load of that leaf's current entries
// slice (a fresh slice is published, copy-on-write, by every mutation), so
// the iterator never blocks a concurrent writer and vice versa.
type Iterator[V any] struct {
	tree    *Tree[V]
	leafIdx int
	pos     int
	entries []Entry[V]
	valid   bool
}

// NewIterator returns an unpositioned Iterator over t.
func (t *Tree[V]) NewIterator() *Iterator[V] {
	return &Iterator[V]{tree: t}
}

// SeekAtOrAfter positions the iterator at the least key >= key, and reports
// whether that key equals key exactly. An empty key seeks to the beginning
// of the tree and reports true whenever the tree has an entry to land on.
func (it *Iterator[V]) SeekAtOrAfter(key []byte) (exact bool) {
	t := it.tree
	idx := t.findLeafIndex(key)
	for idx < t.leafCount() {
		l := t.leafAt(idx)
		entries := l.load()
		i, found := search(entries, key)
		if i < len(entries) {
			it.leafIdx, it.pos, it.entries, it.valid = idx, i, entries, true
			return found || len(key) == 0
		}
		idx++
	}
	it.valid = false
	return false
}

// IsValid reports whether the iterator is positioned at an entry.
func (it *Iterator[V]) IsValid() bool { return it.valid }

// GetCurrentEntry returns the key and value the iterator is positioned at.
// Valid only if IsValid().
func (it *Iterator[V]) GetCurrentEntry() ([]byte, V) {
	e := it.entries[it.pos]
	return e.Key, e.Value
}

// Next advances the iterator, returning false (and leaving IsValid false)
// once the end of the tree is reached.
func (it *Iterator[V]) Next() bool {
	if !it.valid {
		return false
	}
	it.pos++
	if it.pos < len(it.entries) {
		return true
	}
	t := it.tree
	for idx := it.leafIdx + 1; idx < t.leafCount(); idx++ {
		l := t.leafAt(idx)
		entries := l.load()
		if len(entries) > 0 {
			it.leafIdx, it.pos, it.entries = idx, 0, entries
			return true
		}
	}
	it.valid = false
	return false
}
