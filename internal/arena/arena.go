// Package arena implements the monotonic, thread-safe bump allocator backing
// a MemRowSet: fixed-size buffers starting at 1.5 MiB and doubling up to an
// 8 MiB cap, with every allocated byte reported to a memtracker.Tracker.
// Nothing allocated from an Arena is ever freed individually; the whole
// arena is released (and its tracker consumption returned) when the owning
// MemRowSet is destroyed after flush.
//
// The bump-pointer mechanics are adapted from arenaskl's single fixed-size
// Arena (atomic offset bump within a buffer); this package generalizes that
// to a growing list of buffers, using the exact sizing constants the
// original memrowset.cc used (kInitialArenaSize, kMaxArenaBufferSize).
package arena

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/kuducore/memrowset/internal/base"
	"github.com/kuducore/memrowset/internal/memtracker"
)

const (
	// InitialBufferSize is the size of the first buffer allocated by an
	// Arena, matching memrowset.cc's kInitialArenaSize.
	InitialBufferSize = 1536 * 1024
	// MaxBufferSize is the cap buffer sizes double up to, matching
	// memrowset.cc's kMaxArenaBufferSize.
	MaxBufferSize = 8 * 1024 * 1024
)

type buffer struct {
	data []byte
	off  atomic.Uint32 // next free byte within data
}

func newBuffer(size int) *buffer {
	return &buffer{data: make([]byte, size)}
}

// Arena is a monotonic bump allocator. The zero value is not usable;
// construct with New.
type Arena struct {
	tracker *memtracker.Tracker

	mu      sync.Mutex
	cur     atomic.Pointer[buffer]
	nextCap int
	total   int64 // bytes allocated across all buffers, for memory_footprint
}

// New creates an Arena reporting its consumption to tracker.
func New(tracker *memtracker.Tracker) *Arena {
	a := &Arena{tracker: tracker, nextCap: InitialBufferSize}
	first := newBuffer(a.nextCap)
	a.cur.Store(first)
	return a
}

// Allocate returns n contiguous bytes. It never returns a partial
// allocation: either the full n bytes are returned, or an error is returned
// and dst is nil. Safe for concurrent use.
func (a *Arena) Allocate(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Newf("arena: negative allocation size %d", n)
	}
	if _, err := a.track(n); err != nil {
		return nil, err
	}
	for {
		buf := a.cur.Load()
		old := buf.off.Load()
		end := int(old) + n
		if end <= len(buf.data) {
			// Claim [old, end) only if no other goroutine bumped first.
			if buf.off.CompareAndSwap(old, uint32(end)) {
				return buf.data[old:end:end], nil
			}
			continue
		}
		// Buffer doesn't have room; roll over to a new buffer under the
		// mutex. Another goroutine may already have done this, so re-check
		// a.cur after acquiring the lock.
		if err := a.growFor(n, buf); err != nil {
			return nil, err
		}
	}
}

// track reports n bytes of consumption to the memory tracker, if any.
func (a *Arena) track(n int) (bool, error) {
	atomic.AddInt64(&a.total, int64(n))
	if a.tracker == nil {
		return true, nil
	}
	if !a.tracker.Consume(int64(n)) {
		atomic.AddInt64(&a.total, -int64(n))
		return false, errors.Mark(errors.Newf("arena: allocation of %d bytes exceeds memory limit", n), base.ErrOutOfMemory)
	}
	return true, nil
}

func (a *Arena) growFor(n int, stale *buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur.Load() != stale {
		// Someone else already rolled the buffer over.
		return nil
	}
	size := a.nextCap
	if size > MaxBufferSize {
		size = MaxBufferSize
	}
	if n > size {
		// Oversized allocation gets its own buffer, sized exactly.
		size = n
	} else {
		a.nextCap = min(a.nextCap*2, MaxBufferSize)
	}
	a.cur.Store(newBuffer(size))
	return nil
}

// Size returns the total number of bytes allocated from this arena so far.
func (a *Arena) Size() int64 { return atomic.LoadInt64(&a.total) }
