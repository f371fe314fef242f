// Package mutation implements a row's redo chain: a singly linked list of
// immutable-once-linked mutation records, appended with release semantics
// so a concurrent reader walking the list either doesn't see a new record
// at all, or sees it fully formed.
//
// Grounded directly on kudu/tablet/memrowset.cc's Mutation::CreateInArena /
// Mutation::AppendToListAtomic. The changelist payload bytes are copied into
// the row's arena (the variable-length data an arena exists to amortize);
// the Record header itself is an ordinary Go-GC'd allocation holding an
// atomic.Pointer for the link, since Go offers no safe way to place a
// self-referential, atomically-swapped pointer inside arena-owned memory
// without unsafe.Pointer arithmetic that would fight the garbage collector.
package mutation

import (
	"sync/atomic"

	"github.com/kuducore/memrowset/internal/arena"
)

// atomicRecordPtr is the atomic pointer type used for a redo chain's head
// and each Record's next link.
type atomicRecordPtr = atomic.Pointer[Record]

// Head is a row's redo_head: the atomically-swapped entry point into its
// mutation list.
type Head = atomicRecordPtr

// Timestamp is a caller-supplied monotonic logical clock value, shared
// between a row's insertion_timestamp and its mutations' timestamps.
type Timestamp uint64

// Record is one entry in a row's redo chain: an encoded changelist plus a
// timestamp, immutable once linked into the list.
type Record struct {
	Timestamp  Timestamp
	Changelist []byte

	next atomicRecordPtr
}

// CreateInArena allocates a Record whose Changelist bytes live in a, copying
// changelist so the caller's buffer can be reused or discarded.
func CreateInArena(a *arena.Arena, ts Timestamp, changelist []byte) (*Record, error) {
	buf, err := a.Allocate(len(changelist))
	if err != nil {
		return nil, err
	}
	copy(buf, changelist)
	return &Record{Timestamp: ts, Changelist: buf}, nil
}

// Next returns the next record in the chain, using an acquire load: if this
// returns non-nil, every write the appending goroutine made before its
// AppendToListAtomic call is visible here.
func (r *Record) Next() *Record {
	if r == nil {
		return nil
	}
	return r.next.Load()
}

// AppendToListAtomic publishes rec as the new head of the list rooted at
// *head, using a release store. A concurrent reader that loads *head either
// does not observe rec, or observes it (and everything it points to) fully
// initialized.
func AppendToListAtomic(head *Head, rec *Record) {
	for {
		old := head.Load()
		rec.next.Store(old)
		if head.CompareAndSwap(old, rec) {
			return
		}
	}
}

// Collect walks the chain rooted at head and returns every reachable
// Record, in physical link order (most-recently-appended first). Callers
// that need timestamp order must sort the result themselves, tie-breaking
// on this physical order.
func Collect(head *Head) []*Record {
	var out []*Record
	for r := head.Load(); r != nil; r = r.Next() {
		out = append(out, r)
	}
	return out
}
