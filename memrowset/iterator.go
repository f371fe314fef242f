package memrowset

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/kuducore/memrowset/internal/base"
	"github.com/kuducore/memrowset/internal/msbtree"
	"github.com/kuducore/memrowset/mvcc"
	"github.com/kuducore/memrowset/rowschema"
)

// IteratorState tracks an Iterator's position in the Uninitialized ->
// Scanning -> Finished lifecycle. Transitions are unidirectional.
type IteratorState int

const (
	StateUninitialized IteratorState = iota
	StateScanning
	StateFinished
)

// KeyRange is a pushed-down [Lower, Upper) restriction on scanned keys. A
// nil Lower or Upper means unbounded on that side.
type KeyRange struct {
	Lower []byte
	Upper []byte
}

// ScanSpec configures an Iterator: which columns to project into the
// output, and which key ranges to restrict the scan to.
type ScanSpec struct {
	// Projection lists the column IDs to include in each OutputRow's
	// Values. Nil means every column.
	Projection []int
	// KeyRanges are intersected (not unioned) into one effective
	// [lower, upper) bound.
	KeyRanges []KeyRange
}

// OutputRow is one row produced by NextBlock. Selected is false for rows
// the scan visited but rejected (uncommitted insert, or ghost) — the slot
// is still present so callers that need block alignment can rely on it.
type OutputRow struct {
	Key      []byte
	Values   map[int]interface{}
	Selected bool
}

// Iterator is a snapshot-consistent scan over a MemRowSet's rows, gated by
// an mvcc.Snapshot supplied at construction (MemRowSet.NewIterator).
type Iterator struct {
	mrs      *MemRowSet
	snapshot mvcc.Snapshot

	projection []int
	lower      []byte
	upper      []byte

	state IteratorState
	tree  *msbtree.Iterator[*Row]
}

// State returns the iterator's current lifecycle state.
func (it *Iterator) State() IteratorState { return it.state }

// Init intersects spec's key ranges into one effective bound, seeks to its
// lower end, and transitions to Scanning (or straight to Finished if the
// seek lands past the end or past the effective upper bound).
func (it *Iterator) Init(spec ScanSpec) {
	it.projection = spec.Projection
	it.lower, it.upper = intersectRanges(spec.KeyRanges)

	it.tree = it.mrs.tree.NewIterator()
	it.tree.SeekAtOrAfter(it.lower)
	if !it.tree.IsValid() {
		it.state = StateFinished
		return
	}
	if it.upper != nil {
		if k, _ := it.tree.GetCurrentEntry(); bytes.Compare(k, it.upper) >= 0 {
			it.state = StateFinished
			return
		}
	}
	it.state = StateScanning
}

// intersectRanges returns the tightest [lower, upper) implied by ranges:
// the maximum of all lower bounds, and the minimum of all (bounded) upper
// bounds.
func intersectRanges(ranges []KeyRange) (lower, upper []byte) {
	for _, r := range ranges {
		if bytes.Compare(r.Lower, lower) > 0 {
			lower = r.Lower
		}
		if r.Upper != nil && (upper == nil || bytes.Compare(r.Upper, upper) < 0) {
			upper = r.Upper
		}
	}
	return lower, upper
}

// SeekAtOrAfter repositions the iterator at the least key >= key, reporting
// whether that key matches exactly. A non-empty key with no entry at or
// after it is reported as ErrNotFound and the iterator transitions to
// Finished.
func (it *Iterator) SeekAtOrAfter(key []byte) (exact bool, err error) {
	exact = it.tree.SeekAtOrAfter(key)
	if !it.tree.IsValid() {
		it.state = StateFinished
		if len(key) > 0 {
			return false, newNotFoundError(key, false)
		}
		return false, nil
	}
	it.state = StateScanning
	return exact, nil
}

// NextBlock fetches up to capacity rows into a fresh block, advancing the
// iterator. The returned slice may be shorter than capacity if the scan
// finished partway through.
func (it *Iterator) NextBlock(capacity int) ([]OutputRow, error) {
	block := make([]OutputRow, 0, capacity)
	if it.state != StateScanning {
		return block, nil
	}
	return it.fetchRows(block, capacity)
}

// fetchRows fetches rows block by block: per entry, check the insertion
// timestamp against the snapshot (marking the row unselected but still
// present if uncommitted), stop at the effective upper bound, and otherwise
// project the base row and replay committed mutations over it in timestamp
// order.
func (it *Iterator) fetchRows(block []OutputRow, capacity int) ([]OutputRow, error) {
	for len(block) < capacity {
		if !it.tree.IsValid() {
			it.state = StateFinished
			break
		}
		key, row := it.tree.GetCurrentEntry()

		if it.upper != nil && bytes.Compare(key, it.upper) >= 0 {
			it.state = StateFinished
			break
		}

		out := OutputRow{Key: append([]byte(nil), key...)}
		if !it.snapshot.IsCommitted(mvcc.Timestamp(row.InsertionTimestamp)) {
			block = append(block, out)
			it.tree.Next()
			continue
		}

		current, err := rowschema.DecodeRow(it.mrs.schema, row.Body)
		if err != nil {
			return nil, errors.Mark(err, base.ErrCorruption)
		}
		ghost := false
		for _, rec := range orderedMutations(&row.RedoHead) {
			if !it.snapshot.IsCommitted(mvcc.Timestamp(rec.Timestamp)) {
				continue
			}
			cl, err := rowschema.DecodeChangelist(it.mrs.schema, rec.Changelist)
			if err != nil {
				return nil, errors.Mark(err, base.ErrCorruption)
			}
			switch cl.Op {
			case rowschema.OpDelete:
				ghost = true
			case rowschema.OpReinsert:
				ghost = false
				current = &rowschema.Row{Schema: it.mrs.schema, Values: make(map[int]interface{})}
				cl.Apply(current)
			case rowschema.OpUpdate:
				cl.Apply(current)
			}
		}

		if !ghost {
			out.Selected = true
			out.Values = projectValues(current.Values, it.projection)
		}
		block = append(block, out)
		it.tree.Next()
	}
	return block, nil
}

func projectValues(values map[int]interface{}, projection []int) map[int]interface{} {
	if projection == nil {
		out := make(map[int]interface{}, len(values))
		for k, v := range values {
			out[k] = v
		}
		return out
	}
	out := make(map[int]interface{}, len(projection))
	for _, id := range projection {
		if v, ok := values[id]; ok {
			out[id] = v
		}
	}
	return out
}
