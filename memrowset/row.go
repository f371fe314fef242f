package memrowset

import (
	"sort"

	"github.com/kuducore/memrowset/internal/mutation"
	"github.com/kuducore/memrowset/rowschema"
)

// Row is the value the MSBTree stores for one primary key: the
// arena-resident body captured at the original Insert, plus the
// atomically-appended chain of subsequent mutations. Body is never mutated
// after insert — including across a DELETE/REINSERT cycle, where the "new"
// row contents after a REINSERT live only in that REINSERT's changelist
// payload and are recovered by replay, not by overwriting Body.
type Row struct {
	InsertionTimestamp mutation.Timestamp
	Body               []byte
	RedoHead           mutation.Head
}

// orderedMutations returns every mutation reachable from head in logical
// replay order: by Timestamp ascending, ties broken by the order they were
// physically appended. mutation.Collect returns most-recently-appended
// first, so it's reversed before the stable sort.
func orderedMutations(head *mutation.Head) []*mutation.Record {
	recs := mutation.Collect(head)
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp < recs[j].Timestamp })
	return recs
}

// isGhost replays row's entire redo chain (not gated by any MVCC snapshot —
// this is the write path's view of "does this slot currently represent a
// live row") and returns whether the resulting state is ghost. A chain
// that violates the DELETE/REINSERT/UPDATE state machine is corruption and
// is treated as fatal.
func (m *MemRowSet) isGhost(row *Row) bool {
	ghost := false
	for _, rec := range orderedMutations(&row.RedoHead) {
		cl, err := rowschema.DecodeChangelist(m.schema, rec.Changelist)
		if err != nil {
			m.logger.Fatalf("memrowset %s: corrupt changelist: %v", m.id, err)
		}
		switch cl.Op {
		case rowschema.OpDelete:
			if ghost {
				m.logger.Fatalf("memrowset %s: DELETE observed on an already-ghost row", m.id)
			}
			ghost = true
		case rowschema.OpReinsert:
			if !ghost {
				m.logger.Fatalf("memrowset %s: REINSERT observed on a live row", m.id)
			}
			ghost = false
		case rowschema.OpUpdate:
			if ghost {
				m.logger.Fatalf("memrowset %s: UPDATE observed on a ghost row", m.id)
			}
		}
	}
	return ghost
}
