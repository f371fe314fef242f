// Package memrowset implements the in-memory, mutation-aware, ordered
// key/value store known as the MemRowSet (MRS): a single tablet's write
// buffer, supporting MVCC scans concurrently with inserts and updates,
// backed by internal/arena, internal/msbtree, and internal/mutation.
//
// memrowset.go plays the role mem_table.go plays in pebble: a policy layer
// wiring the mechanism packages together behind a small public surface
// (Insert, MutateRow, CheckRowPresent, NewIterator), plus the throttling and
// anchoring concerns a raw ordered map doesn't need.
package memrowset

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kuducore/memrowset/internal/arena"
	"github.com/kuducore/memrowset/internal/base"
	"github.com/kuducore/memrowset/internal/memtracker"
	"github.com/kuducore/memrowset/internal/msbtree"
	"github.com/kuducore/memrowset/internal/mutation"
	"github.com/kuducore/memrowset/mvcc"
	"github.com/kuducore/memrowset/opid"
	"github.com/kuducore/memrowset/rowschema"
)

// fixedOverheadBytes approximates the MemRowSet's own bookkeeping overhead
// (the tree's leaf slices, row headers) beyond what's tracked through the
// arena, mirroring memrowset.cc's fixed addend to memory_footprint().
const fixedOverheadBytes = 1024

// throttleDivisor is the bytes-per-microsecond ramp SlowMutators sleeps
// against, matching memrowset.cc's "(overage_bytes / 512KB) microseconds".
const throttleDivisor = 512 * 1024

// ProbeStats accumulates counters across MutateRow/CheckRowPresent probes,
// supplementing memrowset.cc's mrs_consulted counter.
type ProbeStats struct {
	mrsConsulted atomic.Int64
}

// MRSConsulted returns how many times this MemRowSet has been probed by
// MutateRow or CheckRowPresent.
func (p *ProbeStats) MRSConsulted() int64 { return p.mrsConsulted.Load() }

// MutateResult carries the identity of the MemRowSet a MutateRow call was
// satisfied against, for callers tracking which rowsets a write touched.
type MutateResult struct {
	MRSID MRSID
}

// MemRowSet is a single tablet's in-memory write buffer.
type MemRowSet struct {
	id       MRSID
	schema   *rowschema.Schema
	arena    *arena.Arena
	tracker  *memtracker.Tracker
	tree     *msbtree.Tree[*Row]
	anchorer *opid.Anchorer
	logger   base.Logger
	opts     *Options

	hasLoggedThrottling atomic.Bool
	insertCount         atomic.Int64
	probeStats          ProbeStats
}

// New constructs an empty MemRowSet for schema, anchoring op-ids in
// registry.
func New(schema *rowschema.Schema, registry *opid.AnchorRegistry, opts *Options) *MemRowSet {
	opts = opts.EnsureDefaults()
	id := MRSID(opts.ID)
	tracker := opts.MemTracker.CreateChild(id.String(), memtracker.Unlimited)
	return &MemRowSet{
		id:       id,
		schema:   schema,
		arena:    arena.New(tracker),
		tracker:  tracker,
		tree:     msbtree.New[*Row](),
		anchorer: opid.NewAnchorer(registry, id.String()),
		logger:   opts.Logger,
		opts:     opts,
	}
}

// ID returns the MemRowSet's identifier.
func (m *MemRowSet) ID() MRSID { return m.id }

// Schema returns the schema every row in this MemRowSet must match.
func (m *MemRowSet) Schema() *rowschema.Schema { return m.schema }

// ProbeStats returns the counters accumulated by MutateRow/CheckRowPresent.
func (m *MemRowSet) ProbeStats() *ProbeStats { return &m.probeStats }

// InsertCount returns how many rows this MemRowSet has ever inserted
// (including reinserts).
func (m *MemRowSet) InsertCount() int64 { return m.insertCount.Load() }

// Insert adds row, stamped with timestamp ts and anchored against id, to
// the MemRowSet. It returns ErrAlreadyPresent if a live row already
// occupies row's key; if a ghost occupies it, Insert transparently performs
// a Reinsert instead.
func (m *MemRowSet) Insert(ts mvcc.Timestamp, row *rowschema.Row, id opid.OpID) error {
	if !row.Schema.Equal(m.schema) {
		return errors.Newf("memrowset: row schema does not match MemRowSet schema")
	}
	key, err := rowschema.EncodeComparableKey(m.schema, row)
	if err != nil {
		return err
	}

	pm := msbtree.NewPreparedMutation[*Row](key)
	pm.Prepare(m.tree)
	defer pm.Release()

	if !pm.Exists() {
		body, err := rowschema.EncodeRow(m.schema, row)
		if err != nil {
			return err
		}
		arenaBody, err := m.arena.Allocate(len(body))
		if err != nil {
			return errors.Mark(err, base.ErrOutOfMemory)
		}
		copy(arenaBody, body)

		newRow := &Row{InsertionTimestamp: mutation.Timestamp(ts), Body: arenaBody}
		pm.Insert(newRow)
		m.anchorer.AnchorIfMinimum(id)
		m.insertCount.Add(1)
		m.SlowMutators()
		return nil
	}

	existing := pm.CurrentMutableValue()
	if !m.isGhost(existing) {
		return newAlreadyPresentError(key)
	}
	if err := m.reinsert(existing, ts, row, id); err != nil {
		return err
	}
	m.SlowMutators()
	return nil
}

// reinsert appends a REINSERT mutation carrying row's full contents onto
// existing's redo chain. existing's original Body is left untouched: the
// post-reinsert state is recovered entirely by replay.
func (m *MemRowSet) reinsert(existing *Row, ts mvcc.Timestamp, row *rowschema.Row, id opid.OpID) error {
	deltas := make([]rowschema.ColumnDelta, 0, len(row.Values))
	for colID, v := range row.Values {
		deltas = append(deltas, rowschema.ColumnDelta{ColumnID: colID, Value: v})
	}
	payload, err := rowschema.EncodeChangelist(m.schema, rowschema.Changelist{Op: rowschema.OpReinsert, Deltas: deltas})
	if err != nil {
		return err
	}
	rec, err := mutation.CreateInArena(m.arena, mutation.Timestamp(ts), payload)
	if err != nil {
		return errors.Mark(err, base.ErrOutOfMemory)
	}
	mutation.AppendToListAtomic(&existing.RedoHead, rec)
	m.anchorer.AnchorIfMinimum(id)
	m.insertCount.Add(1)
	return nil
}

// MutateRow appends cl as a mutation on the row at key, stamped ts and
// anchored against id. It returns ErrNotFound if no live row occupies key.
func (m *MemRowSet) MutateRow(ts mvcc.Timestamp, key []byte, cl rowschema.Changelist, id opid.OpID) (MutateResult, error) {
	pm := msbtree.NewPreparedMutation[*Row](key)
	pm.Prepare(m.tree)
	defer pm.Release()
	m.probeStats.mrsConsulted.Add(1)

	if !pm.Exists() {
		return MutateResult{}, newNotFoundError(key, false)
	}
	existing := pm.CurrentMutableValue()
	if m.isGhost(existing) {
		return MutateResult{}, newNotFoundError(key, true)
	}

	payload, err := rowschema.EncodeChangelist(m.schema, cl)
	if err != nil {
		return MutateResult{}, err
	}
	rec, err := mutation.CreateInArena(m.arena, mutation.Timestamp(ts), payload)
	if err != nil {
		return MutateResult{}, errors.Mark(err, base.ErrOutOfMemory)
	}
	mutation.AppendToListAtomic(&existing.RedoHead, rec)
	m.anchorer.AnchorIfMinimum(id)
	m.SlowMutators()
	return MutateResult{MRSID: m.id}, nil
}

// CheckRowPresent reports whether a live (non-ghost) row occupies key.
//
// This goes through PreparedMutation.CurrentMutableValue just like a
// mutator would, even though it mutates nothing — a known performance wart:
// the leaf's version is bumped, causing benign retries in concurrent
// readers that had snapshotted the older version.
func (m *MemRowSet) CheckRowPresent(key []byte) bool {
	pm := msbtree.NewPreparedMutation[*Row](key)
	pm.Prepare(m.tree)
	defer pm.Release()
	m.probeStats.mrsConsulted.Add(1)

	if !pm.Exists() {
		return false
	}
	existing := pm.CurrentMutableValue()
	return !m.isGhost(existing)
}

// AlterSchema unconditionally fails: schema changes on a live MemRowSet are
// handled by flushing and recreating it from the outside.
func (m *MemRowSet) AlterSchema(*rowschema.Schema) error {
	return newNotSupportedError("AlterSchema")
}

// GetBounds unconditionally fails: key bounds are only known for
// disk-resident rowsets.
func (m *MemRowSet) GetBounds() ([]byte, []byte, error) {
	return nil, nil, newNotSupportedError("GetBounds")
}

// MemoryFootprint returns the MemRowSet's total memory consumption: arena
// usage plus a small fixed overhead, the value SlowMutators throttles
// against.
func (m *MemRowSet) MemoryFootprint() int64 {
	return m.arena.Size() + fixedOverheadBytes
}

// SlowMutators sleeps the calling goroutine, proportional to how far over
// its configured threshold this MemRowSet's memory footprint has grown,
// when throttling is enabled (Options.ThrottleMB > 0). The first breach
// logs a warning exactly once, tracked with an atomic exchange flag
// matching memrowset.cc's NoBarrier_AtomicExchange use.
func (m *MemRowSet) SlowMutators() {
	if m.opts.ThrottleMB <= 0 {
		return
	}
	thresholdBytes := m.opts.ThrottleMB * 1024 * 1024
	footprint := m.MemoryFootprint()
	if footprint <= thresholdBytes {
		return
	}
	if !m.hasLoggedThrottling.Swap(true) {
		m.logger.Warningf("memrowset %s: throttling mutators, memory footprint %d exceeds %d bytes", m.id, footprint, thresholdBytes)
	}
	overage := footprint - thresholdBytes
	time.Sleep(time.Duration(overage/throttleDivisor) * time.Microsecond)
}

// Close releases this MemRowSet's op-id anchor, returns its arena's
// consumption to its memory tracker, and detaches that tracker from its
// parent. Called once the MemRowSet has been flushed.
func (m *MemRowSet) Close() {
	m.anchorer.Release()
	m.tracker.Release(m.arena.Size())
	m.tracker.Close()
}

// NewIterator returns an Iterator over this MemRowSet's rows, visible
// according to snap. Call Init before NextBlock.
func (m *MemRowSet) NewIterator(snap mvcc.Snapshot) *Iterator {
	return &Iterator{mrs: m, snapshot: snap, state: StateUninitialized}
}

// DebugString stringifies every row and its mutation count, supplementing
// memrowset.cc's DebugDump.
func (m *MemRowSet) DebugString() string {
	var b strings.Builder
	it := m.tree.NewIterator()
	it.SeekAtOrAfter(nil)
	for it.IsValid() {
		key, row := it.GetCurrentEntry()
		fmt.Fprintf(&b, "key=%x insertion_ts=%d mutations=%d\n", key, row.InsertionTimestamp, len(mutation.Collect(&row.RedoHead)))
		it.Next()
	}
	return b.String()
}
