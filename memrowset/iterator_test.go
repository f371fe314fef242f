package memrowset

import (
	"testing"

	"github.com/kuducore/memrowset/mvcc"
	"github.com/kuducore/memrowset/opid"
	"github.com/kuducore/memrowset/rowschema"
	"github.com/stretchr/testify/require"
)

func TestIteratorProjectionRestrictsColumns(t *testing.T) {
	mrs := newTestMRS(t)
	require.NoError(t, mrs.Insert(10, row(1, "a"), opid.OpID{Term: 1, Index: 1}))

	it := mrs.NewIterator(mvcc.WatermarkSnapshot{Watermark: 100})
	it.Init(ScanSpec{Projection: []int{colPK}})
	block, err := it.NextBlock(8)
	require.NoError(t, err)
	require.Len(t, block, 1)
	require.Contains(t, block[0].Values, colPK)
	require.NotContains(t, block[0].Values, colV)
}

func TestIteratorKeyRangeIntersection(t *testing.T) {
	mrs := newTestMRS(t)
	for _, pk := range []int64{1, 2, 3, 4, 5} {
		require.NoError(t, mrs.Insert(10, row(pk, "x"), opid.OpID{Term: 1, Index: pk}))
	}

	it := mrs.NewIterator(mvcc.WatermarkSnapshot{Watermark: 100})
	it.Init(ScanSpec{KeyRanges: []KeyRange{
		{Lower: keyFor(t, 2), Upper: keyFor(t, 5)},
		{Lower: keyFor(t, 1), Upper: keyFor(t, 4)},
	}})
	rows := selected(mustDrain(t, it))
	require.Len(t, rows, 2, "expected only pk=2,3 inside the intersected [2,4) range")
}

func TestIteratorUncommittedRowStillOccupiesSlot(t *testing.T) {
	mrs := newTestMRS(t)
	require.NoError(t, mrs.Insert(10, row(1, "a"), opid.OpID{Term: 1, Index: 1}))
	require.NoError(t, mrs.Insert(200, row(2, "b"), opid.OpID{Term: 1, Index: 2}))

	it := mrs.NewIterator(mvcc.WatermarkSnapshot{Watermark: 100})
	it.Init(ScanSpec{})
	block := mustDrain(t, it)
	require.Len(t, block, 2, "both rows occupy slots even though only one is committed")

	var committedCount, uncommittedCount int
	for _, r := range block {
		if r.Selected {
			committedCount++
		} else {
			uncommittedCount++
		}
	}
	require.Equal(t, 1, committedCount)
	require.Equal(t, 1, uncommittedCount)
}

func TestIteratorSeekAtOrAfterOnEmptyTreeIsFinished(t *testing.T) {
	mrs := newTestMRS(t)
	it := mrs.NewIterator(mvcc.WatermarkSnapshot{Watermark: 100})
	it.Init(ScanSpec{})
	require.Equal(t, StateFinished, it.State())
}

func TestIteratorSeekAtOrAfterMissingNonEmptyKeyReturnsNotFound(t *testing.T) {
	mrs := newTestMRS(t)
	require.NoError(t, mrs.Insert(10, row(1, "a"), opid.OpID{Term: 1, Index: 1}))

	it := mrs.NewIterator(mvcc.WatermarkSnapshot{Watermark: 100})
	it.Init(ScanSpec{})
	_, err := it.SeekAtOrAfter(keyFor(t, 999))
	require.Error(t, err)
	require.Equal(t, StateFinished, it.State())
}

func mustDrain(t *testing.T, it *Iterator) []OutputRow {
	t.Helper()
	var out []OutputRow
	for it.State() == StateScanning {
		block, err := it.NextBlock(2)
		require.NoError(t, err)
		if len(block) == 0 {
			break
		}
		out = append(out, block...)
	}
	return out
}

func TestMultipleUpdatesReplayInTimestampOrderNotAppendOrder(t *testing.T) {
	mrs := newTestMRS(t)
	require.NoError(t, mrs.Insert(10, row(1, "a"), opid.OpID{Term: 1, Index: 1}))

	// Append a later-timestamped update before an earlier-timestamped one,
	// to exercise replay-by-timestamp rather than by physical link order.
	_, err := mrs.MutateRow(30, keyFor(t, 1), rowschema.Changelist{Op: rowschema.OpUpdate, Deltas: []rowschema.ColumnDelta{{ColumnID: colV, Value: []byte("third")}}}, opid.OpID{Term: 1, Index: 2})
	require.NoError(t, err)
	_, err = mrs.MutateRow(20, keyFor(t, 1), rowschema.Changelist{Op: rowschema.OpUpdate, Deltas: []rowschema.ColumnDelta{{ColumnID: colV, Value: []byte("second")}}}, opid.OpID{Term: 1, Index: 3})
	require.NoError(t, err)

	rows := selected(scanAll(t, mrs, mvcc.WatermarkSnapshot{Watermark: 100}))
	require.Len(t, rows, 1)
	require.Equal(t, []byte("third"), rows[0].Values[colV], "the ts=30 update must be the last one applied regardless of append order")
}
