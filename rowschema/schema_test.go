package rowschema

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return &Schema{
		PrimaryKey: []Column{{ID: 1, Name: "pk", Type: Int64}},
		Value:      []Column{{ID: 2, Name: "v", Type: Bytes}},
	}
}

func TestEncodeComparableKeyOrdersIntegersCorrectly(t *testing.T) {
	s := testSchema()
	neg, err := EncodeComparableKey(s, &Row{Schema: s, Values: map[int]interface{}{1: int64(-5)}})
	require.NoError(t, err)
	pos, err := EncodeComparableKey(s, &Row{Schema: s, Values: map[int]interface{}{1: int64(5)}})
	require.NoError(t, err)
	require.Equal(t, -1, bytes.Compare(neg, pos), "negative key must sort before positive")
}

func TestEncodeComparableKeyIsMonotonicAcrossIntRange(t *testing.T) {
	s := testSchema()
	vals := []int64{-100, -1, 0, 1, 100, 1 << 40}
	var prev []byte
	for i, v := range vals {
		k, err := EncodeComparableKey(s, &Row{Schema: s, Values: map[int]interface{}{1: v}})
		require.NoError(t, err)
		if i > 0 {
			require.Equal(t, -1, bytes.Compare(prev, k), "key for %d should sort before key for %d", vals[i-1], v)
		}
		prev = k
	}
}

func TestEncodeDecodeRowRoundTrips(t *testing.T) {
	s := testSchema()
	row := &Row{Schema: s, Values: map[int]interface{}{1: int64(42), 2: []byte("hello")}}
	buf, err := EncodeRow(s, row)
	require.NoError(t, err)

	decoded, err := DecodeRow(s, buf)
	require.NoError(t, err)
	require.Equal(t, row.Values, decoded.Values)
}

func TestDecodeRowRejectsUnknownColumn(t *testing.T) {
	s := testSchema()
	other := &Schema{PrimaryKey: []Column{{ID: 99, Name: "ghost", Type: Int64}}}
	row := &Row{Schema: other, Values: map[int]interface{}{99: int64(1)}}
	buf, err := EncodeRow(other, row)
	require.NoError(t, err)

	_, err = DecodeRow(s, buf)
	require.Error(t, err)
}

func TestChangelistRoundTripsUpdate(t *testing.T) {
	s := testSchema()
	cl := Changelist{Op: OpUpdate, Deltas: []ColumnDelta{{ColumnID: 2, Value: []byte("new")}}}
	buf, err := EncodeChangelist(s, cl)
	require.NoError(t, err)

	decoded, err := DecodeChangelist(s, buf)
	require.NoError(t, err)
	require.Equal(t, OpUpdate, decoded.Op)
	require.Equal(t, cl.Deltas, decoded.Deltas)
}

func TestChangelistDeleteCarriesNoDeltas(t *testing.T) {
	s := testSchema()
	buf, err := EncodeChangelist(s, Changelist{Op: OpDelete})
	require.NoError(t, err)

	decoded, err := DecodeChangelist(s, buf)
	require.NoError(t, err)
	require.Equal(t, OpDelete, decoded.Op)
	require.Empty(t, decoded.Deltas)
}

func TestChangelistApplyMutatesOnlyListedColumns(t *testing.T) {
	row := &Row{Values: map[int]interface{}{1: int64(1), 2: []byte("old")}}
	cl := Changelist{Op: OpUpdate, Deltas: []ColumnDelta{{ColumnID: 2, Value: []byte("new")}}}
	cl.Apply(row)
	require.Equal(t, int64(1), row.Values[1])
	require.Equal(t, []byte("new"), row.Values[2])
}
