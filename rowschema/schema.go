// Package rowschema implements a fixed-layout row schema, comparable-key
// encoding, row body encoding, and a changelist codec for
// UPDATE/DELETE/REINSERT mutations. memrowset depends on a concrete
// implementation of this to be testable end to end, so it lives here rather
// than behind an interface with no real implementation.
package rowschema

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/kuducore/memrowset/internal/base"
)

// ColumnType is the wire type of one column's values. Only two types are
// supported: fixed-width integers and variable-length byte strings.
type ColumnType int

const (
	Int64 ColumnType = iota
	Bytes
)

// Column describes one column: its stable ID (used in changelists so a
// column rename doesn't invalidate old mutation records) and its type.
type Column struct {
	ID   int
	Name string
	Type ColumnType
}

// Schema is an ordered list of primary-key columns followed by an ordered
// list of value columns. EncodeComparableKey only consults PrimaryKey;
// row/changelist codecs walk all of Columns().
type Schema struct {
	PrimaryKey []Column
	Value      []Column
}

// Columns returns every column, primary key first, in declaration order.
func (s *Schema) Columns() []Column {
	cols := make([]Column, 0, len(s.PrimaryKey)+len(s.Value))
	cols = append(cols, s.PrimaryKey...)
	cols = append(cols, s.Value...)
	return cols
}

// ColumnByID returns the column with the given ID, if any.
func (s *Schema) ColumnByID(id int) (Column, bool) {
	for _, c := range s.Columns() {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Equal reports whether two schemas have the same columns in the same
// order — the check memrowset.Insert uses to enforce that an inserted
// row's schema matches its MemRowSet's schema.
func (s *Schema) Equal(other *Schema) bool {
	a, b := s.Columns(), other.Columns()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return len(s.PrimaryKey) == len(other.PrimaryKey)
}

// Row is a decoded row: a value per column ID. Values are int64 for
// Int64 columns and []byte for Bytes columns.
type Row struct {
	Schema *Schema
	Values map[int]interface{}
}

// Clone returns a deep copy of r, safe to mutate independently.
func (r *Row) Clone() *Row {
	values := make(map[int]interface{}, len(r.Values))
	for id, v := range r.Values {
		if b, ok := v.([]byte); ok {
			cp := make([]byte, len(b))
			copy(cp, b)
			values[id] = cp
		} else {
			values[id] = v
		}
	}
	return &Row{Schema: r.Schema, Values: values}
}

// EncodeComparableKey writes row's primary-key columns into buf such that
// byte-lexicographic comparison of the result matches the schema's key
// ordering. Integers are written big-endian with the sign bit flipped, so
// two's-complement ordering matches unsigned byte ordering. Variable-length
// columns other than the last key column are length-prefixed (the last one
// is written raw): this sacrifices pure lexicographic ordering
// across differing-length values for any column that isn't the last key
// column, an accepted tradeoff for disambiguating variable-length keys.
func EncodeComparableKey(schema *Schema, row *Row) ([]byte, error) {
	var buf []byte
	for i, col := range schema.PrimaryKey {
		v, ok := row.Values[col.ID]
		if !ok {
			return nil, errors.Mark(errors.Newf("rowschema: row missing primary key column %d (%s)", col.ID, col.Name), base.ErrNotSupported)
		}
		switch col.Type {
		case Int64:
			i, ok := v.(int64)
			if !ok {
				return nil, errors.Newf("rowschema: column %s: expected int64, got %T", col.Name, v)
			}
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], uint64(i)^(1<<63))
			buf = append(buf, tmp[:]...)
		case Bytes:
			b, ok := v.([]byte)
			if !ok {
				return nil, errors.Newf("rowschema: column %s: expected []byte, got %T", col.Name, v)
			}
			if i < len(schema.PrimaryKey)-1 {
				var lenBuf [4]byte
				binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
				buf = append(buf, lenBuf[:]...)
			}
			buf = append(buf, b...)
		default:
			return nil, errors.Newf("rowschema: unknown column type %d", col.Type)
		}
	}
	return buf, nil
}

// EncodeRow serializes every column of row, in schema order, for storage
// in a MemRowSet's arena.
func EncodeRow(schema *Schema, row *Row) ([]byte, error) {
	var buf []byte
	for _, col := range schema.Columns() {
		v, ok := row.Values[col.ID]
		if !ok {
			continue // column absent: treated as NULL, nothing encoded for it
		}
		encoded, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		var idBuf [4]byte
		binary.BigEndian.PutUint32(idBuf[:], uint32(col.ID))
		buf = append(buf, idBuf[:]...)
		buf = append(buf, encoded...)
	}
	return buf, nil
}

// DecodeRow reverses EncodeRow.
func DecodeRow(schema *Schema, buf []byte) (*Row, error) {
	values := make(map[int]interface{})
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errors.Mark(errors.New("rowschema: truncated row: column id"), base.ErrCorruption)
		}
		id := int(binary.BigEndian.Uint32(buf))
		buf = buf[4:]
		col, ok := schema.ColumnByID(id)
		if !ok {
			return nil, errors.Mark(errors.Newf("rowschema: unknown column id %d", id), base.ErrCorruption)
		}
		v, rest, err := decodeValue(col, buf)
		if err != nil {
			return nil, err
		}
		values[id] = v
		buf = rest
	}
	return &Row{Schema: schema, Values: values}, nil
}

func encodeValue(col Column, v interface{}) ([]byte, error) {
	switch col.Type {
	case Int64:
		i, ok := v.(int64)
		if !ok {
			return nil, errors.Newf("rowschema: column %s: expected int64, got %T", col.Name, v)
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(i))
		return tmp[:], nil
	case Bytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, errors.Newf("rowschema: column %s: expected []byte, got %T", col.Name, v)
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		return append(lenBuf[:], b...), nil
	default:
		return nil, errors.Newf("rowschema: unknown column type %d", col.Type)
	}
}

func decodeValue(col Column, buf []byte) (interface{}, []byte, error) {
	switch col.Type {
	case Int64:
		if len(buf) < 8 {
			return nil, nil, errors.Mark(errors.New("rowschema: truncated row: int64 value"), base.ErrCorruption)
		}
		return int64(binary.BigEndian.Uint64(buf)), buf[8:], nil
	case Bytes:
		if len(buf) < 4 {
			return nil, nil, errors.Mark(errors.New("rowschema: truncated row: bytes length"), base.ErrCorruption)
		}
		n := binary.BigEndian.Uint32(buf)
		buf = buf[4:]
		if uint64(len(buf)) < uint64(n) {
			return nil, nil, errors.Mark(errors.New("rowschema: truncated row: bytes value"), base.ErrCorruption)
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, buf[n:], nil
	default:
		return nil, nil, errors.Newf("rowschema: unknown column type %d", col.Type)
	}
}
