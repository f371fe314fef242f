package rowschema

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/kuducore/memrowset/internal/base"
)

// Op identifies what a Changelist does to the row it's attached to.
type Op byte

const (
	OpUpdate Op = iota
	OpDelete
	OpReinsert
)

// ColumnDelta is one column's new value within an UPDATE or REINSERT
// changelist.
type ColumnDelta struct {
	ColumnID int
	Value    interface{}
}

// Changelist is the decoded form of a mutation record's payload: an
// opcode plus, for UPDATE and REINSERT, the columns it sets. DELETE
// carries no deltas. REINSERT's deltas are every column of the
// newly-inserted row (see MemRowSet.reinsert in package memrowset).
type Changelist struct {
	Op     Op
	Deltas []ColumnDelta
}

// EncodeChangelist serializes cl for storage in a mutation record's arena
// buffer.
func EncodeChangelist(schema *Schema, cl Changelist) ([]byte, error) {
	buf := []byte{byte(cl.Op)}
	if cl.Op == OpDelete {
		return buf, nil
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(cl.Deltas)))
	buf = append(buf, countBuf[:]...)
	for _, d := range cl.Deltas {
		col, ok := schema.ColumnByID(d.ColumnID)
		if !ok {
			return nil, errors.Newf("rowschema: changelist references unknown column id %d", d.ColumnID)
		}
		encoded, err := encodeValue(col, d.Value)
		if err != nil {
			return nil, err
		}
		var idBuf [4]byte
		binary.BigEndian.PutUint32(idBuf[:], uint32(d.ColumnID))
		buf = append(buf, idBuf[:]...)
		buf = append(buf, encoded...)
	}
	return buf, nil
}

// DecodeChangelist reverses EncodeChangelist. A malformed payload is
// reported wrapped in base.ErrCorruption, the caller's signal to treat the
// condition as fatal rather than retriable.
func DecodeChangelist(schema *Schema, buf []byte) (Changelist, error) {
	if len(buf) < 1 {
		return Changelist{}, errors.Mark(errors.New("rowschema: empty changelist"), base.ErrCorruption)
	}
	op := Op(buf[0])
	buf = buf[1:]
	if op == OpDelete {
		return Changelist{Op: op}, nil
	}
	if op != OpUpdate && op != OpReinsert {
		return Changelist{}, errors.Mark(errors.Newf("rowschema: unknown changelist op %d", op), base.ErrCorruption)
	}
	if len(buf) < 4 {
		return Changelist{}, errors.Mark(errors.New("rowschema: truncated changelist: delta count"), base.ErrCorruption)
	}
	count := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	deltas := make([]ColumnDelta, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < 4 {
			return Changelist{}, errors.Mark(errors.New("rowschema: truncated changelist: column id"), base.ErrCorruption)
		}
		id := int(binary.BigEndian.Uint32(buf))
		buf = buf[4:]
		col, ok := schema.ColumnByID(id)
		if !ok {
			return Changelist{}, errors.Mark(errors.Newf("rowschema: changelist references unknown column id %d", id), base.ErrCorruption)
		}
		v, rest, err := decodeValue(col, buf)
		if err != nil {
			return Changelist{}, err
		}
		deltas = append(deltas, ColumnDelta{ColumnID: id, Value: v})
		buf = rest
	}
	return Changelist{Op: op, Deltas: deltas}, nil
}

// Apply applies cl's deltas onto row in place. Only meaningful for UPDATE
// and REINSERT; callers handle DELETE (and REINSERT's row replacement) at
// the state-machine level, not via Apply.
func (cl Changelist) Apply(row *Row) {
	for _, d := range cl.Deltas {
		row.Values[d.ColumnID] = d.Value
	}
}
