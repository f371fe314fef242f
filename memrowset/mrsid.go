package memrowset

import (
	"strconv"

	"github.com/cockroachdb/redact"
)

// MRSID identifies a MemRowSet, stable for its lifetime. It implements
// redact.SafeFormatter so it can be logged without a redaction marker, the
// same convention opid.OpID follows.
type MRSID uint64

func (id MRSID) String() string { return strconv.FormatUint(uint64(id), 10) }

// SafeFormat implements redact.SafeFormatter.
func (id MRSID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d", redact.Safe(uint64(id)))
}
