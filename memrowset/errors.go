package memrowset

import (
	"github.com/cockroachdb/errors"
	"github.com/kuducore/memrowset/internal/base"
)

// Error kinds surfaced by MemRowSet operations, re-exported from
// internal/base so callers outside this module don't need to import an
// internal package to errors.Is against them.
var (
	ErrAlreadyPresent = base.ErrAlreadyPresent
	ErrNotFound       = base.ErrNotFound
	ErrNotSupported   = base.ErrNotSupported
	ErrOutOfMemory    = base.ErrOutOfMemory
	ErrCorruption     = base.ErrCorruption
)

// markedError carries a formatted message while unwrapping directly to a
// sentinel, so both the standard library's errors.Is and
// github.com/cockroachdb/errors' errors.Is can match against the sentinel.
type markedError struct {
	cause    error
	sentinel error
}

func (e *markedError) Error() string { return e.cause.Error() }
func (e *markedError) Unwrap() error { return e.sentinel }

func mark(err error, sentinel error) error {
	return &markedError{cause: err, sentinel: sentinel}
}

func newAlreadyPresentError(key []byte) error {
	return mark(errors.Newf("memrowset: key %x already present", key), ErrAlreadyPresent)
}

func newNotFoundError(key []byte, ghost bool) error {
	if ghost {
		return mark(errors.Newf("memrowset: key %x not in memrowset (ghost)", key), ErrNotFound)
	}
	return mark(errors.Newf("memrowset: key %x not in memrowset", key), ErrNotFound)
}

func newNotSupportedError(op string) error {
	return mark(errors.Newf("memrowset: %s not supported on a live MemRowSet", op), ErrNotSupported)
}
