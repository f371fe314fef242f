// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"errors"
)

// Sentinel error kinds surfaced by the memrowset and lrucache cores. Callers
// use errors.Is against these after unwrapping whatever context a component
// attached with errors.Wrapf.
var (
	// ErrNotFound means a probe found no live row at the requested key.
	ErrNotFound = errors.New("memrowset: not found")
	// ErrAlreadyPresent means an Insert found a live row already occupying
	// the key.
	ErrAlreadyPresent = errors.New("memrowset: already present")
	// ErrNotSupported means the operation is unconditionally unsupported on
	// a live MemRowSet (e.g. AlterSchema).
	ErrNotSupported = errors.New("memrowset: not supported")
	// ErrOutOfMemory means an arena allocation was refused by the memory
	// tracker backing it.
	ErrOutOfMemory = errors.New("memrowset: out of memory")
	// ErrCorruption means a changelist or row body failed to decode. This is
	// treated as fatal by callers: a malformed in-memory changelist means an
	// invariant was already violated elsewhere.
	ErrCorruption = errors.New("memrowset: corruption")
)
