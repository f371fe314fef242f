package memrowset

import (
	"github.com/kuducore/memrowset/internal/base"
	"github.com/kuducore/memrowset/internal/memtracker"
)

// Options configures a MemRowSet, following the functional-options-struct
// plus EnsureDefaults shape db.Options.EnsureDefaults() uses throughout the
// teacher's mem_table.go.
type Options struct {
	// ID identifies the MemRowSet, used for logging and op-id anchoring.
	ID uint64
	// ThrottleMB is the memory-footprint threshold, in megabytes, above
	// which SlowMutators begins sleeping mutators. Zero disables
	// throttling.
	ThrottleMB int64
	// Logger receives the throttle warning and any corruption-triggered
	// Fatalf. Defaults to base.DefaultLogger.
	Logger base.Logger
	// MemTracker is the parent tracker this MemRowSet's arena reports
	// consumption to. Defaults to a fresh, unlimited root tracker.
	MemTracker *memtracker.Tracker
}

// EnsureDefaults returns o with every unset field filled in, allocating a
// fresh Options if o is nil.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.MemTracker == nil {
		o.MemTracker = memtracker.NewRootTracker("memrowset", memtracker.Unlimited)
	}
	return o
}
