package stm

import (
	"errors"
	"sync/atomic"
)

// Stats is a snapshot of a region's transaction counters.
//
// Every abort is counted once in Aborts and once in exactly one of the
// per-reason counters, so the reasons sum to Aborts.
type Stats struct {
	Begins  uint64 `json:"begins"`
	Commits uint64 `json:"commits"`
	Aborts  uint64 `json:"aborts"`

	Conflicts      uint64 `json:"conflicts"`       // a try-lock failed
	LockMode       uint64 `json:"lock_mode"`       // write to a segment held shared
	InvalidAddress uint64 `json:"invalid_address"` // ErrInvalidAddress, ErrNotSegmentBase or ErrInitialSegment
	UseAfterFree   uint64 `json:"use_after_free"`
	OutOfMemory    uint64 `json:"out_of_memory"` // undo log could not be charged
	Misuse         uint64 `json:"misuse"`        // ErrReadOnly or ErrBadSize
	Rollbacks      uint64 `json:"rollbacks"`     // explicit Tx.Rollback

	Allocs uint64 `json:"allocs"` // segments published by commit
	Frees  uint64 `json:"frees"`  // published segments destroyed by commit
	NoMem  uint64 `json:"nomem"`  // Alloc calls that reported ErrOutOfMemory
}

type counters struct {
	begins  atomic.Uint64
	commits atomic.Uint64
	aborts  atomic.Uint64

	conflicts      atomic.Uint64
	lockMode       atomic.Uint64
	invalidAddress atomic.Uint64
	useAfterFree   atomic.Uint64
	outOfMemory    atomic.Uint64
	misuse         atomic.Uint64
	rollbacks      atomic.Uint64

	allocs atomic.Uint64
	frees  atomic.Uint64
	nomem  atomic.Uint64
}

// recordAbort counts an abort under the reason err. A nil err is an explicit
// rollback.
func (c *counters) recordAbort(err error) {
	c.aborts.Add(1)
	switch {
	case err == nil:
		c.rollbacks.Add(1)
	case errors.Is(err, ErrConflict):
		c.conflicts.Add(1)
	case errors.Is(err, ErrLockMode):
		c.lockMode.Add(1)
	case errors.Is(err, ErrUseAfterFree):
		c.useAfterFree.Add(1)
	case errors.Is(err, ErrOutOfMemory):
		c.outOfMemory.Add(1)
	case errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrNotSegmentBase),
		errors.Is(err, ErrInitialSegment):
		c.invalidAddress.Add(1)
	default:
		c.misuse.Add(1)
	}
}

// Stats returns the current counters.
func (r *Region) Stats() Stats {
	return Stats{
		Begins:         r.stats.begins.Load(),
		Commits:        r.stats.commits.Load(),
		Aborts:         r.stats.aborts.Load(),
		Conflicts:      r.stats.conflicts.Load(),
		LockMode:       r.stats.lockMode.Load(),
		InvalidAddress: r.stats.invalidAddress.Load(),
		UseAfterFree:   r.stats.useAfterFree.Load(),
		OutOfMemory:    r.stats.outOfMemory.Load(),
		Misuse:         r.stats.misuse.Load(),
		Rollbacks:      r.stats.rollbacks.Load(),
		Allocs:         r.stats.allocs.Load(),
		Frees:          r.stats.frees.Load(),
		NoMem:          r.stats.nomem.Load(),
	}
}
