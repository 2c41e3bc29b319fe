package stm

import (
	"github.com/joshuapare/stmkit/internal/logger"
	"github.com/joshuapare/stmkit/stm/undo"
)

// lockMode is the mode a transaction holds a segment lock in.
type lockMode uint8

const (
	modeShared lockMode = iota + 1
	modeExclusive
)

// Tx is the state of one transaction.
//
// A Tx is driven by a single goroutine. It finishes exactly once, either by
// Commit or by a rollback (an operation that returns an *AbortError, or an
// explicit Rollback call). Every lock it took is held until then.
type Tx struct {
	id        uint64
	region    *Region
	readOnly  bool
	done      bool
	committed bool

	readLocks  map[*Segment]struct{}
	writeLocks map[*Segment]struct{}

	undo *undo.Log

	// stagedAllocs are owned by the transaction until commit; their exclusive
	// locks are taken at allocation and are not part of writeLocks.
	stagedAllocs map[*Segment]struct{}
	stagedFrees  []*Segment

	// aborted is the error returned by the operation that aborted t.
	aborted error
}

// Begin starts a transaction on the region.
func (r *Region) Begin(readOnly bool) (*Tx, error) {
	if r.destroyed.Load() {
		return nil, ErrRegionDestroyed
	}
	r.stats.begins.Add(1)

	t := &Tx{
		id:        r.nextTx.Add(1),
		region:    r,
		readOnly:  readOnly,
		readLocks: make(map[*Segment]struct{}),
	}
	if !readOnly {
		t.writeLocks = make(map[*Segment]struct{})
		t.stagedAllocs = make(map[*Segment]struct{})
		t.undo = undo.NewLog(r.alloc)
	}
	return t, nil
}

// ID returns the transaction's sequence number within its region.
func (t *Tx) ID() uint64 {
	return t.id
}

// ReadOnly reports whether the transaction was begun read-only.
func (t *Tx) ReadOnly() bool {
	return t.readOnly
}

// Done reports whether the transaction has committed or rolled back.
func (t *Tx) Done() bool {
	return t.done
}

// Region returns the region the transaction runs on.
func (t *Tx) Region() *Region {
	return t.region
}

// holds reports whether the transaction already holds seg's lock and in
// which mode.
func (t *Tx) holds(seg *Segment) (lockMode, bool) {
	if _, ok := t.writeLocks[seg]; ok {
		return modeExclusive, true
	}
	if _, ok := t.stagedAllocs[seg]; ok {
		return modeExclusive, true
	}
	if _, ok := t.readLocks[seg]; ok {
		return modeShared, true
	}
	return 0, false
}

// Holds reports whether the transaction holds a lock on the segment that
// contains p, and whether that lock is exclusive.
func (t *Tx) Holds(p Addr) (held, exclusive bool) {
	seg := t.region.resolve(p)
	if seg == nil {
		return false, false
	}
	mode, ok := t.holds(seg)
	return ok, mode == modeExclusive
}

// Commit publishes the transaction's effects and releases its locks.
//
// When Commit returns nil every write is visible to later transactions, every
// allocated segment belongs to the region and every freed segment is gone.
// Under strict two-phase locking with try-locks all conflicts surface earlier,
// so Commit only fails on a transaction that already finished.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	r := t.region

	// Step 1: Release shared locks
	for seg := range t.readLocks {
		seg.lock.RUnlock()
	}

	// Step 2: Read-only fast path
	if t.readOnly {
		t.finish()
		t.committed = true
		r.stats.commits.Add(1)
		return nil
	}

	// Step 3: Destroy freed segments
	for _, seg := range t.stagedFrees {
		r.remove(seg)
	}
	transient := t.freedAllocs()
	published := len(t.stagedAllocs) - transient

	// Step 4: Release exclusive locks (freed segments keep freed=true)
	for seg := range t.writeLocks {
		seg.lock.Unlock()
	}
	for seg := range t.stagedAllocs {
		seg.lock.Unlock()
	}

	// Step 5: Discard undo records
	writes := t.undo.Len()
	t.undo.Discard()

	// Step 6: Destroy transaction state
	frees := len(t.stagedFrees) - transient
	t.finish()
	t.committed = true

	r.stats.commits.Add(1)
	r.stats.allocs.Add(uint64(published))
	r.stats.frees.Add(uint64(frees))
	if logger.DebugEnabled() {
		logger.Debug("commit",
			"region", r.id.String(),
			"tx", t.id,
			"writes", writes,
			"allocs", published,
			"frees", frees,
		)
	}
	return nil
}

// Rollback aborts the transaction, restoring every byte it wrote, dropping
// its allocations and reinstating segments it freed. Rolling back a finished
// transaction returns ErrTxDone.
func (t *Tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.rollback()
	t.region.stats.recordAbort(nil)
	return nil
}

// abort rolls back and returns the *AbortError describing why.
func (t *Tx) abort(op string, p Addr, cause error) error {
	t.rollback()
	err := &AbortError{Op: op, Addr: p, Err: cause}
	t.aborted = err
	t.region.stats.recordAbort(cause)
	if logger.DebugEnabled() {
		logger.Debug("abort",
			"region", t.region.id.String(),
			"tx", t.id,
			"op", op,
			"addr", uintptr(p),
			"reason", cause.Error(),
		)
	}
	return err
}

func (t *Tx) rollback() {
	r := t.region

	if !t.readOnly {
		// Step 1a: Restore pre-images, newest first
		t.undo.Rollback()

		// Step 1b: Reinstate freed segments
		for _, seg := range t.stagedFrees {
			seg.freed = false
		}

		// Step 1c: Destroy staged allocations
		for seg := range t.stagedAllocs {
			seg.freed = true
			r.remove(seg)
			seg.lock.Unlock()
		}

		// Step 1d: Release exclusive locks
		for seg := range t.writeLocks {
			seg.lock.Unlock()
		}
	}

	// Step 2: Release shared locks
	for seg := range t.readLocks {
		seg.lock.RUnlock()
	}

	// Step 3: Destroy transaction state
	t.finish()
}

// freedAllocs counts segments both allocated and freed by this transaction.
func (t *Tx) freedAllocs() int {
	n := 0
	for _, seg := range t.stagedFrees {
		if _, ok := t.stagedAllocs[seg]; ok {
			n++
		}
	}
	return n
}

func (t *Tx) finish() {
	t.done = true
	t.readLocks = nil
	t.writeLocks = nil
	t.stagedAllocs = nil
	t.stagedFrees = nil
}
