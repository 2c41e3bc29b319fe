// Package stm implements a software transactional memory manager over a
// segmented shared region.
//
// # Overview
//
// A Region owns a set of aligned segments. The first one (the initial
// segment) is created with the region and lives until Destroy. Transactions
// read, write, allocate and free segments with all-or-nothing semantics:
//
//	r, err := stm.Create(64, 8)
//	if err != nil {
//	    return err
//	}
//	defer r.Destroy()
//
//	tx, _ := r.Begin(false)
//	if err := tx.Write(payload, r.Start()); err != nil {
//	    // tx is already rolled back
//	    return err
//	}
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Concurrency Control
//
// Every segment carries a reader-writer lock. A transaction takes the shared
// lock on first Read and the exclusive lock on first Write or Free, and keeps
// every lock until Commit or rollback (strict two-phase locking).
//
// Locks are only ever taken with TryLock/TryRLock. When a try fails the
// operation rolls the transaction back and returns an *AbortError wrapping
// ErrConflict. No goroutine ever waits on a segment lock, so no cycle of
// waiters can form.
//
// A transaction that already holds a segment does not lock it again:
//   - exclusive satisfies Read, Write and Free
//   - shared satisfies Read only; Write or Free after Read on the same
//     segment aborts with ErrLockMode (no upgrade)
//
// Read-modify-write code should read with ReadForUpdate, which takes the
// exclusive lock up front.
//
// # Undo Log and Deferred Effects
//
// Writes happen in place. Before each write the overwritten bytes are pushed
// onto the transaction's undo log (package stm/undo). Rollback restores them
// newest first, so the earliest pre-image wins.
//
// Alloc inserts the new segment into the region right away, with its
// exclusive lock pre-held, so the allocating transaction can address it.
// Rollback removes and releases it.
//
// Free only marks the segment freed. Commit removes and releases it;
// rollback clears the mark.
//
// # Address Resolution
//
// Segments are indexed by base address in a B-tree guarded by a region-level
// RWMutex. An address p resolves to the segment with the greatest base <= p,
// and only if base <= p < base+size. Free requires p to be exactly a base.
//
// # Error Handling
//
// Operations that roll the transaction back return *AbortError; use IsAbort
// or errors.Is with the sentinel errors:
//
//	if err := tx.Read(addr, buf); err != nil {
//	    if errors.Is(err, stm.ErrConflict) {
//	        // contention: retry in a new transaction
//	    }
//	}
//
// Alloc is the exception: ErrOutOfMemory is returned bare and leaves the
// transaction running.
//
// Region.Atomically wraps the begin/commit/retry loop. It retries aborts
// caused by other transactions and returns every other abort.
package stm
