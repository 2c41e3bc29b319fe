package stm

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates that a backing buffer or a pre-image could not be allocated.
	ErrOutOfMemory = errors.New("stm: out of memory")

	// ErrBadAlignment indicates an alignment that is not a power of two in
	// [1, MaxAlign].
	ErrBadAlignment = errors.New("stm: alignment must be a power of two no larger than 1 GiB")

	// ErrBadSize indicates a size that is not a positive multiple of the alignment.
	ErrBadSize = errors.New("stm: size must be a positive multiple of the alignment")

	// ErrConflict indicates that a segment lock is held by another transaction.
	ErrConflict = errors.New("stm: segment locked by another transaction")

	// ErrInvalidAddress indicates an address range outside every live segment.
	ErrInvalidAddress = errors.New("stm: address outside every segment")

	// ErrNotSegmentBase indicates a free target that is inside a segment but not its base.
	ErrNotSegmentBase = errors.New("stm: free target is not a segment base")

	// ErrInitialSegment indicates an attempt to free the initial segment.
	ErrInitialSegment = errors.New("stm: initial segment cannot be freed")

	// ErrUseAfterFree indicates access to a segment already freed in this transaction.
	ErrUseAfterFree = errors.New("stm: segment freed")

	// ErrReadOnly indicates a write, alloc or free issued by a read-only transaction.
	ErrReadOnly = errors.New("stm: transaction is read-only")

	// ErrLockMode indicates a write or free on a segment this transaction only holds shared.
	ErrLockMode = errors.New("stm: shared lock cannot be upgraded")

	// ErrTxDone indicates use of a transaction after commit or rollback.
	ErrTxDone = errors.New("stm: transaction already finished")

	// ErrRegionDestroyed indicates use of a region after Destroy.
	ErrRegionDestroyed = errors.New("stm: region destroyed")
)

// AbortError reports why a transaction was rolled back. The transaction is
// finished once an AbortError is returned.
type AbortError struct {
	Op   string // "read", "write", "alloc", "free" or "rollback"
	Addr Addr   // Target address, 0 when not applicable
	Err  error  // One of the sentinel errors above
}

func (e *AbortError) Error() string {
	if e.Addr == 0 {
		return fmt.Sprintf("stm: %s aborted: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("stm: %s at %#x aborted: %v", e.Op, uintptr(e.Addr), e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// IsAbort reports whether err means the transaction was rolled back.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}
