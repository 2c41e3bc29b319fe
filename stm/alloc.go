package stm

import "github.com/joshuapare/stmkit/internal/logger"

// Alloc creates a zeroed segment of size bytes aligned to the region's
// alignment and returns its base address.
//
// The segment is visible to this transaction immediately and to others once
// the transaction commits; a rollback destroys it. Its exclusive lock is
// taken here and released at commit or rollback.
//
// ErrOutOfMemory means the allocation failed without side effects and the
// transaction may continue. Any *AbortError means the transaction was rolled
// back.
func (t *Tx) Alloc(size int) (Addr, error) {
	if t.done {
		return 0, ErrTxDone
	}
	if t.readOnly {
		return 0, t.abort("alloc", 0, ErrReadOnly)
	}
	if !t.validSize(size) {
		return 0, t.abort("alloc", 0, ErrBadSize)
	}

	r := t.region
	buf, err := r.alloc.Alloc(size, r.align)
	if err != nil {
		r.stats.nomem.Add(1)
		if logger.DebugEnabled() {
			logger.Debug("alloc nomem", "region", r.id.String(), "tx", t.id, "size", size, "err", err)
		}
		return 0, ErrOutOfMemory
	}

	seg := newSegment(buf)
	seg.lock.Lock()
	t.stagedAllocs[seg] = struct{}{}
	r.insert(seg)
	return seg.base, nil
}

// Free marks the segment whose base is target for destruction at commit.
//
// The initial segment cannot be freed. Until commit the segment is still
// present; a rollback reinstates it. On failure the transaction is rolled
// back and an *AbortError is returned.
func (t *Tx) Free(target Addr) error {
	if t.done {
		return ErrTxDone
	}
	if t.readOnly {
		return t.abort("free", target, ErrReadOnly)
	}

	r := t.region
	seg := r.lookupBase(target)
	if seg == nil {
		if r.resolve(target) != nil {
			return t.abort("free", target, ErrNotSegmentBase)
		}
		return t.abort("free", target, ErrInvalidAddress)
	}
	if seg == r.initial {
		return t.abort("free", target, ErrInitialSegment)
	}

	if err := t.lockExclusive(seg); err != nil {
		return t.abort("free", target, err)
	}
	if seg.freed {
		return t.abort("free", target, ErrUseAfterFree)
	}

	seg.freed = true
	t.stagedFrees = append(t.stagedFrees, seg)
	return nil
}
