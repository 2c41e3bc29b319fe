package stm

// Read copies len(dst) bytes starting at the shared address src into the
// private buffer dst.
//
// len(dst) must be a positive multiple of the region's alignment and the
// whole range must lie inside one segment. On failure the transaction is
// rolled back and an *AbortError is returned.
func (t *Tx) Read(src Addr, dst []byte) error {
	return t.read("read", src, dst, false)
}

// ReadForUpdate is Read, but it takes the segment's exclusive lock so the
// transaction may write the segment afterwards. Use it for read-modify-write
// sequences: a segment first read with Read can no longer be written by the
// same transaction.
func (t *Tx) ReadForUpdate(src Addr, dst []byte) error {
	if !t.done && t.readOnly {
		return t.abort("read", src, ErrReadOnly)
	}
	return t.read("read", src, dst, true)
}

func (t *Tx) read(op string, src Addr, dst []byte, exclusive bool) error {
	if t.done {
		return ErrTxDone
	}
	if !t.validSize(len(dst)) {
		return t.abort(op, src, ErrBadSize)
	}

	seg := t.region.resolve(src)
	if seg == nil {
		return t.abort(op, src, ErrInvalidAddress)
	}
	window, ok := seg.span(src, len(dst))
	if !ok {
		return t.abort(op, src, ErrInvalidAddress)
	}

	if exclusive {
		if err := t.lockExclusive(seg); err != nil {
			return t.abort(op, src, err)
		}
	} else if _, held := t.holds(seg); !held {
		if !seg.lock.TryRLock() {
			return t.abort(op, src, ErrConflict)
		}
		t.readLocks[seg] = struct{}{}
	}
	if seg.freed {
		return t.abort(op, src, ErrUseAfterFree)
	}

	copy(dst, window)
	return nil
}

// Write copies the private buffer src to the shared address dst.
//
// len(src) must be a positive multiple of the region's alignment and the
// whole range must lie inside one segment. The overwritten bytes are logged
// first so that a rollback can restore them. On failure the transaction is
// rolled back and an *AbortError is returned.
func (t *Tx) Write(src []byte, dst Addr) error {
	if t.done {
		return ErrTxDone
	}
	if t.readOnly {
		return t.abort("write", dst, ErrReadOnly)
	}
	if !t.validSize(len(src)) {
		return t.abort("write", dst, ErrBadSize)
	}

	seg := t.region.resolve(dst)
	if seg == nil {
		return t.abort("write", dst, ErrInvalidAddress)
	}
	window, ok := seg.span(dst, len(src))
	if !ok {
		return t.abort("write", dst, ErrInvalidAddress)
	}

	if err := t.lockExclusive(seg); err != nil {
		return t.abort("write", dst, err)
	}
	if seg.freed {
		return t.abort("write", dst, ErrUseAfterFree)
	}

	if err := t.undo.Push(uintptr(dst), window); err != nil {
		return t.abort("write", dst, ErrOutOfMemory)
	}
	copy(window, src)
	return nil
}

// lockExclusive makes sure the transaction holds seg exclusively. A shared
// lock already held by this transaction is never upgraded.
func (t *Tx) lockExclusive(seg *Segment) error {
	mode, held := t.holds(seg)
	if held {
		if mode != modeExclusive {
			return ErrLockMode
		}
		return nil
	}
	if !seg.lock.TryLock() {
		return ErrConflict
	}
	t.writeLocks[seg] = struct{}{}
	return nil
}

func (t *Tx) validSize(n int) bool {
	return n > 0 && n%t.region.align == 0
}
