package tm

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/stmkit/stm"
)

// Shared is an opaque region handle.
type Shared uintptr

// Tx is an opaque transaction handle.
type Tx uintptr

const (
	// InvalidShared is returned by Create on failure. No valid region uses it.
	InvalidShared Shared = 0

	// InvalidTx is returned by Begin on failure. No valid transaction uses it.
	InvalidTx Tx = 0
)

// Alloc is the outcome of an allocation.
type Alloc int

const (
	// Success means the segment was allocated and the transaction continues.
	Success Alloc = iota

	// Abort means the transaction was rolled back; its handle is invalid.
	Abort

	// NoMem means the allocation failed but the transaction continues.
	NoMem
)

func (a Alloc) String() string {
	switch a {
	case Success:
		return "success"
	case Abort:
		return "abort"
	case NoMem:
		return "nomem"
	default:
		return "unknown"
	}
}

// Options configures regions made by CreateWithOptions.
type Options = stm.Options

// handles maps opaque handles to live objects. Handle values are never
// reused within a process.
var (
	nextHandle atomic.Uintptr
	regions    sync.Map // Shared -> *stm.Region
	txs        sync.Map // Tx -> *stm.Tx
)

func newHandle() uintptr {
	return nextHandle.Add(1)
}

func region(s Shared) *stm.Region {
	v, ok := regions.Load(s)
	if !ok {
		return nil
	}
	return v.(*stm.Region)
}

func transaction(t Tx) *stm.Tx {
	v, ok := txs.Load(t)
	if !ok {
		return nil
	}
	return v.(*stm.Tx)
}

// Create allocates a region with one initial zeroed segment of size bytes
// aligned to align. It returns InvalidShared on failure.
func Create(size, align uint) Shared {
	return CreateWithOptions(size, align, nil)
}

// CreateWithOptions is Create with explicit region options.
func CreateWithOptions(size, align uint, opts *Options) Shared {
	r, err := stm.CreateWithOptions(int(size), int(align), opts)
	if err != nil {
		return InvalidShared
	}
	h := Shared(newHandle())
	regions.Store(h, r)
	return h
}

// Destroy releases the region. No transaction may be running on it.
func Destroy(shared Shared) {
	v, ok := regions.LoadAndDelete(shared)
	if !ok {
		return
	}
	v.(*stm.Region).Destroy()
}

// Start returns the address of the initial segment, or 0 for an invalid handle.
func Start(shared Shared) stm.Addr {
	r := region(shared)
	if r == nil {
		return 0
	}
	return r.Start()
}

// Size returns the size of the initial segment, or 0 for an invalid handle.
func Size(shared Shared) uint {
	r := region(shared)
	if r == nil {
		return 0
	}
	return uint(r.Size())
}

// Align returns the region alignment, or 0 for an invalid handle.
func Align(shared Shared) uint {
	r := region(shared)
	if r == nil {
		return 0
	}
	return uint(r.Align())
}

// Stats returns the region's counters. The zero value is returned for an
// invalid handle.
func Stats(shared Shared) stm.Stats {
	r := region(shared)
	if r == nil {
		return stm.Stats{}
	}
	return r.Stats()
}

// Region returns the region behind a handle, or nil.
func Region(shared Shared) *stm.Region {
	return region(shared)
}

// Begin starts a transaction. It returns InvalidTx on failure.
func Begin(shared Shared, isRO bool) Tx {
	r := region(shared)
	if r == nil {
		return InvalidTx
	}
	t, err := r.Begin(isRO)
	if err != nil {
		return InvalidTx
	}
	h := Tx(newHandle())
	txs.Store(h, t)
	return h
}

// End commits the transaction. The handle is invalid afterwards.
func End(shared Shared, tx Tx) bool {
	t, ok := owned(shared, tx)
	if !ok {
		return fail(tx, t)
	}
	txs.Delete(tx)
	return t.Commit() == nil
}

// Read copies size bytes from the shared address source into target.
// It returns false when the transaction aborted; the handle is then invalid.
func Read(shared Shared, tx Tx, source stm.Addr, size uint, target []byte) bool {
	t, ok := owned(shared, tx)
	if !ok || uint(len(target)) < size {
		return fail(tx, t)
	}
	return settle(tx, t.Read(source, target[:size]))
}

// Write copies size bytes from source to the shared address target.
// It returns false when the transaction aborted; the handle is then invalid.
func Write(shared Shared, tx Tx, source []byte, size uint, target stm.Addr) bool {
	t, ok := owned(shared, tx)
	if !ok || uint(len(source)) < size {
		return fail(tx, t)
	}
	return settle(tx, t.Write(source[:size], target))
}

// AllocSegment allocates a zeroed segment of size bytes and stores its
// address in target.
func AllocSegment(shared Shared, tx Tx, size uint, target *stm.Addr) Alloc {
	t, ok := owned(shared, tx)
	if !ok {
		fail(tx, t)
		return Abort
	}
	p, err := t.Alloc(int(size))
	switch {
	case err == nil:
		*target = p
		return Success
	case errors.Is(err, stm.ErrOutOfMemory) && !stm.IsAbort(err):
		return NoMem
	default:
		txs.Delete(tx)
		return Abort
	}
}

// Free schedules the segment based at target for destruction at commit.
// It returns false when the transaction aborted; the handle is then invalid.
func Free(shared Shared, tx Tx, target stm.Addr) bool {
	t, ok := owned(shared, tx)
	if !ok {
		return fail(tx, t)
	}
	return settle(tx, t.Free(target))
}

// owned looks up tx and reports whether it belongs to shared. The live
// transaction is returned even on a mismatch so the caller can abort it.
func owned(shared Shared, tx Tx) (*stm.Tx, bool) {
	t := transaction(tx)
	if t == nil {
		return nil, false
	}
	r := region(shared)
	return t, r != nil && r == t.Region()
}

// settle maps an operation result to the ABI boolean and retires the handle
// once the transaction is finished.
func settle(tx Tx, err error) bool {
	if err == nil {
		return true
	}
	txs.Delete(tx)
	return false
}

// fail aborts a live transaction that was handed malformed arguments.
func fail(tx Tx, t *stm.Tx) bool {
	if t != nil {
		_ = t.Rollback()
		txs.Delete(tx)
	}
	return false
}
