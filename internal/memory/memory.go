// Package memory provides the aligned backing buffers that shared segments
// live in.
//
// Two backings are supported. Heap buffers come from the Go allocator and are
// over-allocated so that an aligned window can be carved out of them. Mmap
// buffers are anonymous private mappings obtained from the kernel; they are
// page aligned and live outside the Go heap. Platforms without mmap fall back
// to heap buffers.
//
// An Allocator optionally enforces a byte budget across every live buffer. The
// budget is what turns "out of memory" into an ordinary, recoverable error
// instead of a runtime crash.
package memory

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

// ErrNoMemory indicates that the byte budget is exhausted or the system refused
// to provide a mapping.
var ErrNoMemory = errors.New("memory: out of memory")

// errMmapUnsupported is returned by mapAligned on platforms without mmap.
var errMmapUnsupported = errors.New("memory: mmap not supported on this platform")

// MaxAlign is the largest alignment Alloc accepts. Heap buffers are
// over-allocated by up to align-1 bytes.
const MaxAlign = 1 << 30

// ErrBadAlignment indicates an alignment that is not a power of two in
// [1, MaxAlign].
var ErrBadAlignment = errors.New("memory: alignment must be a power of two no larger than 1 GiB")

// Kind selects where backing buffers come from.
type Kind int

const (
	// Heap allocates buffers from the Go heap (default).
	Heap Kind = iota

	// Mmap allocates buffers as anonymous private mappings.
	Mmap
)

// String returns the flag spelling of the kind.
func (k Kind) String() string {
	switch k {
	case Heap:
		return "heap"
	case Mmap:
		return "mmap"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts a flag value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "heap", "":
		return Heap, nil
	case "mmap":
		return Mmap, nil
	default:
		return Heap, fmt.Errorf("memory: unknown backing %q (want heap or mmap)", s)
	}
}

// Buffer is one aligned, zero-filled backing allocation.
type Buffer struct {
	// Data is the aligned window. len(Data) is the requested size.
	Data []byte

	raw  []byte // whole allocation (mapping or heap slice)
	kind Kind
}

// Addr returns the address of the first byte of Data.
func (b *Buffer) Addr() uintptr {
	return addrOf(b.Data)
}

// Kind reports which backing produced the buffer.
func (b *Buffer) Kind() Kind {
	return b.kind
}

// Allocator hands out Buffers and tracks how many bytes are live.
//
// Safe for concurrent use.
type Allocator struct {
	kind  Kind
	limit int64 // 0 means unlimited
	used  atomic.Int64
}

// NewAllocator creates an allocator for the given backing.
// A limit of 0 disables the byte budget.
func NewAllocator(kind Kind, limit int64) *Allocator {
	if limit < 0 {
		limit = 0
	}
	return &Allocator{kind: kind, limit: limit}
}

// Kind returns the configured backing.
func (a *Allocator) Kind() Kind {
	return a.kind
}

// InUse returns the number of bytes currently charged to the budget.
func (a *Allocator) InUse() int64 {
	return a.used.Load()
}

// Limit returns the byte budget (0 when unlimited).
func (a *Allocator) Limit() int64 {
	return a.limit
}

// Reserve charges n bytes against the budget without allocating.
// It returns ErrNoMemory when the budget would be exceeded.
func (a *Allocator) Reserve(n int) error {
	if n < 0 {
		return fmt.Errorf("memory: negative reservation %d", n)
	}
	for {
		cur := a.used.Load()
		next := cur + int64(n)
		if next < cur || (a.limit > 0 && next > a.limit) {
			return ErrNoMemory
		}
		if a.used.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Unreserve returns n bytes to the budget.
func (a *Allocator) Unreserve(n int) {
	a.used.Add(-int64(n))
}

// Alloc returns a zero-filled buffer of size bytes whose first byte is
// aligned to align.
func (a *Allocator) Alloc(size, align int) (*Buffer, error) {
	if align <= 0 || align > MaxAlign || align&(align-1) != 0 {
		return nil, ErrBadAlignment
	}
	if size <= 0 {
		return nil, fmt.Errorf("memory: invalid size %d", size)
	}
	if size > math.MaxInt-align {
		return nil, ErrNoMemory
	}
	if err := a.Reserve(size); err != nil {
		return nil, err
	}

	var (
		buf *Buffer
		err error
	)
	switch a.kind {
	case Mmap:
		buf, err = mapAligned(size, align)
		if errors.Is(err, errMmapUnsupported) {
			buf, err = heapAligned(size, align), nil
		}
	default:
		buf = heapAligned(size, align)
	}
	if err != nil {
		a.Unreserve(size)
		return nil, fmt.Errorf("%w: %v", ErrNoMemory, err)
	}
	return buf, nil
}

// Release returns the buffer to its backing and credits the budget.
// Releasing the same buffer twice is a no-op.
func (a *Allocator) Release(b *Buffer) error {
	if b == nil || b.raw == nil {
		return nil
	}
	size := len(b.Data)
	var err error
	if b.kind == Mmap {
		err = unmap(b.raw)
	}
	b.raw = nil
	a.Unreserve(size)
	return err
}

// heapAligned over-allocates from the Go heap and returns the aligned window.
func heapAligned(size, align int) *Buffer {
	raw := make([]byte, size+align-1)
	off := alignOffset(addrOf(raw), align)
	return &Buffer{
		Data: raw[off : off+size : off+size],
		raw:  raw,
		kind: Heap,
	}
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// alignOffset returns how many bytes to skip from addr to reach the next
// multiple of align.
func alignOffset(addr uintptr, align int) int {
	mask := uintptr(align - 1)
	return int((uintptr(align) - addr&mask) & mask)
}
