package stm

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/joshuapare/stmkit/internal/logger"
	"github.com/joshuapare/stmkit/internal/memory"
)

// MaxAlign is the largest region alignment Create accepts.
const MaxAlign = memory.MaxAlign

// Region is the shared memory universe: an initial segment plus every
// segment allocated by committed (or in-flight) transactions.
//
// The accessors Start, Size and Align read immutable fields and are safe to
// call from any goroutine. Destroy must only be called once no transaction is
// running.
type Region struct {
	id    uuid.UUID
	start Addr
	size  int
	align int

	alloc   *memory.Allocator
	initial *Segment

	// mu serializes segment index mutations against address resolution.
	mu       sync.RWMutex
	segments btree.Map[Addr, *Segment]

	destroyed atomic.Bool
	nextTx    atomic.Uint64
	stats     counters
}

// Create allocates a region whose initial segment is size zeroed bytes
// aligned to align, using DefaultOptions.
func Create(size, align int) (*Region, error) {
	return CreateWithOptions(size, align, nil)
}

// CreateWithOptions allocates a region with explicit options. nil opts means
// DefaultOptions.
//
// align must be a positive power of two and size a positive multiple of it.
// ErrOutOfMemory is returned when the initial segment cannot be allocated; in
// that case nothing persists.
func CreateWithOptions(size, align int, opts *Options) (*Region, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if align <= 0 || align > MaxAlign || align&(align-1) != 0 {
		return nil, ErrBadAlignment
	}
	if size <= 0 || size%align != 0 {
		return nil, ErrBadSize
	}

	alloc := memory.NewAllocator(opts.Backing, opts.MemoryLimit)
	buf, err := alloc.Alloc(size, align)
	if err != nil {
		return nil, errors.Join(ErrOutOfMemory, err)
	}

	seg := newSegment(buf)
	r := &Region{
		id:      uuid.New(),
		start:   seg.base,
		size:    size,
		align:   align,
		alloc:   alloc,
		initial: seg,
	}
	r.segments.Set(seg.base, seg)

	logger.Info("region created",
		"region", r.id.String(),
		"size", size,
		"align", align,
		"backing", opts.Backing.String(),
	)
	return r, nil
}

// Destroy releases every segment buffer. The caller guarantees that no
// transaction is live. Calling Destroy more than once is a no-op.
func (r *Region) Destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.segments.Len()
	r.segments.Scan(func(_ Addr, seg *Segment) bool {
		seg.freed = true
		if err := r.alloc.Release(seg.buf); err != nil {
			logger.Warn("release segment", "region", r.id.String(), "base", uintptr(seg.base), "err", err)
		}
		return true
	})
	r.segments = btree.Map[Addr, *Segment]{}

	logger.Info("region destroyed", "region", r.id.String(), "segments", n)
}

// ID returns the region's unique identity.
func (r *Region) ID() uuid.UUID {
	return r.id
}

// Start returns the base address of the initial segment.
func (r *Region) Start() Addr {
	return r.start
}

// Size returns the size of the initial segment in bytes.
func (r *Region) Size() int {
	return r.size
}

// Align returns the alignment of every segment and access.
func (r *Region) Align() int {
	return r.align
}

// Segments returns the number of segments currently indexed, including
// staged allocations of running transactions.
func (r *Region) Segments() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.segments.Len()
}

// MemoryInUse returns the bytes charged to the region's memory budget.
func (r *Region) MemoryInUse() int64 {
	return r.alloc.InUse()
}

// resolve returns the segment whose range [base, base+size) contains p.
func (r *Region) resolve(p Addr) *Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Segment
	r.segments.Descend(p, func(_ Addr, seg *Segment) bool {
		found = seg
		return false
	})
	if found == nil || !found.Contains(p) {
		return nil
	}
	return found
}

// lookupBase returns the segment whose base is exactly p.
func (r *Region) lookupBase(p Addr) *Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seg, ok := r.segments.Get(p)
	if !ok {
		return nil
	}
	return seg
}

func (r *Region) insert(seg *Segment) {
	r.mu.Lock()
	r.segments.Set(seg.base, seg)
	r.mu.Unlock()
}

// remove drops seg from the index and releases its buffer. The caller holds
// seg's exclusive lock and has set freed.
func (r *Region) remove(seg *Segment) {
	r.mu.Lock()
	if cur, ok := r.segments.Get(seg.base); ok && cur == seg {
		r.segments.Delete(seg.base)
	}
	r.mu.Unlock()

	if err := r.alloc.Release(seg.buf); err != nil {
		logger.Warn("release segment", "region", r.id.String(), "base", uintptr(seg.base), "err", err)
	}
}
