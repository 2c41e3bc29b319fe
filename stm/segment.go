package stm

import (
	"sync"

	"github.com/joshuapare/stmkit/internal/memory"
)

// Addr is a byte address inside a region. Addresses are only ever translated
// into offsets of a segment buffer; they are never dereferenced.
type Addr uintptr

// Segment is one contiguous aligned block of shared memory and the unit of
// locking.
//
// base, size and data never change after construction. freed is only read or
// written while lock is held.
type Segment struct {
	base Addr
	size int
	data []byte
	buf  *memory.Buffer

	lock  sync.RWMutex
	freed bool
}

func newSegment(buf *memory.Buffer) *Segment {
	return &Segment{
		base: Addr(buf.Addr()),
		size: len(buf.Data),
		data: buf.Data,
		buf:  buf,
	}
}

// Base returns the address of the first byte.
func (s *Segment) Base() Addr {
	return s.base
}

// Size returns the length in bytes.
func (s *Segment) Size() int {
	return s.size
}

// End returns the first address past the segment.
func (s *Segment) End() Addr {
	return s.base + Addr(s.size)
}

// Contains reports whether p lies in [base, base+size).
func (s *Segment) Contains(p Addr) bool {
	return p >= s.base && p < s.End()
}

// span returns the shared window [p, p+n) when it lies entirely inside the
// segment.
func (s *Segment) span(p Addr, n int) ([]byte, bool) {
	if !s.Contains(p) || n <= 0 {
		return nil, false
	}
	off := int(p - s.base)
	if n > s.size-off {
		return nil, false
	}
	return s.data[off : off+n : off+n], true
}
