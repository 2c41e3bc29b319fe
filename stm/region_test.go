package stm

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newTestRegion creates a region and destroys it when the test ends.
func newTestRegion(t *testing.T, size, align int, opts *Options) *Region {
	t.Helper()
	r, err := CreateWithOptions(size, align, opts)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r
}

// -----------------------------------------------------------------------------
// Create / accessors
// -----------------------------------------------------------------------------

func TestCreate_Accessors(t *testing.T) {
	r := newTestRegion(t, 64, 8, nil)

	require.Equal(t, 64, r.Size())
	require.Equal(t, 8, r.Align())
	require.NotZero(t, r.Start())
	require.Zero(t, uintptr(r.Start())%8)
	require.Equal(t, 1, r.Segments())
	require.NotEqual(t, uuid.Nil, r.ID())
}

func TestCreate_InitialSegmentZeroed(t *testing.T) {
	for _, backing := range []Backing{BackingHeap, BackingMmap} {
		r := newTestRegion(t, 4096, 64, &Options{Backing: backing})
		for i, b := range r.initial.data {
			require.Zero(t, b, "backing=%s byte %d", backing, i)
		}
		require.Zero(t, uintptr(r.Start())%64)
	}
}

func TestCreate_RejectsBadArguments(t *testing.T) {
	_, err := Create(64, 0)
	require.ErrorIs(t, err, ErrBadAlignment)

	_, err = Create(64, 12)
	require.ErrorIs(t, err, ErrBadAlignment)

	_, err = Create(8, 1<<40)
	require.ErrorIs(t, err, ErrBadAlignment)

	_, err = Create(MaxAlign*2, MaxAlign*2)
	require.ErrorIs(t, err, ErrBadAlignment)

	_, err = Create(0, 8)
	require.ErrorIs(t, err, ErrBadSize)

	_, err = Create(60, 8)
	require.ErrorIs(t, err, ErrBadSize)
}

func TestCreate_OutOfMemory(t *testing.T) {
	_, err := CreateWithOptions(256, 8, &Options{MemoryLimit: 128})
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestDestroy_Idempotent(t *testing.T) {
	r, err := Create(64, 8)
	require.NoError(t, err)

	r.Destroy()
	r.Destroy()

	require.Zero(t, r.Segments())
	require.Zero(t, r.MemoryInUse())

	_, err = r.Begin(false)
	require.ErrorIs(t, err, ErrRegionDestroyed)
}

// -----------------------------------------------------------------------------
// Address resolution
// -----------------------------------------------------------------------------

func TestResolve_RangeContainment(t *testing.T) {
	r := newTestRegion(t, 64, 8, nil)
	start := r.Start()

	require.Same(t, r.initial, r.resolve(start))
	require.Same(t, r.initial, r.resolve(start+63))
	require.Nil(t, r.resolve(start+64), "one past the end must not resolve")
	require.Nil(t, r.resolve(start-1), "below the base must not resolve")
	require.Nil(t, r.resolve(0))
}

func TestResolve_ManySegments(t *testing.T) {
	r := newTestRegion(t, 8, 8, nil)

	tx, err := r.Begin(false)
	require.NoError(t, err)

	var bases []Addr
	for i := 1; i <= 16; i++ {
		p, err := tx.Alloc(8 * i)
		require.NoError(t, err)
		bases = append(bases, p)
	}
	require.NoError(t, tx.Commit())

	for i, p := range bases {
		size := 8 * (i + 1)
		seg := r.resolve(p)
		require.NotNil(t, seg)
		require.Equal(t, p, seg.Base())
		require.Same(t, seg, r.resolve(p+Addr(size-1)))
		require.Same(t, seg, r.lookupBase(p))
		if size > 8 {
			require.Nil(t, r.lookupBase(p+8), "lookupBase requires an exact base")
		}
	}
}

func TestSegments_AlignedAndDisjoint(t *testing.T) {
	for _, backing := range []Backing{BackingHeap, BackingMmap} {
		r := newTestRegion(t, 32, 32, &Options{Backing: backing})

		tx, err := r.Begin(false)
		require.NoError(t, err)
		for i := 1; i <= 32; i++ {
			_, err := tx.Alloc(32 * (i%5 + 1))
			require.NoError(t, err)
		}
		require.NoError(t, tx.Commit())

		var segs []*Segment
		r.segments.Scan(func(_ Addr, s *Segment) bool {
			segs = append(segs, s)
			return true
		})
		require.Len(t, segs, 33)

		for i, a := range segs {
			require.Zero(t, uintptr(a.Base())%32, "segment %d misaligned", i)
			require.Zero(t, a.Size()%32)
			for j := i + 1; j < len(segs); j++ {
				b := segs[j]
				disjoint := a.End() <= b.Base() || b.End() <= a.Base()
				require.True(t, disjoint, "segments %d and %d overlap", i, j)
			}
		}
	}
}

func TestAbortError_Unwrap(t *testing.T) {
	err := error(&AbortError{Op: "write", Addr: 0x40, Err: ErrConflict})
	require.True(t, errors.Is(err, ErrConflict))
	require.True(t, IsAbort(err))
	require.False(t, IsAbort(ErrConflict))
	require.Contains(t, err.Error(), "write at 0x40")

	err = &AbortError{Op: "alloc", Err: ErrReadOnly}
	require.Equal(t, "stm: alloc aborted: stm: transaction is read-only", err.Error())
}
