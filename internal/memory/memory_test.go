package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlloc_AlignedAndZeroed(t *testing.T) {
	for _, kind := range []Kind{Heap, Mmap} {
		for _, align := range []int{1, 8, 64, 4096, 8192} {
			a := NewAllocator(kind, 0)
			buf, err := a.Alloc(3*align, align)
			require.NoError(t, err, "kind=%s align=%d", kind, align)
			require.Len(t, buf.Data, 3*align)
			require.Zero(t, buf.Addr()%uintptr(align), "kind=%s align=%d", kind, align)
			for i, b := range buf.Data {
				require.Zero(t, b, "byte %d not zero", i)
			}
			require.Equal(t, int64(3*align), a.InUse())
			require.NoError(t, a.Release(buf))
			require.Zero(t, a.InUse())
		}
	}
}

func TestAlloc_RejectsBadAlignment(t *testing.T) {
	a := NewAllocator(Heap, 0)
	for _, align := range []int{0, -8, 3, 12, MaxAlign * 2, 1 << 40} {
		_, err := a.Alloc(64, align)
		require.ErrorIs(t, err, ErrBadAlignment, "align=%d", align)
	}
}

func TestAlloc_BudgetExhaustion(t *testing.T) {
	a := NewAllocator(Heap, 128)

	first, err := a.Alloc(96, 8)
	require.NoError(t, err)

	_, err = a.Alloc(64, 8)
	require.True(t, errors.Is(err, ErrNoMemory))
	require.Equal(t, int64(96), a.InUse(), "failed alloc must not charge the budget")

	require.NoError(t, a.Release(first))
	second, err := a.Alloc(128, 8)
	require.NoError(t, err)
	require.NoError(t, a.Release(second))
}

func TestReserve_Unreserve(t *testing.T) {
	a := NewAllocator(Heap, 16)
	require.NoError(t, a.Reserve(16))
	require.ErrorIs(t, a.Reserve(1), ErrNoMemory)
	a.Unreserve(8)
	require.NoError(t, a.Reserve(8))
	require.Error(t, a.Reserve(-1))
}

func TestRelease_Twice(t *testing.T) {
	a := NewAllocator(Mmap, 0)
	buf, err := a.Alloc(64, 8)
	require.NoError(t, err)
	require.NoError(t, a.Release(buf))
	require.NoError(t, a.Release(buf))
	require.Zero(t, a.InUse())
	require.NoError(t, a.Release(nil))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("mmap")
	require.NoError(t, err)
	require.Equal(t, Mmap, k)
	require.Equal(t, "mmap", k.String())

	k, err = ParseKind("")
	require.NoError(t, err)
	require.Equal(t, Heap, k)

	_, err = ParseKind("shm")
	require.Error(t, err)
}
