package undo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockBudget is a test implementation of Budget.
type mockBudget struct {
	limit int
	used  int
}

func (m *mockBudget) Reserve(n int) error {
	if m.used+n > m.limit {
		return errors.New("budget exhausted")
	}
	m.used += n
	return nil
}

func (m *mockBudget) Unreserve(n int) {
	m.used -= n
}

func TestLog_RollbackRestoresEarliestPreImage(t *testing.T) {
	shared := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	log := NewLog(nil)

	require.NoError(t, log.Push(0x1000, shared[:4]))
	copy(shared[:4], []byte{1, 1, 1, 1})

	require.NoError(t, log.Push(0x1000, shared[:4]))
	copy(shared[:4], []byte{2, 2, 2, 2})

	require.NoError(t, log.Push(0x1002, shared[2:6]))
	copy(shared[2:6], []byte{3, 3, 3, 3})

	require.Equal(t, []byte{2, 2, 3, 3, 3, 3, 0, 0}, shared)
	require.Equal(t, 3, log.Len())
	require.Equal(t, 12, log.Bytes())

	log.Rollback()

	require.Equal(t, make([]byte, 8), shared)
	require.Zero(t, log.Len())
	require.Zero(t, log.Bytes())
}

func TestLog_DiscardKeepsWrites(t *testing.T) {
	shared := []byte{9, 9}
	log := NewLog(nil)
	require.NoError(t, log.Push(0x10, shared))
	shared[0], shared[1] = 7, 7

	log.Discard()

	require.Equal(t, []byte{7, 7}, shared)
	require.Zero(t, log.Len())
}

func TestLog_RecordsNewestFirst(t *testing.T) {
	a, b := make([]byte, 1), make([]byte, 1)
	log := NewLog(nil)
	require.NoError(t, log.Push(0xa, a))
	require.NoError(t, log.Push(0xb, b))

	recs := log.Records()
	require.Len(t, recs, 2)
	require.Equal(t, uintptr(0xb), recs[0].Addr)
	require.Equal(t, uintptr(0xa), recs[1].Addr)
}

func TestLog_BudgetCharging(t *testing.T) {
	budget := &mockBudget{limit: 8}
	log := NewLog(budget)
	shared := make([]byte, 16)

	require.NoError(t, log.Push(0x0, shared[:8]))
	require.Equal(t, 8, budget.used)

	err := log.Push(0x8, shared[8:])
	require.ErrorIs(t, err, ErrNoMemory)
	require.Equal(t, 1, log.Len(), "failed push must not record")

	log.Rollback()
	require.Zero(t, budget.used)
}
