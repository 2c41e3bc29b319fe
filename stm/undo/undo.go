// Package undo records the pre-images of in-place writes so that a
// transaction can put shared memory back the way it found it.
//
// A Log is private to one transaction and is NOT thread-safe. Records are
// restored newest first, so when the same bytes are overwritten several times
// the earliest pre-image is the one that survives a rollback.
package undo

import "errors"

// defaultRecordCapacity is the pre-allocated capacity for records.
const defaultRecordCapacity = 16

// ErrNoMemory indicates the pre-image could not be charged to the budget.
var ErrNoMemory = errors.New("undo: out of memory for pre-image")

// Budget accounts for pre-image bytes. memory.Allocator satisfies it.
type Budget interface {
	Reserve(n int) error
	Unreserve(n int)
}

// Record is the pre-image of one write.
type Record struct {
	Addr uintptr // Shared address the write targeted
	Dst  []byte  // Shared bytes that were overwritten
	Old  []byte  // Copy of Dst taken before the write
}

// Log accumulates records for one transaction.
type Log struct {
	budget  Budget
	records []Record
	bytes   int
}

// NewLog creates an empty log. budget may be nil.
func NewLog(budget Budget) *Log {
	return &Log{
		budget:  budget,
		records: make([]Record, 0, defaultRecordCapacity),
	}
}

// Push snapshots dst before the caller overwrites it.
//
// dst must be the exact shared window about to be written. On error nothing
// is recorded and dst must not be written.
func (l *Log) Push(addr uintptr, dst []byte) error {
	if l.budget != nil {
		if err := l.budget.Reserve(len(dst)); err != nil {
			return errors.Join(ErrNoMemory, err)
		}
	}
	old := make([]byte, len(dst))
	copy(old, dst)
	l.records = append(l.records, Record{Addr: addr, Dst: dst, Old: old})
	l.bytes += len(dst)
	return nil
}

// Rollback restores every pre-image, newest first, then empties the log.
func (l *Log) Rollback() {
	for i := len(l.records) - 1; i >= 0; i-- {
		r := &l.records[i]
		copy(r.Dst, r.Old)
	}
	l.Discard()
}

// Discard drops every record without restoring anything.
func (l *Log) Discard() {
	if l.budget != nil && l.bytes > 0 {
		l.budget.Unreserve(l.bytes)
	}
	clear(l.records)
	l.records = l.records[:0]
	l.bytes = 0
}

// Len returns the number of records.
func (l *Log) Len() int {
	return len(l.records)
}

// Bytes returns the total size of all pre-images.
func (l *Log) Bytes() int {
	return l.bytes
}

// Records returns the records newest first (for testing/debugging).
func (l *Log) Records() []Record {
	out := make([]Record, len(l.records))
	for i, r := range l.records {
		out[len(l.records)-1-i] = r
	}
	return out
}
