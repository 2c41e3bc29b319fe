package stm

import (
	"context"
	"errors"
	"runtime"
)

// Atomically runs fn in a fresh transaction until it commits.
//
// Only ErrConflict aborts, which another transaction causes, are retried.
// Every other abort, such as ErrInvalidAddress or ErrReadOnly, fails the same
// way on each attempt and is returned unchanged. ErrUseAfterFree is not
// retried either: a retry re-resolves the address and the freed segment is
// gone from the region. If fn swallows an abort and returns nil, the abort's
// cause decides as above; if fn rolled the transaction back itself, Atomically
// returns nil. Any non-abort error rolls the transaction back and is returned
// unchanged. The context is checked before every attempt.
func (r *Region) Atomically(ctx context.Context, readOnly bool, fn func(tx *Tx) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx, err := r.Begin(readOnly)
		if err != nil {
			return err
		}

		err = fn(tx)
		switch {
		case err == nil && tx.committed:
			return nil
		case err == nil && !tx.Done():
			return tx.Commit()
		case err == nil && tx.aborted == nil:
			return nil
		case err == nil:
			err = tx.aborted
		}

		if !tx.Done() {
			_ = tx.Rollback()
		}
		if !retryable(err) {
			return err
		}
		// Let the conflicting holder make progress before retrying.
		runtime.Gosched()
	}
}

// retryable reports whether err is an abort another transaction caused.
func retryable(err error) bool {
	return IsAbort(err) && errors.Is(err, ErrConflict)
}
