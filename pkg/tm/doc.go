// Package tm exposes the transactional memory manager through opaque
// handles, the shape expected by harnesses that drive an STM library as a
// flat set of functions.
//
// Regions and transactions are referred to by Shared and Tx values. Zero
// (InvalidShared, InvalidTx) is never a valid handle. A Tx handle becomes
// invalid as soon as End is called or any operation returns false or Abort;
// using it afterwards is a no-op that returns false.
//
//	shared := tm.Create(64, 8)
//	defer tm.Destroy(shared)
//
//	tx := tm.Begin(shared, false)
//	if !tm.Write(shared, tx, payload, 8, tm.Start(shared)) {
//	    // aborted: retry with a new transaction
//	}
//	tm.End(shared, tx)
//
// Package stm offers the same functionality with Go error values and is the
// better fit for new Go code.
package tm
