// Package workload drives a Region with a concurrent bank workload and
// verifies the transactional guarantees from the outside.
//
// Accounts live in a chain of equally sized segments starting at the
// region's initial segment. Workers mix three kinds of transactions:
//
//   - audit: read-only; sums every account and fails on a negative balance
//     or a total other than InitBalance times the account count
//   - resize: adds or removes the last account, allocating or freeing the
//     tail segment as needed
//   - transfer: moves one unit between two random accounts
//
// A separate Check mode has all workers decrement one shared counter in
// lock step and verifies that it reaches zero without ever growing.
//
// Typical use:
//
//	cfg := workload.DefaultBankConfig()
//	cfg.Workers = 8
//	rep, err := workload.RunBank(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	if !rep.OK() {
//	    // rep.Violations describes what broke
//	}
package workload
