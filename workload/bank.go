package workload

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshuapare/stmkit/internal/logger"
	"github.com/joshuapare/stmkit/stm"
)

// ErrViolation is wrapped by every error that reports a broken transactional
// guarantee.
var ErrViolation = errors.New("workload: violated")

var (
	errInitConsistency = fmt.Errorf("%w consistency (committed writes must be visible to later transactions)", ErrViolation)
	errAudit           = fmt.Errorf("%w isolation or atomicity", ErrViolation)
	errCounter         = fmt.Errorf("%w consistency, isolation or atomicity", ErrViolation)
	errFinalCounter    = fmt.Errorf("%w consistency", ErrViolation)
	errChain           = fmt.Errorf("%w segment chain (emptied segment has no predecessor)", ErrViolation)
)

// checkTxPerWorker is the number of decrements each worker makes in Check.
const checkTxPerWorker = 100

// Bank is a set of accounts spread over a linked chain of segments. Money
// only moves between accounts, so an audit must always find
// InitBalance*count in total.
type Bank struct {
	cfg    BankConfig
	region *stm.Region
	sync   *barrier
}

// NewBank creates the shared region for cfg. Call Init before Run.
func NewBank(cfg BankConfig) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.Region
	r, err := stm.CreateWithOptions(segmentSize(cfg.Accounts), segmentAlign, &opts)
	if err != nil {
		return nil, fmt.Errorf("workload: create region: %w", err)
	}
	return &Bank{
		cfg:    cfg,
		region: r,
		sync:   newBarrier(cfg.Workers),
	}, nil
}

// Region returns the bank's shared region.
func (b *Bank) Region() *stm.Region {
	return b.region
}

// Config returns the bank's configuration.
func (b *Bank) Config() BankConfig {
	return b.cfg
}

// Close destroys the region. No worker may be running.
func (b *Bank) Close() {
	b.region.Destroy()
}

// Init (re)initializes the accounts of the initial segment and frees any
// segment chained after it.
func (b *Bank) Init(ctx context.Context) error {
	start := b.region.Start()
	err := b.region.Atomically(ctx, false, func(tx *stm.Tx) error {
		v := &view{tx: tx}
		seg, err := v.next(start)
		if err != nil {
			return err
		}
		for seg != 0 {
			next, err := v.next(seg)
			if err != nil {
				return err
			}
			if err := tx.Free(seg); err != nil {
				return err
			}
			seg = next
		}

		if err := v.setNext(start, 0); err != nil {
			return err
		}
		if err := v.setParity(start, 0); err != nil {
			return err
		}
		if err := v.setCount(start, b.cfg.Accounts); err != nil {
			return err
		}
		for i := range b.cfg.Accounts {
			if err := v.setBalance(accountAddr(start, i), b.cfg.InitBalance); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var first int64
	err = b.region.Atomically(ctx, true, func(tx *stm.Tx) error {
		v := &view{tx: tx}
		var err error
		first, err = v.balance(accountAddr(start, 0))
		return err
	})
	if err != nil {
		return err
	}
	if first != b.cfg.InitBalance {
		return errInitConsistency
	}
	return nil
}

// Run is one worker's full run: TxPerWorker random transactions followed by
// a final audit. uid must be unique among concurrent workers.
func (b *Bank) Run(ctx context.Context, uid int, seed uint64) error {
	rng := newSource(seed, uint64(uid))
	count := b.cfg.Accounts

	for range b.cfg.TxPerWorker {
		switch {
		case rng.bernoulli(b.cfg.ProbLong):
			n, ok, err := b.audit(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errAudit
			}
			count = n
		case rng.bernoulli(b.cfg.ProbAlloc):
			trigger := int(rng.gamma(float64(b.cfg.ExpectedAccounts)))
			if err := b.resize(ctx, trigger); err != nil {
				return err
			}
		default:
			for {
				ok, total, err := b.transfer(ctx, rng.index(count), rng.index(count))
				if err != nil {
					return err
				}
				if ok {
					break
				}
				count = total
			}
		}
	}

	if _, ok, err := b.audit(ctx); err != nil {
		return err
	} else if !ok {
		return errAudit
	}
	return nil
}

// Check is a counter test independent of the account data: the workers
// decrement a shared counter that never may grow between two of their own
// observations. Exactly Workers goroutines must call Check together; it
// overwrites the bank's state, so Init again before Run.
func (b *Bank) Check(ctx context.Context, uid int) error {
	start := b.region.Start()

	// Every worker passes the barrier three times, even on early return.
	waits := 0
	arrive := func() {
		b.sync.wait()
		waits++
	}
	defer func() {
		for waits < 3 {
			arrive()
		}
	}()

	arrive()
	if uid == 0 {
		initial := uint64(checkTxPerWorker * b.cfg.Workers)
		if err := b.region.Atomically(ctx, false, func(tx *stm.Tx) error {
			v := &view{tx: tx}
			return v.store(start, initial)
		}); err != nil {
			return err
		}
		got, err := b.counter(ctx)
		if err != nil {
			return err
		}
		if got != initial {
			return errInitConsistency
		}
	}
	arrive()

	for range checkTxPerWorker {
		last, err := b.counter(ctx)
		if err != nil {
			return err
		}
		ok := true
		err = b.region.Atomically(ctx, false, func(tx *stm.Tx) error {
			v := &view{tx: tx}
			value, err := v.load(start)
			if err != nil {
				return err
			}
			if ok = value <= last; !ok {
				return nil
			}
			return v.store(start, value-1)
		})
		if err != nil {
			return err
		}
		if !ok {
			return errCounter
		}
	}
	arrive()

	if uid == 0 {
		got, err := b.counter(ctx)
		if err != nil {
			return err
		}
		if got != 0 {
			return errFinalCounter
		}
	}
	return nil
}

func (b *Bank) counter(ctx context.Context) (uint64, error) {
	var value uint64
	err := b.region.Atomically(ctx, true, func(tx *stm.Tx) error {
		v := &view{tx: tx}
		var err error
		value, err = v.load(b.region.Start())
		return err
	})
	return value, err
}

// audit sums every account in one read-only transaction. It reports the
// account count and whether the sum matched.
func (b *Bank) audit(ctx context.Context) (count int, ok bool, err error) {
	err = b.region.Atomically(ctx, true, func(tx *stm.Tx) error {
		v := &view{tx: tx}
		count, ok = 0, false
		var sum int64

		for seg := b.region.Start(); seg != 0; {
			n, err := v.count(seg)
			if err != nil {
				return err
			}
			parity, err := v.parity(seg)
			if err != nil {
				return err
			}
			count += n
			sum += parity
			for i := range n {
				bal, err := v.balance(accountAddr(seg, i))
				if err != nil {
					return err
				}
				if bal < 0 {
					return nil
				}
				sum += bal
			}
			if seg, err = v.next(seg); err != nil {
				return err
			}
		}

		ok = sum == b.cfg.InitBalance*int64(count)
		return nil
	})
	return count, ok, err
}

// resize adds an account when the bank has at most trigger accounts and
// removes the last one otherwise. The bank never shrinks below two accounts.
func (b *Bank) resize(ctx context.Context, trigger int) error {
	return b.region.Atomically(ctx, false, func(tx *stm.Tx) error {
		v := &view{tx: tx}
		var (
			prev  stm.Addr
			seg   = b.region.Start()
			total int
		)
		for {
			n, err := v.count(seg)
			if err != nil {
				return err
			}
			total += n
			next, err := v.next(seg)
			if err != nil {
				return err
			}
			if next != 0 {
				prev, seg = seg, next
				continue
			}

			if total > trigger && total > 2 {
				return b.shrink(v, prev, seg, n)
			}
			return b.grow(v, seg, n)
		}
	})
}

// shrink removes the last account of the last segment seg, folding its
// balance into the parity. An emptied segment is freed.
func (b *Bank) shrink(v *view, prev, seg stm.Addr, n int) error {
	n--
	parity, err := v.parity(seg)
	if err != nil {
		return err
	}
	last, err := v.balance(accountAddr(seg, n))
	if err != nil {
		return err
	}
	parity += last - b.cfg.InitBalance

	if n > 0 {
		if err := v.setCount(seg, n); err != nil {
			return err
		}
		return v.setParity(seg, parity)
	}

	if prev == 0 {
		return errChain
	}
	prevParity, err := v.parity(prev)
	if err != nil {
		return err
	}
	if err := v.tx.Free(seg); err != nil {
		return err
	}
	if err := v.setNext(prev, 0); err != nil {
		return err
	}
	return v.setParity(prev, prevParity+parity)
}

// grow appends an account to the last segment seg, chaining a new segment
// when seg is full.
func (b *Bank) grow(v *view, seg stm.Addr, n int) error {
	if n < b.cfg.Accounts {
		if err := v.setBalance(accountAddr(seg, n), b.cfg.InitBalance); err != nil {
			return err
		}
		return v.setCount(seg, n+1)
	}

	fresh, err := v.tx.Alloc(segmentSize(b.cfg.Accounts))
	if err != nil {
		if stm.IsAbort(err) {
			return err
		}
		// Out of memory: leave the bank as it is.
		logger.Debug("bank grow skipped", "error", err)
		return nil
	}
	if err := v.setNext(seg, fresh); err != nil {
		return err
	}
	if err := v.setCount(fresh, 1); err != nil {
		return err
	}
	return v.setBalance(accountAddr(fresh, 0), b.cfg.InitBalance)
}

// transfer moves one unit from account send to account recv (possibly the
// same) when the sender has funds. ok is false when either account does not
// exist; total is then the current number of accounts.
func (b *Bank) transfer(ctx context.Context, send, recv int) (ok bool, total int, err error) {
	err = b.region.Atomically(ctx, false, func(tx *stm.Tx) error {
		v := &view{tx: tx}
		ok, total = false, 0
		var (
			sendAt, recvAt stm.Addr
			s, r           = send, recv
		)

		for seg := b.region.Start(); seg != 0; {
			n, err := v.count(seg)
			if err != nil {
				return err
			}
			total += n
			if sendAt == 0 {
				if s < n {
					sendAt = accountAddr(seg, s)
				} else {
					s -= n
				}
			}
			if recvAt == 0 {
				if r < n {
					recvAt = accountAddr(seg, r)
				} else {
					r -= n
				}
			}
			if sendAt != 0 && recvAt != 0 {
				break
			}
			if seg, err = v.next(seg); err != nil {
				return err
			}
		}
		if sendAt == 0 || recvAt == 0 {
			return nil
		}
		ok = true

		bal, err := v.balance(sendAt)
		if err != nil {
			return err
		}
		if bal <= 0 {
			return nil
		}
		if err := v.setBalance(sendAt, bal-1); err != nil {
			return err
		}
		got, err := v.balance(recvAt)
		if err != nil {
			return err
		}
		return v.setBalance(recvAt, got+1)
	})
	return ok, total, err
}
