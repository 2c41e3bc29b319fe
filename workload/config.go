package workload

import (
	"errors"
	"fmt"

	"github.com/joshuapare/stmkit/stm"
)

// BankConfig parameterizes the bank workload.
type BankConfig struct {
	// Workers is the number of concurrent goroutines for Run and Check.
	// Default: 4
	Workers int

	// TxPerWorker is the number of transactions each worker runs.
	// Default: 10000
	TxPerWorker int

	// Accounts is the initial number of accounts, and the number of account
	// slots in every segment.
	// Default: 32
	Accounts int

	// ExpectedAccounts is the mean of the gamma distribution that decides
	// whether an allocation transaction grows or shrinks the bank.
	// Default: 64
	ExpectedAccounts int

	// InitBalance is the starting balance of every account.
	// Default: 100
	InitBalance int64

	// ProbLong is the probability of a read-only audit transaction.
	// Default: 0.5
	ProbLong float64

	// ProbAlloc is the probability of an account (de)allocation, given that
	// no audit runs.
	// Default: 0.01
	ProbAlloc float64

	// Seed derives every worker's random stream.
	// Default: 1
	Seed uint64

	// Region configures the shared region.
	Region stm.Options
}

// DefaultBankConfig returns a balanced mix of audits, transfers and
// (de)allocations.
func DefaultBankConfig() BankConfig {
	return BankConfig{
		Workers:          4,
		TxPerWorker:      10000,
		Accounts:         32,
		ExpectedAccounts: 64,
		InitBalance:      100,
		ProbLong:         0.5,
		ProbAlloc:        0.01,
		Seed:             1,
		Region:           *stm.DefaultOptions(),
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("workload: invalid config")

// Validate reports the first out-of-range field.
func (c BankConfig) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.TxPerWorker < 0:
		return fmt.Errorf("%w: negative transactions per worker", ErrInvalidConfig)
	case c.Accounts < 1:
		return fmt.Errorf("%w: accounts must be at least 1, got %d", ErrInvalidConfig, c.Accounts)
	case c.ExpectedAccounts < 1:
		return fmt.Errorf("%w: expected accounts must be at least 1", ErrInvalidConfig)
	case c.InitBalance < 0:
		return fmt.Errorf("%w: negative initial balance", ErrInvalidConfig)
	case c.ProbLong < 0 || c.ProbLong > 1:
		return fmt.Errorf("%w: prob-long %v outside [0,1]", ErrInvalidConfig, c.ProbLong)
	case c.ProbAlloc < 0 || c.ProbAlloc > 1:
		return fmt.Errorf("%w: prob-alloc %v outside [0,1]", ErrInvalidConfig, c.ProbAlloc)
	}
	return nil
}
