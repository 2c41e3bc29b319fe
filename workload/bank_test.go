package workload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/stmkit/internal/testutil"
	"github.com/joshuapare/stmkit/stm"
)

func smallConfig() BankConfig {
	cfg := DefaultBankConfig()
	cfg.Workers = 4
	cfg.TxPerWorker = 300
	cfg.Accounts = 8
	cfg.ExpectedAccounts = 12
	cfg.ProbAlloc = 0.2
	return cfg
}

func newTestBank(t *testing.T, cfg BankConfig) *Bank {
	t.Helper()
	b, err := NewBank(cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	require.NoError(t, b.Init(context.Background()))
	return b
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultBankConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*BankConfig)
	}{
		{"no workers", func(c *BankConfig) { c.Workers = 0 }},
		{"negative txs", func(c *BankConfig) { c.TxPerWorker = -1 }},
		{"no accounts", func(c *BankConfig) { c.Accounts = 0 }},
		{"no expected accounts", func(c *BankConfig) { c.ExpectedAccounts = 0 }},
		{"negative balance", func(c *BankConfig) { c.InitBalance = -5 }},
		{"prob-long above one", func(c *BankConfig) { c.ProbLong = 1.5 }},
		{"prob-alloc negative", func(c *BankConfig) { c.ProbAlloc = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBankConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

			_, err := NewBank(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestBank_InitLayout(t *testing.T) {
	cfg := smallConfig()
	b := newTestBank(t, cfg)

	r := b.Region()
	require.Equal(t, segmentSize(cfg.Accounts), r.Size())
	require.Equal(t, segmentAlign, r.Align())

	n, ok, err := b.audit(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cfg.Accounts, n)
}

func TestBank_TransferPreservesTotal(t *testing.T) {
	cfg := smallConfig()
	b := newTestBank(t, cfg)
	ctx := context.Background()

	ok, _, err := b.transfer(ctx, 0, 1)
	require.NoError(t, err)
	require.True(t, ok)

	tx, err := b.Region().Begin(true)
	require.NoError(t, err)
	v := &view{tx: tx}
	from, err := v.balance(accountAddr(b.Region().Start(), 0))
	require.NoError(t, err)
	to, err := v.balance(accountAddr(b.Region().Start(), 1))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, cfg.InitBalance-1, from)
	assert.Equal(t, cfg.InitBalance+1, to)

	ok, total, err := b.transfer(ctx, 0, cfg.Accounts)
	require.NoError(t, err)
	require.False(t, ok, "receiver does not exist")
	require.Equal(t, cfg.Accounts, total)

	_, good, err := b.audit(ctx)
	require.NoError(t, err)
	require.True(t, good)
}

func TestBank_TransferNeedsFunds(t *testing.T) {
	cfg := smallConfig()
	cfg.InitBalance = 0
	b := newTestBank(t, cfg)

	ok, _, err := b.transfer(context.Background(), 0, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, good, err := b.audit(context.Background())
	require.NoError(t, err)
	require.True(t, good)
}

func TestBank_ResizeChainsAndFreesSegments(t *testing.T) {
	cfg := smallConfig()
	cfg.Accounts = 2
	b := newTestBank(t, cfg)
	ctx := context.Background()

	// Full initial segment: growing chains a second one.
	require.NoError(t, b.resize(ctx, 100))
	require.Equal(t, 2, b.Region().Segments())
	n, ok, err := b.audit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, n)

	// Emptying the tail segment frees it and unlinks it.
	require.NoError(t, b.resize(ctx, 0))
	require.Equal(t, 1, b.Region().Segments())
	n, ok, err = b.audit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, n)

	// Two accounts is the floor.
	require.NoError(t, b.resize(ctx, 0))
	n, _, err = b.audit(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n, "a bank of two grows instead of shrinking")
}

func TestBank_ShrinkFoldsBalanceIntoParity(t *testing.T) {
	cfg := smallConfig()
	cfg.Accounts = 3
	b := newTestBank(t, cfg)
	ctx := context.Background()

	ok, _, err := b.transfer(ctx, 0, 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.resize(ctx, 0))

	tx, err := b.Region().Begin(true)
	require.NoError(t, err)
	v := &view{tx: tx}
	parity, err := v.parity(b.Region().Start())
	require.NoError(t, err)
	count, err := v.count(b.Region().Start())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(1), parity)
	assert.Equal(t, 2, count)

	_, good, err := b.audit(ctx)
	require.NoError(t, err)
	require.True(t, good)
}

func TestBank_InitResetsChain(t *testing.T) {
	cfg := smallConfig()
	cfg.Accounts = 1
	b := newTestBank(t, cfg)
	ctx := context.Background()

	for range 4 {
		require.NoError(t, b.resize(ctx, 100))
	}
	require.Equal(t, 5, b.Region().Segments())

	require.NoError(t, b.Init(ctx))
	require.Equal(t, 1, b.Region().Segments())
	n, ok, err := b.audit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, n)
}

func TestBank_RunConcurrent(t *testing.T) {
	for _, backing := range []stm.Backing{stm.BackingHeap, stm.BackingMmap} {
		t.Run(backing.String(), func(t *testing.T) {
			cfg := smallConfig()
			cfg.Region.Backing = backing
			b := newTestBank(t, cfg)
			ctx := context.Background()

			errs := make([]error, cfg.Workers)
			testutil.RunParallel(t, cfg.Workers, func(uid int) {
				errs[uid] = b.Run(ctx, uid, 42)
			})
			for uid, err := range errs {
				require.NoError(t, err, "worker %d", uid)
			}

			_, ok, err := b.audit(ctx)
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestBank_CheckConcurrent(t *testing.T) {
	cfg := smallConfig()
	b := newTestBank(t, cfg)
	ctx := context.Background()

	errs := make([]error, cfg.Workers)
	testutil.RunParallel(t, cfg.Workers, func(uid int) {
		errs[uid] = b.Check(ctx, uid)
	})
	for uid, err := range errs {
		require.NoError(t, err, "worker %d", uid)
	}
}

func TestBank_RunCancelled(t *testing.T) {
	b := newTestBank(t, smallConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, b.Run(ctx, 0, 1), context.Canceled)
}

func TestRunBank_Report(t *testing.T) {
	cfg := smallConfig()
	rep, err := RunBank(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, rep.OK())
	assert.Equal(t, "run", rep.Mode)
	assert.Equal(t, cfg.Workers, rep.Workers)
	assert.Equal(t, cfg.Workers*cfg.TxPerWorker, rep.Transactions)
	assert.NotEmpty(t, rep.RegionID)
	assert.GreaterOrEqual(t, rep.Accounts, 2)
	assert.GreaterOrEqual(t, rep.Stats.Commits, uint64(cfg.Workers*cfg.TxPerWorker))
	assert.GreaterOrEqual(t, rep.Throughput(), 0.0)
}

func TestCheckBank_Report(t *testing.T) {
	cfg := smallConfig()
	rep, err := CheckBank(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, rep.OK())
	assert.Equal(t, "check", rep.Mode)
	assert.Equal(t, cfg.Workers*checkTxPerWorker, rep.Transactions)
}

func TestRunBank_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Workers = 0
	_, err := RunBank(context.Background(), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
