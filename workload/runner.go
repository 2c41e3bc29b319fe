package workload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joshuapare/stmkit/internal/logger"
	"github.com/joshuapare/stmkit/stm"
)

// Report summarizes one Run or Check across all workers.
type Report struct {
	Mode         string        `json:"mode"`
	RegionID     string        `json:"region_id"`
	Workers      int           `json:"workers"`
	Transactions int           `json:"transactions"` // requested, excluding retries
	Duration     time.Duration `json:"duration_ns"`
	Accounts     int           `json:"accounts"` // after the run
	Segments     int           `json:"segments"` // after the run
	MemoryInUse  int64         `json:"memory_in_use"`
	Stats        stm.Stats     `json:"stats"`
	Violations   []string      `json:"violations,omitempty"`
}

// OK reports whether no worker found a violation.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Throughput returns committed transactions per second.
func (r *Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Stats.Commits) / r.Duration.Seconds()
}

// RunBank initializes a bank and runs cfg.Workers workers over it.
// Violations are reported in the Report; the error is for everything else.
func RunBank(ctx context.Context, cfg BankConfig) (*Report, error) {
	b, err := NewBank(cfg)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if err := b.Init(ctx); err != nil {
		if errors.Is(err, ErrViolation) {
			return b.report("run", 0, []string{err.Error()}), nil
		}
		return nil, err
	}

	rep, err := b.execute(ctx, "run", func(ctx context.Context, uid int) error {
		return b.Run(ctx, uid, cfg.Seed)
	})
	if err != nil {
		return nil, err
	}
	if n, _, err := b.audit(ctx); err == nil {
		rep.Accounts = n
	}
	return rep, nil
}

// CheckBank runs the counter check with cfg.Workers workers.
func CheckBank(ctx context.Context, cfg BankConfig) (*Report, error) {
	b, err := NewBank(cfg)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	return b.execute(ctx, "check", b.Check)
}

// execute runs fn on every worker and collects the outcome.
func (b *Bank) execute(ctx context.Context, mode string, fn func(ctx context.Context, uid int) error) (*Report, error) {
	logger.Info("bank workload starting",
		"mode", mode,
		"region", b.region.ID(),
		"workers", b.cfg.Workers,
		"backing", b.cfg.Region.Backing,
	)

	errs := make([]error, b.cfg.Workers)
	begin := time.Now()

	var wg sync.WaitGroup
	for uid := range b.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[uid] = fn(ctx, uid)
			if errs[uid] != nil {
				logger.Warn("bank worker failed", "mode", mode, "uid", uid, "error", errs[uid])
			} else if logger.DebugEnabled() {
				logger.Debug("bank worker done", "mode", mode, "uid", uid)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(begin)

	var violations []string
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, ErrViolation):
			violations = append(violations, err.Error())
		default:
			return nil, err
		}
	}

	rep := b.report(mode, elapsed, violations)
	logger.Info("bank workload finished",
		"mode", mode,
		"duration", elapsed,
		"commits", rep.Stats.Commits,
		"aborts", rep.Stats.Aborts,
		"violations", len(violations),
	)
	return rep, nil
}

func (b *Bank) report(mode string, elapsed time.Duration, violations []string) *Report {
	txs := b.cfg.Workers * b.cfg.TxPerWorker
	if mode == "check" {
		txs = b.cfg.Workers * checkTxPerWorker
	}
	return &Report{
		Mode:         mode,
		RegionID:     b.region.ID().String(),
		Workers:      b.cfg.Workers,
		Transactions: txs,
		Duration:     elapsed,
		Accounts:     b.cfg.Accounts,
		Segments:     b.region.Segments(),
		MemoryInUse:  b.region.MemoryInUse(),
		Stats:        b.region.Stats(),
		Violations:   violations,
	}
}
