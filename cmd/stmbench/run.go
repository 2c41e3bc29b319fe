package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/stmkit/internal/memory"
	"github.com/joshuapare/stmkit/stm"
	"github.com/joshuapare/stmkit/workload"
)

// errViolation makes the process exit non-zero after the report is printed.
var errViolation = errors.New("transactional guarantees violated")

var (
	runCfg      = workload.DefaultBankConfig()
	backing     string
	useMmap     bool
	memoryLimit int64
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

// addBankFlags registers the flags shared by run and check.
func addBankFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&runCfg.Workers, "workers", runCfg.Workers, "Number of concurrent workers")
	cmd.Flags().Uint64Var(&runCfg.Seed, "seed", runCfg.Seed, "Random seed")
	cmd.Flags().StringVar(&backing, "backing", "heap", "Segment memory: heap or mmap")
	cmd.Flags().BoolVar(&useMmap, "mmap", false, "Shorthand for --backing mmap")
	cmd.Flags().Int64Var(&memoryLimit, "memory-limit", 0, "Cap on segment and undo bytes (0 = unlimited)")
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the concurrent bank workload",
		Long: `The run command creates a region holding a bank of accounts and has
every worker run a random mix of audits, transfers and account
(de)allocations. Each audit checks that no money appeared or vanished.

Example:
  stmbench run
  stmbench run --workers 16 --txs 100000 --mmap
  stmbench run --prob-long 0.1 --prob-alloc 0.05 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBank(cmd)
		},
	}
	addBankFlags(cmd)
	cmd.Flags().IntVar(&runCfg.TxPerWorker, "txs", runCfg.TxPerWorker, "Transactions per worker")
	cmd.Flags().IntVar(&runCfg.Accounts, "accounts", runCfg.Accounts, "Initial accounts, and accounts per segment")
	cmd.Flags().IntVar(&runCfg.ExpectedAccounts, "expected", runCfg.ExpectedAccounts, "Expected number of accounts")
	cmd.Flags().Int64Var(&runCfg.InitBalance, "balance", runCfg.InitBalance, "Initial account balance")
	cmd.Flags().Float64Var(&runCfg.ProbLong, "prob-long", runCfg.ProbLong, "Probability of an audit transaction")
	cmd.Flags().Float64Var(&runCfg.ProbAlloc, "prob-alloc", runCfg.ProbAlloc, "Probability of an allocation transaction")
	return cmd
}

// bankConfig applies the region flags to runCfg.
func bankConfig() (workload.BankConfig, error) {
	cfg := runCfg
	cfg.Region.MemoryLimit = memoryLimit
	kind, err := memory.ParseKind(backing)
	if err != nil {
		return cfg, err
	}
	cfg.Region.Backing = kind
	if useMmap {
		cfg.Region.Backing = stm.BackingMmap
	}
	return cfg, nil
}

func runBank(cmd *cobra.Command) error {
	cfg, err := bankConfig()
	if err != nil {
		return err
	}
	rep, err := workload.RunBank(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("bank run failed: %w", err)
	}
	return printReport(rep)
}

// printReport writes rep and turns violations into errViolation.
func printReport(rep *workload.Report) error {
	if jsonOut {
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		status := "PASS"
		if !rep.OK() {
			status = "FAIL"
		}
		printInfo("\nBank %s: %s\n", rep.Mode, status)
		printInfo("  Region:       %s\n", rep.RegionID)
		printInfo("  Workers:      %d\n", rep.Workers)
		printInfo("  Transactions: %d\n", rep.Transactions)
		printInfo("  Duration:     %s\n", rep.Duration)
		printInfo("  Commits:      %d\n", rep.Stats.Commits)
		printInfo("  Aborts:       %d (%d conflicts)\n", rep.Stats.Aborts, rep.Stats.Conflicts)
		printInfo("  Throughput:   %.0f tx/s\n", rep.Throughput())
		if rep.Mode == "run" {
			printInfo("  Accounts:     %d\n", rep.Accounts)
			printInfo("  Segments:     %d (%d allocated, %d freed)\n", rep.Segments, rep.Stats.Allocs, rep.Stats.Frees)
		}
		if rep.Stats.NoMem > 0 {
			printInfo("  Out of memory: %d\n", rep.Stats.NoMem)
		}
		for _, v := range rep.Violations {
			printInfo("  Violation:    %s\n", v)
		}
	}

	if !rep.OK() {
		return errViolation
	}
	return nil
}
