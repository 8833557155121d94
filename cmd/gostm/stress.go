// stress.go implements the 'gostm stress' command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/gostm/internal/stm/logging"
	"github.com/kolkov/gostm/stm"
)

// Workload modes.
const (
	modePlain    = "plain"
	modeCommute  = "commute"
	modeTransfer = "transfer"
)

// initialBalance is the starting balance of every account in transfer mode.
const initialBalance = 1000

// stressConfig holds the parsed flags of the stress command.
type stressConfig struct {
	mode      string
	workers   int
	ops       int
	refs      int
	isolation stm.Isolation
	timeout   time.Duration
	plain     bool
	log       logging.Config
}

// stressReport is what one stress run measured.
type stressReport struct {
	Mode     string
	Workers  int
	Ops      int
	Elapsed  time.Duration
	Stats    stm.Stats
	Expected int64
	Actual   int64
}

// OK reports whether the final state matches the workload's invariant.
func (r stressReport) OK() bool {
	return r.Expected == r.Actual
}

// stressCommand implements the 'gostm stress' command.
//
// Example:
//
//	gostm stress -mode commute -workers 8 -ops 10000
func stressCommand(args []string) {
	cfg, err := parseStressArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	log, closeLog, err := logging.New(cfg.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx := context.Background()
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	report, err := runStress(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stress failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(renderReport(report, !cfg.plain))
	if !report.OK() {
		os.Exit(1)
	}
}

// parseStressArgs parses the flags of the stress command.
func parseStressArgs(args []string) (stressConfig, error) {
	cfg := stressConfig{}
	var isolation, level string

	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.mode, "mode", modeCommute, "workload: plain, commute or transfer")
	fs.IntVar(&cfg.workers, "workers", 8, "number of concurrent workers")
	fs.IntVar(&cfg.ops, "ops", 10000, "transactions per worker")
	fs.IntVar(&cfg.refs, "refs", 16, "accounts in transfer mode")
	fs.StringVar(&isolation, "isolation", "snapshot", "isolation level: snapshot or serializable")
	fs.DurationVar(&cfg.timeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	fs.BoolVar(&cfg.plain, "plain", false, "print the report without styling")
	fs.StringVar(&level, "log-level", string(logging.LevelWarn), "DEBUG, INFO, WARN or ERROR")
	fs.StringVar(&cfg.log.Format, "log-format", "text", "text or json")
	fs.StringVar(&cfg.log.OutputPath, "log-file", "", "write logs to this file instead of stderr")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	switch cfg.mode {
	case modePlain, modeCommute, modeTransfer:
	default:
		return cfg, fmt.Errorf("unknown mode %q", cfg.mode)
	}
	switch strings.ToLower(isolation) {
	case "snapshot":
		cfg.isolation = stm.Snapshot
	case "serializable":
		cfg.isolation = stm.Serializable
	default:
		return cfg, fmt.Errorf("unknown isolation %q", isolation)
	}
	if cfg.workers < 1 || cfg.ops < 1 {
		return cfg, errors.New("workers and ops must be positive")
	}
	if cfg.mode == modeTransfer && cfg.refs < 2 {
		return cfg, errors.New("transfer mode needs at least 2 refs")
	}

	lvl, err := logging.ParseLevel(strings.ToUpper(level))
	if err != nil {
		return cfg, err
	}
	cfg.log.Level = lvl
	return cfg, nil
}

// runStress runs the workload described by cfg on a fresh Stm.
func runStress(ctx context.Context, cfg stressConfig, log *slog.Logger) (stressReport, error) {
	stmCfg := stm.DefaultConfig()
	stmCfg.Logger = log
	s, err := stm.New(stmCfg)
	if err != nil {
		return stressReport{}, err
	}
	defer s.Close()

	txCfg := stm.DefaultTxnConfig()
	txCfg.FamilyName = "stress-" + cfg.mode
	txCfg.Isolation = cfg.isolation
	f, err := s.NewTxnFactory(txCfg)
	if err != nil {
		return stressReport{}, err
	}

	report := stressReport{Mode: cfg.mode, Workers: cfg.workers, Ops: cfg.ops}
	log.Info("stress started", "mode", cfg.mode, "workers", cfg.workers, "ops", cfg.ops, "isolation", cfg.isolation)

	start := time.Now()
	var w workload
	switch cfg.mode {
	case modeTransfer:
		w = newTransferWorkload(s, f, cfg.refs)
	default:
		w = newCounterWorkload(s, f, cfg.mode == modeCommute)
	}

	g, gctx := errgroup.WithContext(ctx)
	for worker := range cfg.workers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(worker), uint64(start.UnixNano())))
			for op := range cfg.ops {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := w.step(gctx, rng, op); err != nil {
					return fmt.Errorf("worker %d op %d: %w", worker, op, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stressReport{}, err
	}

	report.Elapsed = time.Since(start)
	report.Stats = s.Stats()
	report.Expected = w.expected(cfg)
	report.Actual = w.actual()
	log.Info("stress finished", "elapsed", report.Elapsed, "stats", report.Stats)
	return report, nil
}

// workload is one kind of stress transaction.
type workload interface {
	step(ctx context.Context, rng *rand.Rand, op int) error
	expected(cfg stressConfig) int64
	actual() int64
}

// counterWorkload increments one shared counter, either by reading and writing
// it or with a commuting increment.
type counterWorkload struct {
	f       *stm.TxnFactory
	counter *stm.LongRef
	commute bool
}

func newCounterWorkload(s *stm.Stm, f *stm.TxnFactory, commute bool) *counterWorkload {
	return &counterWorkload{f: f, counter: stm.NewLongRef(s, 0), commute: commute}
}

func (w *counterWorkload) step(ctx context.Context, _ *rand.Rand, _ int) error {
	return w.f.Execute(ctx, func(tx *stm.Txn) error {
		if w.commute {
			return w.counter.Increment(tx, 1)
		}
		_, err := w.counter.IncrementAndGet(tx, 1)
		return err
	})
}

func (w *counterWorkload) expected(cfg stressConfig) int64 {
	return int64(cfg.workers) * int64(cfg.ops)
}

func (w *counterWorkload) actual() int64 {
	return w.counter.AtomicGet()
}

// transferWorkload moves money between random accounts. Every 64th step of a
// worker audits the total instead.
type transferWorkload struct {
	f        *stm.TxnFactory
	accounts []*stm.LongRef
}

func newTransferWorkload(s *stm.Stm, f *stm.TxnFactory, n int) *transferWorkload {
	w := &transferWorkload{f: f, accounts: make([]*stm.LongRef, n)}
	for i := range w.accounts {
		w.accounts[i] = stm.NewLongRef(s, initialBalance)
	}
	return w
}

func (w *transferWorkload) step(ctx context.Context, rng *rand.Rand, op int) error {
	if op%64 == 63 {
		return w.audit(ctx)
	}
	from := w.accounts[rng.IntN(len(w.accounts))]
	to := w.accounts[rng.IntN(len(w.accounts))]
	amount := rng.Int64N(100) + 1
	if from == to {
		return nil
	}
	return w.f.Execute(ctx, func(tx *stm.Txn) error {
		balance, err := from.Get(tx)
		if err != nil {
			return err
		}
		if balance < amount {
			return nil
		}
		if err := from.Set(tx, balance-amount); err != nil {
			return err
		}
		_, err = to.IncrementAndGet(tx, amount)
		return err
	})
}

// audit sums every account in one transaction and fails when money appeared or
// vanished.
func (w *transferWorkload) audit(ctx context.Context) error {
	var sum int64
	err := w.f.Execute(ctx, func(tx *stm.Txn) error {
		sum = 0
		for _, a := range w.accounts {
			v, err := a.Get(tx)
			if err != nil {
				return err
			}
			sum += v
		}
		return nil
	})
	if err != nil {
		return err
	}
	if want := int64(len(w.accounts)) * initialBalance; sum != want {
		return fmt.Errorf("audit saw total %d, want %d", sum, want)
	}
	return nil
}

func (w *transferWorkload) expected(_ stressConfig) int64 {
	return int64(len(w.accounts)) * initialBalance
}

func (w *transferWorkload) actual() int64 {
	var sum int64
	for _, a := range w.accounts {
		sum += a.AtomicGet()
	}
	return sum
}
