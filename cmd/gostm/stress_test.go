// stress_test.go tests the 'gostm stress' command.
package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kolkov/gostm/internal/stm/logging"
	"github.com/kolkov/gostm/stm"
)

// TestParseStressArgs_Defaults tests the flag defaults.
func TestParseStressArgs_Defaults(t *testing.T) {
	cfg, err := parseStressArgs(nil)
	if err != nil {
		t.Fatalf("parseStressArgs() error: %v", err)
	}
	if cfg.mode != modeCommute || cfg.workers != 8 || cfg.ops != 10000 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.isolation != stm.Snapshot {
		t.Errorf("isolation = %v, want Snapshot", cfg.isolation)
	}
	if cfg.log.Level != logging.LevelWarn || cfg.log.Format != "text" {
		t.Errorf("log config = %+v", cfg.log)
	}
}

// TestParseStressArgs_Flags tests explicit flags.
func TestParseStressArgs_Flags(t *testing.T) {
	args := []string{
		"-mode", "transfer", "-workers", "3", "-ops", "50", "-refs", "4",
		"-isolation", "Serializable", "-timeout", "2s", "-plain", "-log-level", "debug",
	}
	cfg, err := parseStressArgs(args)
	if err != nil {
		t.Fatalf("parseStressArgs() error: %v", err)
	}
	if cfg.mode != modeTransfer || cfg.workers != 3 || cfg.ops != 50 || cfg.refs != 4 {
		t.Errorf("parsed = %+v", cfg)
	}
	if cfg.isolation != stm.Serializable || cfg.timeout != 2*time.Second || !cfg.plain {
		t.Errorf("parsed = %+v", cfg)
	}
	if cfg.log.Level != logging.LevelDebug {
		t.Errorf("log level = %v, want DEBUG", cfg.log.Level)
	}
}

// TestParseStressArgs_Errors tests rejected command lines.
func TestParseStressArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown mode", []string{"-mode", "random"}, "unknown mode"},
		{"unknown isolation", []string{"-isolation", "repeatable"}, "unknown isolation"},
		{"zero workers", []string{"-workers", "0"}, "must be positive"},
		{"one account", []string{"-mode", "transfer", "-refs", "1"}, "at least 2 refs"},
		{"bad level", []string{"-log-level", "loud"}, "unknown level"},
		{"stray argument", []string{"extra"}, "unexpected arguments"},
		{"unknown flag", []string{"-fast"}, "not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseStressArgs(tt.args)
			if err == nil {
				t.Fatal("parseStressArgs() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

// TestRunStress tests that every workload keeps its invariant.
func TestRunStress(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		isolation stm.Isolation
	}{
		{"plain", modePlain, stm.Snapshot},
		{"commute", modeCommute, stm.Snapshot},
		{"transfer snapshot", modeTransfer, stm.Snapshot},
		{"transfer serializable", modeTransfer, stm.Serializable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := stressConfig{mode: tt.mode, workers: 4, ops: 200, refs: 6, isolation: tt.isolation}
			report, err := runStress(context.Background(), cfg, logging.Discard())
			if err != nil {
				t.Fatalf("runStress() error: %v", err)
			}
			if !report.OK() {
				t.Errorf("expected %d, actual %d", report.Expected, report.Actual)
			}
			if report.Stats.Commits == 0 {
				t.Error("no commits recorded")
			}
		})
	}
}

// TestRunStress_Cancelled tests that a cancelled context stops the workers.
func TestRunStress_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := stressConfig{mode: modePlain, workers: 2, ops: 1000, isolation: stm.Snapshot}
	if _, err := runStress(ctx, cfg, logging.Discard()); !errors.Is(err, context.Canceled) {
		t.Errorf("runStress() error = %v, want context.Canceled", err)
	}
}

// TestRenderReport tests both report layouts.
func TestRenderReport(t *testing.T) {
	r := stressReport{
		Mode:     modeCommute,
		Workers:  2,
		Ops:      10,
		Elapsed:  time.Millisecond,
		Stats:    stm.Stats{Commits: 20, SpeculativeUpgrades: 1},
		Expected: 20,
		Actual:   20,
	}

	plain := renderReport(r, false)
	for _, want := range []string{"gostm stress: OK", "commits", "20", "speculative upgrades", "20000 txn/s"} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain report missing %q:\n%s", want, plain)
		}
	}

	r.Actual = 19
	styled := renderReport(r, true)
	for _, want := range []string{"gostm stress", "MISMATCH", "expected", "19"} {
		if !strings.Contains(styled, want) {
			t.Errorf("styled report missing %q:\n%s", want, styled)
		}
	}
	if strings.Count(styled, "\n") < 16 {
		t.Errorf("styled report has %d lines", strings.Count(styled, "\n"))
	}
}
