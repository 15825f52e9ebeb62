// Command recgen generates record frame workloads for binlogd and verifies
// the log files binlogd writes.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/binlogd/record"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "gen":
		err = runGen(args)
	case "verify":
		err = runVerify(args)
	case "version":
		fmt.Printf("recgen version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`recgen - binlogd workload generator

Usage:
  recgen <command> [options]

Commands:
  gen       Write record frames (pipe into binlogd)
  verify    Parse and check a binlog directory
  version   Print version
  help      Show this help

Gen Options:
  --database       Database name (default: bench)
  --tables         Number of tables (default: 1)
  --records        Rows inserted before the workload (default: 1000)
  --operations     Workload operations (default: 10000)
  --workload       mixed|insert-only|update-heavy (default: mixed)
  --insert-pct     Insert percentage (overrides workload default)
  --update-pct     Update percentage (overrides workload default)
  --delete-pct     Delete percentage (overrides workload default)
  --seed           Random seed (default: 1)
  --out            Output file, - for stdout (default: -)
  --create-tables  Emit CREATE TABLE records first (default: true)

Verify Options:
  --dir            Directory holding the log files (default: binlog)
  --prefix         Log file prefix (default: binlog)

Example:
  recgen gen --tables 4 --operations 100000 | binlogd -config binlogd.toml
  recgen verify --dir data/binlog`)
}

func runGen(args []string) error {
	cfg, err := parseGenFlags(args)
	if err != nil {
		return err
	}

	out := io.WriteCloser(os.Stdout)
	if cfg.Output != "-" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		out = f
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := &Stats{}
	if cfg.Progress {
		reportCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go reportProgress(reportCtx, os.Stderr, stats)
	}

	start := time.Now()
	w := bufio.NewWriterSize(out, 1<<20)
	err = generate(ctx, w, NewGenerator(cfg), cfg, stats)
	if flushErr := w.Flush(); err == nil {
		err = flushErr
	}
	stats.PrintSummary(os.Stderr, time.Since(start))
	return err
}

// generate writes table DDL, the initial load and the workload until done
// or ctx ends.
func generate(ctx context.Context, w io.Writer, g *Generator, cfg *GenConfig, stats *Stats) error {
	emit := func(payload []byte, op record.OpType) error {
		if err := writeFrame(w, op == record.OpDDL, payload); err != nil {
			return err
		}
		stats.Record(op, len(payload)+5)
		return nil
	}

	if cfg.CreateTables {
		for i := 0; i < cfg.Tables; i++ {
			payload, err := g.DDL(i)
			if err != nil {
				return err
			}
			if err := emit(payload, record.OpDDL); err != nil {
				return err
			}
		}
	}

	for n := 0; n < cfg.Records; n++ {
		payload, err := g.Insert(n % cfg.Tables)
		if err != nil {
			return err
		}
		if err := emit(payload, record.OpInsert); err != nil {
			return err
		}
	}

	for n := 0; n < cfg.Operations; n++ {
		if n%1024 == 0 && ctx.Err() != nil {
			return nil
		}
		payload, op, err := g.Next()
		if err != nil {
			return err
		}
		if err := emit(payload, op); err != nil {
			return err
		}
	}
	return nil
}
