package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/script-host/luahost"
	"github.com/wippyai/script-host/resource"
	"github.com/wippyai/script-host/sched"
)

func main() {
	var (
		scriptFile  = flag.String("script", "", "Path to Lua script")
		inline      = flag.String("e", "", "Inline Lua source to run")
		workers     = flag.Int("workers", 0, "Worker pool size (0 = one per CPU)")
		delay       = flag.Duration("delay", 0, "Simulated latency per operation body")
		timeout     = flag.Duration("timeout", 30*time.Second, "Drain and shutdown deadline")
		interactive = flag.Bool("i", false, "Interactive monitor with TUI")
		verbose     = flag.Bool("v", false, "Development logging for scheduler and registry")
	)
	flag.Parse()

	if *scriptFile == "" && *inline == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: run -script <file.lua> [-workers N] [-delay 50ms]")
		fmt.Fprintln(os.Stderr, "       run -e 'b = blobs.open(\"x\") b:write(\"data\")'")
		fmt.Fprintln(os.Stderr, "       run -i [-script <file.lua>]  (interactive monitor)")
		os.Exit(1)
	}

	var logger *zap.Logger
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger = l
		sched.SetLogger(l)
		resource.SetLogger(l)
	}

	cfg := luahost.Config{Workers: *workers, OpDelay: *delay, Logger: logger}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg, *scriptFile, *inline, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *scriptFile, *inline, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg luahost.Config, scriptFile, inline string, timeout time.Duration) error {
	ctx := context.Background()

	host, err := luahost.New(cfg)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		host.Close(closeCtx)
	}()

	if scriptFile != "" {
		fmt.Printf("Script: %s\n", scriptFile)
		if err := host.RunFile(ctx, scriptFile); err != nil {
			return err
		}
	}
	if inline != "" {
		if err := host.RunString(ctx, inline); err != nil {
			return err
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := host.Drain(drainCtx); err != nil {
		return err
	}

	snap, err := host.Snapshot(ctx)
	if err != nil {
		return err
	}
	printStats(snap)
	return nil
}

func printStats(st *luahost.Stats) {
	fmt.Printf("\nOperations: %d scheduled, %d completed\n", st.Scheduled, st.Completed)
	fmt.Printf("Workers: %d\n", st.Workers)
	fmt.Printf("Blobs: %d\n", st.Records)
	for _, b := range st.Blobs {
		state := ""
		if b.Canceled {
			state = "  [canceled]"
		}
		fmt.Printf("  #%d %-16s %6d bytes  active %d  queued %d%s\n",
			b.ID, b.Name, b.Size, b.Active, b.Queued, state)
	}
}
