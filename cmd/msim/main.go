// Command msim drives the sharded limit-order-book simulator from the
// command line: it parses a handful of flags onto sim.Config, runs the
// driver to completion, and prints the resulting telemetry report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fenrir/internal/sim"
	"fenrir/internal/sink"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := sim.DefaultConfig()

	var symbols string
	flag.StringVar(&symbols, "symbols", "AAPL,MSFT,GOOG", "comma-separated symbol list")
	flag.Uint64Var(&cfg.TotalEvents, "events", cfg.TotalEvents, "total events to generate across all workers")
	flag.IntVar(&cfg.Threads, "threads", cfg.Threads, "worker goroutine count (clamped to len(symbols))")
	flag.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "base RNG seed (xor'd with worker id)")
	flag.Float64Var(&cfg.TickSize, "tick-size", cfg.TickSize, "price quantization tick")
	flag.Float64Var(&cfg.Sigma, "sigma", cfg.Sigma, "base relative volatility for price draws")
	flag.Float64Var(&cfg.DriftAmpl, "drift-ampl", cfg.DriftAmpl, "sinusoidal volatility drift amplitude (0 disables)")
	flag.Uint64Var(&cfg.DriftPeriod, "drift-period", cfg.DriftPeriod, "sinusoidal volatility drift period, in events")
	flag.IntVar(&cfg.ArenaBytes, "arena-bytes", cfg.ArenaBytes, "per-worker arena capacity in bytes")
	flag.BoolVar(&cfg.RealtimeTS, "realtime-ts", cfg.RealtimeTS, "stamp events with wall-clock time instead of a deterministic counter")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg.Symbols = splitSymbols(symbols)
	if len(cfg.Symbols) == 0 {
		log.Fatal().Msg("msim: -symbols must name at least one symbol")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := sim.New(cfg)
	s := sink.NewNull()

	if err := d.Run(ctx, s); err != nil {
		log.Fatal().Err(err).Msg("msim: run failed")
	}

	printReport(d.Telemetry())
}

func splitSymbols(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func printReport(r sim.Report) {
	fmt.Printf("run_id=%s threads=%d total_events=%d\n", r.RunID, r.Threads, r.TotalEvents)
	fmt.Printf("adds=%d cancels=%d trades=%d\n", r.TotalAdds(), r.TotalCancels(), r.TotalTrades())
	for _, w := range r.Workers {
		fmt.Printf("  worker %d symbols=%v adds=%d cancels=%d trades=%d elapsed_ms=%.2f arena=%d/%d\n",
			w.WorkerID, w.Symbols, w.Adds, w.Cancels, w.Trades, w.ElapsedMs, w.BytesRequested, w.ArenaCapacity)
	}
}
