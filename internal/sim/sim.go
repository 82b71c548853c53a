// Package sim implements the sharded, share-nothing simulation driver
// (spec §4.H, §5): it generates randomized add/cancel/trade events across a
// configurable set of symbols and feeds them into per-worker order books.
package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/arena"
	"fenrir/internal/book"
	"fenrir/internal/event"
	"fenrir/internal/rng"
	"fenrir/internal/sink"
)

// Config names exactly the fields the driver requires (spec §4.H).
type Config struct {
	TotalEvents uint64
	Symbols     []string
	ArenaBytes  int
	TickSize    float64
	Sigma       float64
	DriftAmpl   float64
	DriftPeriod uint64
	RealtimeTS  bool
	Threads     int
	Seed        uint64
}

// DefaultConfig mirrors original_source's SimConfig defaults.
func DefaultConfig() Config {
	return Config{
		TotalEvents: 100_000,
		Symbols:     []string{"AAPL", "MSFT", "GOOG"},
		ArenaBytes:  arena.DefaultCapacity,
		TickSize:    0.01,
		Sigma:       0.001,
		DriftAmpl:   0.0,
		DriftPeriod: 10_000,
		Threads:     1,
		Seed:        42,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WorkerStats are the per-worker counters exposed read-only after a run.
type WorkerStats struct {
	WorkerID       int
	Symbols        []string
	Adds           uint64
	Cancels        uint64
	Trades         uint64
	ElapsedMs      float64
	BytesRequested uint64
	ArenaCapacity  uint64
}

// Report is the post-run telemetry summary (spec §6).
type Report struct {
	RunID       string
	Threads     int
	TotalEvents uint64
	Workers     []WorkerStats
}

// TotalAdds, TotalCancels, TotalTrades sum the per-worker counters.
func (r Report) TotalAdds() uint64 {
	var n uint64
	for _, w := range r.Workers {
		n += w.Adds
	}
	return n
}

func (r Report) TotalCancels() uint64 {
	var n uint64
	for _, w := range r.Workers {
		n += w.Cancels
	}
	return n
}

func (r Report) TotalTrades() uint64 {
	var n uint64
	for _, w := range r.Workers {
		n += w.Trades
	}
	return n
}

// worker owns one shard of symbols, its own arena, RNG and books (spec §3, §5).
type worker struct {
	id      int
	symbols []string
	arena   *arena.Arena
	books   []*book.Book
	mid     []float64
	live    [][]uint64
	rng     *rng.Generator
	localID uint64

	adds, cancels, trades uint64
	elapsedMs             float64
}

func newWorker(id int, symbols []string, cfg Config) *worker {
	a := arena.New(fmt.Sprintf("worker-%d", id), cfg.ArenaBytes)
	w := &worker{
		id:      id,
		symbols: symbols,
		arena:   a,
		books:   make([]*book.Book, len(symbols)),
		mid:     make([]float64, len(symbols)),
		live:    make([][]uint64, len(symbols)),
		rng:     rng.New(cfg.Seed ^ uint64(id)),
		localID: 1,
	}
	for i, sym := range symbols {
		w.books[i] = book.New(sym, a, cfg.TickSize)
		w.mid[i] = 100.0
	}
	return w
}

func (w *worker) makeTS(i uint64, realtime bool) uint64 {
	if realtime {
		return uint64(time.Now().UnixNano())
	}
	return (uint64(w.id) << 48) | i
}

func (w *worker) nextID() uint64 {
	id := (uint64(w.id) << 56) | w.localID
	w.localID++
	return id
}

func drawSigma(base float64, i uint64, ampl float64, period uint64) float64 {
	if ampl > 0 && period > 0 {
		phase := float64(i%period) / float64(period)
		return base * (1 + ampl*math.Sin(phase*2*math.Pi))
	}
	return base
}

// step runs one iteration of worker w's inner loop (spec §4.H).
func (w *worker) step(i uint64, cfg Config, s sink.Sink) {
	si := w.rng.UniformIndex(len(w.symbols))
	b := w.books[si]
	live := w.live[si]

	doAdd := w.rng.UniformBool(0.5) || len(live) == 0

	if doAdd {
		side := book.Buy
		if !w.rng.UniformBool(0.5) {
			side = book.Sell
		}
		sigma := drawSigma(cfg.Sigma, i, cfg.DriftAmpl, cfg.DriftPeriod)
		price := w.rng.Normal(w.mid[si], w.mid[si]*sigma)
		if price <= 0 {
			price = w.mid[si]
		}
		qty := int32(w.rng.UniformInt(1, 100))

		id := w.nextID()
		ts := w.makeTS(i, cfg.RealtimeTS)

		o := book.Order{ID: id, Price: price, Qty: qty, Side: side, TsNs: ts}
		filled, tradePrice, traded := b.AddOrder(o)

		var e event.Event
		if traded {
			e = event.Event{TsNs: ts, Kind: event.Trade, Symbol: b.Symbol(), Price: tradePrice, Qty: filled, Side: side}
			w.trades++
		} else {
			e = event.Event{TsNs: ts, Kind: event.OrderAdd, Symbol: b.Symbol(), Price: price, Qty: qty, Side: side}
			w.adds++
		}
		if err := s.Write(e); err != nil {
			log.Error().Err(err).Str("symbol", b.Symbol()).Msg("sink write failed")
		}

		if filled < qty {
			w.live[si] = append(live, id)
		}

		bid, haveBid := b.BestBid()
		ask, haveAsk := b.BestAsk()
		switch {
		case haveBid && haveAsk:
			w.mid[si] = (bid + ask) / 2
		case haveBid:
			w.mid[si] = bid
		case haveAsk:
			w.mid[si] = ask
		}
	} else {
		li := w.rng.UniformIndex(len(live))
		victim := live[li]
		live[li] = live[len(live)-1]
		w.live[si] = live[:len(live)-1]

		if b.CancelOrder(victim) {
			ts := w.makeTS(i, cfg.RealtimeTS)
			e := event.Event{TsNs: ts, Kind: event.OrderCancel, Symbol: b.Symbol(), Price: 0, Qty: 0, Side: book.Buy}
			if err := s.Write(e); err != nil {
				log.Error().Err(err).Str("symbol", b.Symbol()).Msg("sink write failed")
			}
			w.cancels++
		}
	}
}

// run executes this worker's assigned iteration count. Pinning is
// best-effort and never fatal (spec §4.H step 4, §5).
func (w *worker) run(iters uint64, cfg Config, s sink.Sink) {
	pinToCPU(w.id)

	start := time.Now()
	for i := uint64(0); i < iters; i++ {
		w.step(i, cfg, s)
	}
	w.elapsedMs = float64(time.Since(start).Microseconds()) / 1000.0
}

func (w *worker) stats() WorkerStats {
	return WorkerStats{
		WorkerID:       w.id,
		Symbols:        w.symbols,
		Adds:           w.adds,
		Cancels:        w.cancels,
		Trades:         w.trades,
		ElapsedMs:      w.elapsedMs,
		BytesRequested: w.arena.BytesRequested(),
		ArenaCapacity:  w.arena.Capacity(),
	}
}

// Driver partitions symbols across workers and runs them to completion.
type Driver struct {
	cfg     Config
	workers []*worker
	runID   string
}

// New partitions cfg.Symbols contiguously across clamp(cfg.Threads, 1,
// len(Symbols)) workers, the last worker absorbing any remainder (spec §4.H
// step 1).
func New(cfg Config) *Driver {
	if cfg.TickSize == 0 {
		cfg.TickSize = 0.01
	}
	if cfg.ArenaBytes == 0 {
		cfg.ArenaBytes = arena.DefaultCapacity
	}

	n := clamp(cfg.Threads, 1, len(cfg.Symbols))
	per := len(cfg.Symbols) / n

	workers := make([]*worker, 0, n)
	idx := 0
	for t := 0; t < n; t++ {
		end := idx + per
		if t == n-1 {
			end = len(cfg.Symbols)
		}
		shard := cfg.Symbols[idx:end]
		idx = end
		workers = append(workers, newWorker(t, shard, cfg))
	}

	return &Driver{cfg: cfg, workers: workers, runID: uuid.NewString()}
}

// Run launches one goroutine per worker under a tomb, waits for all of
// them, then flushes the sink exactly once (spec §4.H step 3, §5 shutdown).
func (d *Driver) Run(ctx context.Context, s sink.Sink) error {
	log.Info().
		Str("run_id", d.runID).
		Int("workers", len(d.workers)).
		Uint64("total_events", d.cfg.TotalEvents).
		Msg("simulation starting")

	t, _ := tomb.WithContext(ctx)
	n := uint64(len(d.workers))
	base := d.cfg.TotalEvents / n
	rem := d.cfg.TotalEvents % n

	for i, w := range d.workers {
		w := w
		iters := base
		if i == len(d.workers)-1 {
			iters += rem
		}
		t.Go(func() error {
			w.run(iters, d.cfg, s)
			return nil
		})
	}

	if err := t.Wait(); err != nil {
		return err
	}

	if err := s.Flush(); err != nil {
		return fmt.Errorf("sim: sink flush: %w", err)
	}

	log.Info().
		Str("run_id", d.runID).
		Msg("simulation complete")
	return nil
}

// Telemetry returns the post-run per-worker report (spec §6).
func (d *Driver) Telemetry() Report {
	r := Report{RunID: d.runID, Threads: len(d.workers), TotalEvents: d.cfg.TotalEvents}
	for _, w := range d.workers {
		r.Workers = append(r.Workers, w.stats())
	}
	return r
}
