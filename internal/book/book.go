// Package book implements the price-time priority limit order book: the
// core matching data structure of the simulation engine (spec §4.D).
//
// Prices are tick-quantized; matching and ordering always compare ticks,
// never raw floats. Price levels are indexed by two fixed-capacity flat
// hashes (bid side, ask side), resting orders are indexed by id in a third,
// and the book caches its best bid/ask tick so top-of-book queries and
// level-removal bookkeeping are O(1) in the common case.
package book

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"fenrir/internal/arena"
	"fenrir/internal/event"
	"fenrir/internal/flathash"
)

// Side reuses the event package's wire-stable encoding so a resting
// Order's side never needs translation on the way to an emitted Event.
type Side = event.Side

const (
	Buy  = event.Buy
	Sell = event.Sell
)

// Order is carried by value through the matching API (spec §3).
type Order struct {
	ID    uint64
	Price float64
	Qty   int32
	Side  Side
	TsNs  uint64
}

// orderRef is the cancel-index value: enough to locate the Level holding
// a resting order without scanning both sides.
type orderRef struct {
	side Side
	tick int32
}

// level holds all resting orders at one tick, oldest at the front.
type level struct {
	tick  int32
	queue []Order
}

func (l *level) front() *Order { return &l.queue[0] }
func (l *level) empty() bool   { return len(l.queue) == 0 }

func (l *level) popFront() {
	// Re-slicing forward is O(1) amortized: the teacher's BuyBook/SellBook
	// pool discards in the same way (book[0:n-1] style reslicing) rather
	// than shifting elements down.
	l.queue = l.queue[1:]
}

func (l *level) reset(tick int32) {
	l.tick = tick
	l.queue = l.queue[:0]
}

// levelAccountingBytes is the per-new-level footprint charged against the
// worker's arena. Re-used (pooled) levels never charge again; this mirrors
// the C++ original's pmr::deque-backed Level being carved fresh out of the
// monotonic buffer only the first time a tick becomes active.
const levelAccountingBytes = 64

// defaultLevelCapacity and defaultIndexCapacity match spec §3's suggested
// fixed sizes.
const (
	defaultLevelCapacity = 2048
	defaultIndexCapacity = 16384
)

// Book is a single symbol's order book.
type Book struct {
	symbol string
	arena  *arena.Arena

	bidLevels *flathash.Map[int32, *level]
	askLevels *flathash.Map[int32, *level]
	index     *flathash.Map[uint64, orderRef]

	bidTicks []int32
	askTicks []int32

	freeLevels []*level

	bestBidTick int32
	haveBestBid bool
	bestAskTick int32
	haveBestAsk bool

	tickSize float64
	invTick  float64
}

// New constructs an empty book for symbol, drawing level accounting from
// mem and quantizing prices to tickSize.
func New(symbol string, mem *arena.Arena, tickSize float64) *Book {
	if tickSize <= 0 {
		log.Fatal().Str("symbol", symbol).Float64("tick_size", tickSize).Msg("book: tick_size must be positive")
	}
	return &Book{
		symbol:    symbol,
		arena:     mem,
		bidLevels: flathash.New[int32, *level](symbol+":bids", defaultLevelCapacity),
		askLevels: flathash.New[int32, *level](symbol+":asks", defaultLevelCapacity),
		index:     flathash.New[uint64, orderRef](symbol+":index", defaultIndexCapacity),
		tickSize:  tickSize,
		invTick:   1.0 / tickSize,
	}
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }

func (b *Book) priceToTick(px float64) int32 {
	return int32(math.Round(px * b.invTick))
}

func (b *Book) tickToPrice(t int32) float64 { return float64(t) * b.tickSize }

// AddOrder matches o against the opposite side while prices cross, resting
// any remainder on o's own side (spec §4.D.1).
//
// filledQty is the quantity matched (possibly zero); traded reports
// whether any quantity matched at all, and tradePrice is defined iff
// traded is true (the price of the last resting level touched).
func (b *Book) AddOrder(o Order) (filledQty int32, tradePrice float64, traded bool) {
	if o.Qty <= 0 {
		log.Fatal().Str("symbol", b.symbol).Int64("id", int64(o.ID)).Msg("book: AddOrder requires positive qty")
	}
	if o.Price <= 0 {
		log.Fatal().Str("symbol", b.symbol).Int64("id", int64(o.ID)).Msg("book: AddOrder requires positive price")
	}
	if b.index.Contains(o.ID) {
		log.Fatal().Str("symbol", b.symbol).Uint64("id", o.ID).Msg("book: duplicate order id")
	}

	tick := b.priceToTick(o.Price)
	remaining := o.Qty

	if o.Side == Buy {
		for b.haveBestAsk && b.bestAskTick <= tick && remaining > 0 {
			lvl, _ := b.askLevels.Find(b.bestAskTick)
			remaining, tradePrice, traded = b.sweepLevel(*lvl, remaining, tradePrice, traded)
			if (*lvl).empty() {
				b.removeLevelIfEmpty(Sell, b.bestAskTick, *lvl)
			}
		}
	} else {
		for b.haveBestBid && b.bestBidTick >= tick && remaining > 0 {
			lvl, _ := b.bidLevels.Find(b.bestBidTick)
			remaining, tradePrice, traded = b.sweepLevel(*lvl, remaining, tradePrice, traded)
			if (*lvl).empty() {
				b.removeLevelIfEmpty(Buy, b.bestBidTick, *lvl)
			}
		}
	}

	if remaining > 0 {
		snapped := b.tickToPrice(tick)
		b.rest(Order{ID: o.ID, Price: snapped, Qty: remaining, Side: o.Side, TsNs: o.TsNs}, tick)
	}

	return o.Qty - remaining, tradePrice, traded
}

// sweepLevel consumes remaining quantity against one price level, oldest
// order first, and returns the updated remaining quantity and trade price.
func (b *Book) sweepLevel(l *level, remaining int32, tradePrice float64, traded bool) (int32, float64, bool) {
	for remaining > 0 && !l.empty() {
		top := l.front()
		qty := min32(remaining, top.Qty)
		remaining -= qty
		top.Qty -= qty
		tradePrice = top.Price
		traded = true

		if top.Qty == 0 {
			// Erase from the index immediately, before the queue pop, so
			// the index/queue invariant holds at every yield point
			// (spec §4.D.1).
			b.index.Erase(top.ID)
			l.popFront()
		}
	}
	return remaining, tradePrice, traded
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// CancelOrder removes a resting order by id (spec §4.D.2).
func (b *Book) CancelOrder(id uint64) bool {
	ref, ok := b.index.Find(id)
	if !ok {
		return false
	}
	side, tick := ref.side, ref.tick

	var levels *flathash.Map[int32, *level]
	if side == Buy {
		levels = b.bidLevels
	} else {
		levels = b.askLevels
	}

	lvlPtr, ok := levels.Find(tick)
	if !ok {
		// Invariants forbid this; defensively clean up the stale entry.
		b.index.Erase(id)
		return false
	}
	l := *lvlPtr

	for i := range l.queue {
		if l.queue[i].ID == id {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			b.index.Erase(id)
			if l.empty() {
				b.removeLevelIfEmpty(side, tick, l)
			}
			return true
		}
	}

	// id was indexed but not found in the queue: stale, clean up.
	b.index.Erase(id)
	return false
}

// rest inserts o as a new resting order at tick on o.Side (spec §4.D.3).
func (b *Book) rest(o Order, tick int32) {
	var levels *flathash.Map[int32, *level]
	var ticks *[]int32
	if o.Side == Buy {
		levels = b.bidLevels
		ticks = &b.bidTicks
	} else {
		levels = b.askLevels
		ticks = &b.askTicks
	}

	lvlPtr, ok := levels.Find(tick)
	var l *level
	if ok {
		l = *lvlPtr
	} else {
		l = b.acquireLevel(tick)
		levels.Insert(tick, l)
		*ticks = append(*ticks, tick)
		b.updateBestOnInsert(o.Side, tick)
	}
	l.queue = append(l.queue, o)

	if !b.index.Insert(o.ID, orderRef{side: o.Side, tick: tick}) {
		log.Fatal().Str("symbol", b.symbol).Uint64("id", o.ID).Msg("book: duplicate id inserted into cancel index")
	}
}

// acquireLevel returns a reusable Level from the free-list pool, or charges
// the arena and constructs a fresh one if the pool is empty.
func (b *Book) acquireLevel(tick int32) *level {
	if n := len(b.freeLevels); n > 0 {
		l := b.freeLevels[n-1]
		b.freeLevels = b.freeLevels[:n-1]
		l.reset(tick)
		return l
	}
	// Charge the worker's arena for the new level's footprint; this
	// aborts the process if the arena is exhausted (spec §4.A, §7).
	b.arena.Alloc(levelAccountingBytes, 8)
	return &level{tick: tick}
}

func (b *Book) updateBestOnInsert(side Side, tick int32) {
	if side == Buy {
		if !b.haveBestBid || tick > b.bestBidTick {
			b.bestBidTick = tick
			b.haveBestBid = true
		}
	} else {
		if !b.haveBestAsk || tick < b.bestAskTick {
			b.bestAskTick = tick
			b.haveBestAsk = true
		}
	}
}

// removeLevelIfEmpty unlinks an emptied level and returns it to the pool
// (spec §4.D.4).
func (b *Book) removeLevelIfEmpty(side Side, tick int32, l *level) {
	var levels *flathash.Map[int32, *level]
	var ticks *[]int32
	if side == Buy {
		levels = b.bidLevels
		ticks = &b.bidTicks
	} else {
		levels = b.askLevels
		ticks = &b.askTicks
	}

	levels.Erase(tick)
	swapRemove(ticks, tick)

	if side == Buy && b.haveBestBid && b.bestBidTick == tick {
		b.recomputeBest(Buy)
	} else if side == Sell && b.haveBestAsk && b.bestAskTick == tick {
		b.recomputeBest(Sell)
	}

	b.freeLevels = append(b.freeLevels, l)
}

func swapRemove(ticks *[]int32, tick int32) {
	s := *ticks
	for i, t := range s {
		if t == tick {
			s[i] = s[len(s)-1]
			*ticks = s[:len(s)-1]
			return
		}
	}
}

func (b *Book) recomputeBest(side Side) {
	if side == Buy {
		if len(b.bidTicks) == 0 {
			b.haveBestBid = false
			return
		}
		best := b.bidTicks[0]
		for _, t := range b.bidTicks[1:] {
			if t > best {
				best = t
			}
		}
		b.bestBidTick = best
	} else {
		if len(b.askTicks) == 0 {
			b.haveBestAsk = false
			return
		}
		best := b.askTicks[0]
		for _, t := range b.askTicks[1:] {
			if t < best {
				best = t
			}
		}
		b.bestAskTick = best
	}
}

// BestBid returns the best resting bid price, if any (spec §4.D.5).
func (b *Book) BestBid() (float64, bool) {
	if !b.haveBestBid {
		return 0, false
	}
	return b.tickToPrice(b.bestBidTick), true
}

// BestAsk returns the best resting ask price, if any (spec §4.D.5).
func (b *Book) BestAsk() (float64, bool) {
	if !b.haveBestAsk {
		return 0, false
	}
	return b.tickToPrice(b.bestAskTick), true
}

// IndexSize returns the number of live resting orders, exposed for test
// invariants (spec §4.D.5).
func (b *Book) IndexSize() int { return b.index.Size() }

// DepthLevel is one row of a price-ordered depth snapshot.
type DepthLevel struct {
	Price float64
	Side  Side
	Qty   int64
	N     int
}

// Snapshot returns up to depth price-ordered levels per side (best first),
// for reporting only. It is never on the matching hot path: it builds a
// throwaway btree over the (small) active-tick sets at call time, grounded
// on the teacher's btree-ordered price levels in
// internal/engine/orderbook.go, repurposed here from "the book's primary
// index" to "a read-only report".
func (b *Book) Snapshot(depth int) []DepthLevel {
	bidOrder := btree.NewBTreeG(func(a, b int32) bool { return a > b })
	askOrder := btree.NewBTreeG(func(a, b int32) bool { return a < b })
	for _, t := range b.bidTicks {
		bidOrder.Set(t)
	}
	for _, t := range b.askTicks {
		askOrder.Set(t)
	}

	out := make([]DepthLevel, 0, 2*depth)
	out = appendDepth(out, bidOrder, b.bidLevels, Buy, depth, b.tickSize)
	out = appendDepth(out, askOrder, b.askLevels, Sell, depth, b.tickSize)
	return out
}

func appendDepth(out []DepthLevel, order *btree.BTreeG[int32], levels *flathash.Map[int32, *level], side Side, depth int, tickSize float64) []DepthLevel {
	count := 0
	order.Scan(func(tick int32) bool {
		if count >= depth {
			return false
		}
		lvlPtr, ok := levels.Find(tick)
		if !ok {
			return true
		}
		l := *lvlPtr
		var qty int64
		for _, o := range l.queue {
			qty += int64(o.Qty)
		}
		out = append(out, DepthLevel{
			Price: float64(tick) * tickSize,
			Side:  side,
			Qty:   qty,
			N:     len(l.queue),
		})
		count++
		return true
	})
	return out
}

func (d DepthLevel) String() string {
	return fmt.Sprintf("%s %.4f x %d (%d orders)", d.Side, d.Price, d.Qty, d.N)
}
