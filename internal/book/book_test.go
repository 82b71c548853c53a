package book

import (
	"bytes"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"

	"fenrir/internal/arena"
)

func newTestBook(t *testing.T, tickSize float64) *Book {
	t.Helper()
	return New("TEST", arena.New("test", 1<<20), tickSize)
}

// Scenario 1 (spec §8): basic match and cancel.
func TestBasicMatchAndCancel(t *testing.T) {
	b := newTestBook(t, 1.0)

	filled, _, traded := b.AddOrder(Order{ID: 1, Price: 101, Qty: 10, Side: Sell})
	assert.Equal(t, int32(0), filled)
	assert.False(t, traded)
	ask, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, 101.0, ask)

	filled, price, traded := b.AddOrder(Order{ID: 2, Price: 102, Qty: 6, Side: Buy})
	assert.Equal(t, int32(6), filled)
	assert.True(t, traded)
	assert.Equal(t, 101.0, price)

	ask, ok = b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, 101.0, ask)

	assert.False(t, b.CancelOrder(2), "order 2 fully filled, never rested")
	assert.True(t, b.CancelOrder(1))

	_, ok = b.BestAsk()
	assert.False(t, ok)
}

// Scenario 2 (spec §8): price-time priority at the same level.
func TestPriceTimePriorityAtSameLevel(t *testing.T) {
	b := newTestBook(t, 1.0)

	b.AddOrder(Order{ID: 1, Price: 100, Qty: 5, Side: Sell, TsNs: 0})
	b.AddOrder(Order{ID: 2, Price: 100, Qty: 5, Side: Sell, TsNs: 1})
	assert.Equal(t, 2, b.IndexSize())

	filled, price, traded := b.AddOrder(Order{ID: 3, Price: 100, Qty: 6, Side: Buy})
	assert.Equal(t, int32(6), filled)
	assert.True(t, traded)
	assert.Equal(t, 100.0, price)

	assert.False(t, b.CancelOrder(1), "order 1 fully consumed first (FIFO)")
	assert.True(t, b.CancelOrder(2), "order 2 partially filled, qty 4 remains")
	assert.Equal(t, 0, b.IndexSize())
}

func TestBuyBelowBestAskRestsWithoutTrading(t *testing.T) {
	b := newTestBook(t, 1.0)
	b.AddOrder(Order{ID: 1, Price: 101, Qty: 10, Side: Sell})

	filled, _, traded := b.AddOrder(Order{ID: 2, Price: 99, Qty: 5, Side: Buy})
	assert.Equal(t, int32(0), filled)
	assert.False(t, traded)

	bid, ok := b.BestBid()
	assert.True(t, ok)
	assert.Equal(t, 99.0, bid)
}

func TestPartialFillLeavesCorrectRemainderAtHeadOfQueue(t *testing.T) {
	b := newTestBook(t, 1.0)
	b.AddOrder(Order{ID: 1, Price: 100, Qty: 10, Side: Sell})

	filled, price, traded := b.AddOrder(Order{ID: 2, Price: 100, Qty: 4, Side: Buy})
	assert.Equal(t, int32(4), filled)
	assert.True(t, traded)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 1, b.IndexSize())

	assert.True(t, b.CancelOrder(1))
	assert.Equal(t, 0, b.IndexSize())
}

func TestSecondCancelAlwaysReturnsFalse(t *testing.T) {
	b := newTestBook(t, 1.0)
	b.AddOrder(Order{ID: 1, Price: 100, Qty: 10, Side: Sell})

	assert.True(t, b.CancelOrder(1))
	assert.False(t, b.CancelOrder(1))
}

func TestCancelUnknownIDReturnsFalse(t *testing.T) {
	b := newTestBook(t, 1.0)
	assert.False(t, b.CancelOrder(12345))
}

func TestLevelRemovalUpdatesBestAndActiveSet(t *testing.T) {
	b := newTestBook(t, 1.0)
	b.AddOrder(Order{ID: 1, Price: 100, Qty: 5, Side: Buy})
	b.AddOrder(Order{ID: 2, Price: 99, Qty: 5, Side: Buy})

	bid, _ := b.BestBid()
	assert.Equal(t, 100.0, bid)

	assert.True(t, b.CancelOrder(1))
	bid, ok := b.BestBid()
	assert.True(t, ok)
	assert.Equal(t, 99.0, bid, "best bid must recompute to the remaining active tick")
}

func TestExactCrossingTradesAtRestingPrice(t *testing.T) {
	b := newTestBook(t, 0.5)
	b.AddOrder(Order{ID: 1, Price: 50.0, Qty: 3, Side: Buy})

	filled, price, traded := b.AddOrder(Order{ID: 2, Price: 50.0, Qty: 3, Side: Sell})
	assert.True(t, traded)
	assert.Equal(t, int32(3), filled)
	assert.Equal(t, 50.0, price)
}

func TestMultiLevelSweepConsumesBestLevelsFirst(t *testing.T) {
	b := newTestBook(t, 1.0)
	b.AddOrder(Order{ID: 1, Price: 100, Qty: 5, Side: Sell})
	b.AddOrder(Order{ID: 2, Price: 101, Qty: 5, Side: Sell})

	filled, price, traded := b.AddOrder(Order{ID: 3, Price: 101, Qty: 8, Side: Buy})
	assert.True(t, traded)
	assert.Equal(t, int32(8), filled)
	assert.Equal(t, 101.0, price, "last resting level touched is 101")

	ask, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, 101.0, ask)
	assert.Equal(t, 1, b.IndexSize())
}

func TestNoCrossInvariantHoldsUnderMixedWorkload(t *testing.T) {
	b := newTestBook(t, 0.01)
	var nextID uint64 = 1

	place := func(price float64, qty int32, side Side) uint64 {
		id := nextID
		nextID++
		b.AddOrder(Order{ID: id, Price: price, Qty: qty, Side: side})
		return id
	}

	var live []uint64
	prices := []float64{99.90, 99.95, 100.00, 100.05, 100.10}
	for i := 0; i < 500; i++ {
		side := Buy
		if i%2 == 1 {
			side = Sell
		}
		id := place(prices[i%len(prices)], int32(1+i%5), side)
		live = append(live, id)

		if len(live) > 3 {
			b.CancelOrder(live[0])
			live = live[1:]
		}

		bidTick, haveBid := b.BestBid()
		askTick, haveAsk := b.BestAsk()
		if haveBid && haveAsk {
			assert.LessOrEqual(t, bidTick, askTick, "book must never be crossed after a match")
		}
	}
}

func TestSnapshotOrdersBestFirstPerSide(t *testing.T) {
	b := newTestBook(t, 1.0)
	b.AddOrder(Order{ID: 1, Price: 99, Qty: 5, Side: Buy})
	b.AddOrder(Order{ID: 2, Price: 100, Qty: 5, Side: Buy})
	b.AddOrder(Order{ID: 3, Price: 102, Qty: 5, Side: Sell})
	b.AddOrder(Order{ID: 4, Price: 101, Qty: 5, Side: Sell})

	snap := b.Snapshot(10)

	var bidPrices, askPrices []float64
	for _, d := range snap {
		if d.Side == Buy {
			bidPrices = append(bidPrices, d.Price)
		} else {
			askPrices = append(askPrices, d.Price)
		}
	}
	assert.Equal(t, []float64{100, 99}, bidPrices)
	assert.Equal(t, []float64{101, 102}, askPrices)
}

// TestArenaExhaustionAborts exercises the real abort path (spec §8
// scenario 5): log.Fatal calls os.Exit, which would kill the test binary
// if triggered in-process, so it is driven from a re-exec'd subprocess
// that runs arenaAbortHelper, the same way os/exec_test.go drives its own
// TestHelperProcess.
func TestArenaExhaustionAborts(t *testing.T) {
	if os.Getenv("FENRIR_ARENA_ABORT_HELPER") == "1" {
		arenaAbortHelper()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestArenaExhaustionAborts")
	cmd.Env = append(os.Environ(), "FENRIR_ARENA_ABORT_HELPER=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	if assert.ErrorAs(t, err, &exitErr) {
		assert.False(t, exitErr.Success(), "helper must abort, not exit cleanly")
	}
	assert.Contains(t, stderr.String(), "arena exhausted")
	assert.Contains(t, stderr.String(), "tiny-abort")
}

// arenaAbortHelper only runs inside the re-exec'd subprocess: it drives a
// tiny arena well past its capacity so arena.Alloc's log.Fatal fires for
// real, and the parent test asserts on the resulting exit code and stderr.
func arenaAbortHelper() {
	tiny := arena.New("tiny-abort", 256)
	b := New("TEST", tiny, 1.0)
	for i := 0; i < 1000; i++ {
		b.AddOrder(Order{ID: uint64(i + 1), Price: float64(100 + i), Qty: 1, Side: Sell})
	}
}
