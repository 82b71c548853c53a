// Package arena implements a contiguous, bump-pointer memory region.
//
// Allocations are served by advancing a monotonic offset into a
// pre-allocated byte buffer; nothing is ever freed back to the region.
// Exhaustion is a configuration bug, not a recoverable condition: it aborts
// the process with a one-line diagnostic naming the arena.
package arena

import (
	"unsafe"

	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the default per-worker arena size (1 MiB), matching
// the simulation driver's default.
const DefaultCapacity = 1 << 20

// Arena is a fixed-capacity bump allocator. Not safe for concurrent use;
// callers own exactly one arena per worker.
type Arena struct {
	name   string
	buf    []byte
	offset uintptr
}

// New allocates a buffer of the given capacity and returns an empty arena.
func New(name string, capacity int) *Arena {
	if capacity <= 0 {
		log.Fatal().Str("arena", name).Int("capacity", capacity).Msg("arena: non-positive capacity")
	}
	return &Arena{
		name: name,
		buf:  make([]byte, capacity),
	}
}

// Alloc returns a zeroed, aligned sub-slice of n bytes. It aborts the
// process if the arena is exhausted; this is treated as a configuration
// bug, never a recoverable error (spec §4.A, §7).
func (a *Arena) Alloc(n int, align uintptr) []byte {
	if n < 0 {
		log.Fatal().Str("arena", a.name).Int("n", n).Msg("arena: negative allocation size")
	}
	if align == 0 {
		align = 1
	}

	base := uintptr(unsafe.Pointer(&a.buf[0]))
	cur := base + a.offset
	aligned := (cur + align - 1) &^ (align - 1)
	padding := aligned - cur

	need := padding + uintptr(n)
	if a.offset+need > uintptr(len(a.buf)) {
		log.Fatal().
			Str("arena", a.name).
			Int("requested", n).
			Uint64("offset", uint64(a.offset)).
			Uint64("capacity", uint64(len(a.buf))).
			Msg("arena exhausted")
	}

	start := a.offset + padding
	end := start + uintptr(n)
	a.offset = end
	return a.buf[start:end:end]
}

// BytesRequested reports the number of bytes currently in use (i.e. the
// bump offset), exposed read-only for post-run telemetry (spec §6).
func (a *Arena) BytesRequested() uint64 { return uint64(a.offset) }

// BytesRemaining reports the number of bytes still free in the region.
func (a *Arena) BytesRemaining() uint64 { return uint64(len(a.buf)) - uint64(a.offset) }

// Capacity returns the total size of the underlying buffer.
func (a *Arena) Capacity() uint64 { return uint64(len(a.buf)) }

// Name returns the arena's diagnostic label.
func (a *Arena) Name() string { return a.name }

// CountingUpstream wraps an Arena and tallies the number of bytes ever
// requested across its lifetime, independent of the arena's own bump
// offset (which already tracks this for a plain bump region, but the
// upstream exists so alternate allocation strategies could delegate here
// while still reporting the same telemetry contract).
type CountingUpstream struct {
	arena        *Arena
	totalRequest uint64
}

// NewCountingUpstream wraps an arena with a byte-accounting layer.
func NewCountingUpstream(a *Arena) *CountingUpstream {
	return &CountingUpstream{arena: a}
}

// Alloc delegates to the underlying arena and records the requested size.
func (c *CountingUpstream) Alloc(n int, align uintptr) []byte {
	c.totalRequest += uint64(n)
	return c.arena.Alloc(n, align)
}

// TotalRequested returns the cumulative number of bytes ever requested
// through this upstream, regardless of alignment padding.
func (c *CountingUpstream) TotalRequested() uint64 { return c.totalRequest }
