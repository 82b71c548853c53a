// Package flathash implements a fixed-capacity, open-addressed, linear
// probe hash table from an integral key to an arbitrary value.
//
// Capacity never grows. Tombstones are compacted in place once they build
// up past a documented threshold, and the table aborts rather than silently
// degrade once it is genuinely mis-sized for its workload (spec §4.B).
package flathash

import (
	"github.com/rs/zerolog/log"
)

// Key is the set of integral types this table accepts.
type Key interface {
	~int32 | ~uint32 | ~int64 | ~uint64
}

type state uint8

const (
	stateEmpty state = iota
	stateFilled
	stateTomb
)

type entry[K Key, V any] struct {
	key   K
	value V
	state state
}

// Map is a fixed-capacity open-addressed linear-probe hash table.
type Map[K Key, V any] struct {
	name    string
	table   []entry[K, V]
	scratch []entry[K, V]
	mask    uint64
	size    int
	tombs   int
}

// New creates a table whose capacity is the next power of two ≥ capacity,
// with a minimum of 8.
func New[K Key, V any](name string, capacity int) *Map[K, V] {
	cap := nextPow2(capacity)
	return &Map[K, V]{
		name:    name,
		table:   make([]entry[K, V], cap),
		scratch: make([]entry[K, V], cap),
		mask:    uint64(cap) - 1,
	}
}

func nextPow2(x int) int {
	if x < 8 {
		return 8
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

// Size returns the number of live (Filled) entries.
func (m *Map[K, V]) Size() int { return m.size }

// Tombs returns the number of tombstoned entries.
func (m *Map[K, V]) Tombs() int { return m.tombs }

// Capacity returns the fixed table capacity.
func (m *Map[K, V]) Capacity() int { return int(m.mask) + 1 }

func hashKey[K Key](k K) uint64 {
	switch any(k).(type) {
	case int32, uint32:
		x := uint32(k)
		x ^= x >> 16
		x *= 0x85ebca6b
		x ^= x >> 13
		x *= 0xc2b2ae35
		x ^= x >> 16
		return uint64(x)
	default:
		x := uint64(k)
		x ^= x >> 33
		x *= 0xff51afd7ed558ccd
		x ^= x >> 33
		x *= 0xc4ceb9fe1a85ec53
		x ^= x >> 33
		return x
	}
}

func (m *Map[K, V]) findIndex(k K) (int, bool) {
	idx := hashKey(k) & m.mask
	for {
		e := &m.table[idx]
		switch e.state {
		case stateEmpty:
			return 0, false
		case stateFilled:
			if e.key == k {
				return int(idx), true
			}
		}
		idx = (idx + 1) & m.mask
	}
}

// Find returns a pointer to the value for k, or nil if absent.
func (m *Map[K, V]) Find(k K) (*V, bool) {
	idx, ok := m.findIndex(k)
	if !ok {
		return nil, false
	}
	return &m.table[idx].value, true
}

// Contains reports whether k is present.
func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.findIndex(k)
	return ok
}

// Insert adds k→v. Returns false without modifying the table if k is
// already present (no update-on-insert semantics, per spec §4.B).
func (m *Map[K, V]) Insert(k K, v V) bool {
	m.maybeCompact()

	idx := hashKey(k) & m.mask
	firstTomb := -1
	for {
		e := &m.table[idx]
		switch e.state {
		case stateEmpty:
			dst := idx
			if firstTomb >= 0 {
				dst = uint64(firstTomb)
				m.tombs--
			}
			m.table[dst] = entry[K, V]{key: k, value: v, state: stateFilled}
			m.size++
			return true
		case stateTomb:
			if firstTomb < 0 {
				firstTomb = int(idx)
			}
		case stateFilled:
			if e.key == k {
				return false
			}
		}
		idx = (idx + 1) & m.mask
	}
}

// Erase marks k's entry as a tombstone. Returns false if k was absent.
func (m *Map[K, V]) Erase(k K) bool {
	idx, ok := m.findIndex(k)
	if !ok {
		return false
	}
	m.table[idx].state = stateTomb
	var zero V
	m.table[idx].value = zero
	m.size--
	m.tombs++
	return true
}

// maybeCompact rehashes in place when tombstones have built up past the
// documented threshold, and aborts if the table is still mis-sized after
// compaction (spec §4.B, §7: usage bug, not a recoverable condition).
func (m *Map[K, V]) maybeCompact() {
	cap := uint64(m.Capacity())
	if uint64(m.tombs) > cap/4 || uint64(m.size+m.tombs)*10 >= cap*7 {
		m.rehashSameCapacity()
	}
	if uint64(m.size+m.tombs)*10 >= cap*8 {
		log.Fatal().
			Str("table", m.name).
			Int("size", m.size).
			Int("tombs", m.tombs).
			Uint64("capacity", cap).
			Msg("flathash: fixed capacity exhausted after compaction")
	}
}

func (m *Map[K, V]) rehashSameCapacity() {
	for i := range m.scratch {
		m.scratch[i] = entry[K, V]{}
	}

	newSize := 0
	for _, e := range m.table {
		if e.state != stateFilled {
			continue
		}
		idx := hashKey(e.key) & m.mask
		for {
			dst := &m.scratch[idx]
			if dst.state == stateEmpty {
				*dst = entry[K, V]{key: e.key, value: e.value, state: stateFilled}
				newSize++
				break
			}
			idx = (idx + 1) & m.mask
		}
	}

	m.table, m.scratch = m.scratch, m.table
	m.size = newSize
	m.tombs = 0
}
