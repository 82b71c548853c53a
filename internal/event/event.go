// Package event defines the canonical simulation event record and its
// compact binary encoding (spec §4.E).
package event

import (
	"encoding/binary"
	"errors"
	"math"
)

// Side is the buy/sell side of an order or event.
type Side uint8

const (
	// Buy is encoded on the wire as 0x42 ('B').
	Buy Side = 0x42
	// Sell is encoded on the wire as 0x53 ('S').
	Sell Side = 0x53
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Kind identifies the event variant.
type Kind uint8

const (
	OrderAdd    Kind = 1
	OrderCancel Kind = 2
	Trade       Kind = 3
)

// Event is the canonical record emitted by the matching engine (spec §4.E).
type Event struct {
	TsNs   uint64
	Kind   Kind
	Symbol string
	Price  float64
	Qty    int32
	Side   Side
}

// ErrTruncated is returned by Deserialize when the input is shorter than
// the declared record (spec §4.E: "MUST reject inputs shorter than the
// declared prefix or truncated after the length field").
var ErrTruncated = errors.New("event: truncated record")

// fixedTailLen is the number of bytes after the symbol: ts_ns(8) +
// kind(1) + price(8) + qty(4) + side(1).
const fixedTailLen = 8 + 1 + 8 + 4 + 1

// SerializedSize returns the exact encoded length of e.
func (e Event) SerializedSize() int {
	return 2 + len(e.Symbol) + fixedTailLen
}

// Serialize encodes e per the §4.E byte layout: little-endian, tightly
// packed, no alignment padding.
func (e Event) Serialize() []byte {
	sl := len(e.Symbol)
	buf := make([]byte, 2+sl+fixedTailLen)

	binary.LittleEndian.PutUint16(buf[0:2], uint16(sl))
	copy(buf[2:2+sl], e.Symbol)

	off := 2 + sl
	binary.LittleEndian.PutUint64(buf[off:off+8], e.TsNs)
	buf[off+8] = byte(e.Kind)
	binary.LittleEndian.PutUint64(buf[off+9:off+17], math.Float64bits(e.Price))
	binary.LittleEndian.PutUint32(buf[off+17:off+21], uint32(e.Qty))
	buf[off+21] = byte(e.Side)

	return buf
}

// Deserialize decodes an Event from data, returning the number of bytes
// consumed. It rejects input shorter than the declared symbol-length
// prefix or shorter than the full declared record.
func Deserialize(data []byte) (Event, int, error) {
	if len(data) < 2 {
		return Event{}, 0, ErrTruncated
	}
	sl := int(binary.LittleEndian.Uint16(data[0:2]))
	total := 2 + sl + fixedTailLen
	if len(data) < total {
		return Event{}, 0, ErrTruncated
	}

	symbol := string(data[2 : 2+sl])
	off := 2 + sl

	tsNs := binary.LittleEndian.Uint64(data[off : off+8])
	kind := Kind(data[off+8])
	price := math.Float64frombits(binary.LittleEndian.Uint64(data[off+9 : off+17]))
	qty := int32(binary.LittleEndian.Uint32(data[off+17 : off+21]))
	side := Side(data[off+21])

	return Event{
		TsNs:   tsNs,
		Kind:   kind,
		Symbol: symbol,
		Price:  price,
		Qty:    qty,
		Side:   side,
	}, total, nil
}

// SerializeStream frames e with a 4-byte little-endian length prefix, for
// the wire stream form named in spec §6.
func SerializeStream(e Event) []byte {
	body := e.Serialize()
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// DeserializeStream reads one length-prefixed record from data, returning
// the decoded event and the number of bytes consumed (prefix + body).
func DeserializeStream(data []byte) (Event, int, error) {
	if len(data) < 4 {
		return Event{}, 0, ErrTruncated
	}
	bodyLen := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) < 4+bodyLen {
		return Event{}, 0, ErrTruncated
	}
	e, consumed, err := Deserialize(data[4 : 4+bodyLen])
	if err != nil {
		return Event{}, 0, err
	}
	return e, 4 + consumed, nil
}
