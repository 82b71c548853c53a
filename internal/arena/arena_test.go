package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func addrOf(s []byte) uintptr {
	return uintptr(unsafe.Pointer(&s[0]))
}

func TestAlloc_SequentialNonOverlapping(t *testing.T) {
	a := New("test", 64)

	s1 := a.Alloc(8, 8)
	s2 := a.Alloc(8, 8)

	assert.Len(t, s1, 8)
	assert.Len(t, s2, 8)
	assert.GreaterOrEqual(t, addrOf(s2), addrOf(s1)+uintptr(len(s1)))
	assert.Equal(t, uint64(16), a.BytesRequested())
}

func TestAlloc_TracksRemaining(t *testing.T) {
	a := New("test", 32)
	a.Alloc(10, 1)
	assert.Equal(t, uint64(10), a.BytesRequested())
	assert.Equal(t, uint64(22), a.BytesRemaining())
}

func TestCountingUpstream_TracksTotalAcrossAllocs(t *testing.T) {
	a := New("test", 128)
	c := NewCountingUpstream(a)

	c.Alloc(10, 1)
	c.Alloc(20, 1)

	assert.Equal(t, uint64(30), c.TotalRequested())
}

func TestAlloc_RespectsAlignment(t *testing.T) {
	a := New("test", 64)
	a.Alloc(1, 1) // misalign the bump pointer
	s := a.Alloc(8, 8)

	addr := addrOf(s)
	assert.Zero(t, addr%8, "expected 8-byte aligned allocation")
}
