package shm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderSizes(t *testing.T) {
	assert.Equal(t, uintptr(SegmentHeaderSize), unsafe.Sizeof(SegmentHeader{}))
	assert.Equal(t, uintptr(RingHeaderSize), unsafe.Sizeof(RingHeader{}))
}

func TestPowerOfTwoHelpers(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(64))
	assert.True(t, IsPowerOfTwo(1<<20))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(3))
	assert.False(t, IsPowerOfTwo(65))

	assert.Equal(t, uint64(1), NextPowerOfTwo(0))
	assert.Equal(t, uint64(64), NextPowerOfTwo(64))
	assert.Equal(t, uint64(128), NextPowerOfTwo(65))
	assert.Equal(t, uint64(1<<20), NextPowerOfTwo(1<<20-3))
}

func TestCalculateLayout(t *testing.T) {
	total, ringOff, err := CalculateLayout(4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(SegmentHeaderSize), ringOff)
	assert.Equal(t, uint64(SegmentHeaderSize+RingHeaderSize+4096), total)
	assert.Equal(t, uint64(0), total%64)

	_, _, err = CalculateLayout(4095)
	assert.Error(t, err)

	_, _, err = CalculateLayout(MinRingCapacity / 2)
	assert.Error(t, err)
}

func TestRingHeaderIndexMath(t *testing.T) {
	var rh RingHeader
	rh.SetCapacity(128)

	assert.True(t, rh.IsEmpty())
	assert.False(t, rh.IsFull())
	assert.Equal(t, uint64(128), rh.Available())

	rh.SetWriteIndex(100)
	rh.SetReadIndex(30)
	assert.Equal(t, uint64(70), rh.Used())
	assert.Equal(t, uint64(58), rh.Available())
	assert.Equal(t, uint64(100&127), rh.Offset(100))

	// Monotonic indices stay correct past the uint64 mask boundary.
	rh.SetWriteIndex(1<<40 + 5)
	rh.SetReadIndex(1 << 40)
	assert.Equal(t, uint64(5), rh.Used())

	rh.SetWriteIndex(rh.ReadIndex() + 128)
	assert.True(t, rh.IsFull())
}

func TestValidateHeader(t *testing.T) {
	mem := make([]byte, SegmentHeaderSize+RingHeaderSize+4096)
	h := HeaderAt(mem)

	// Zeroed header is rejected.
	assert.Error(t, ValidateHeader(h))

	total, ringOff, err := CalculateLayout(4096)
	require.NoError(t, err)

	h.SetMagic(MagicBytes())
	h.SetVersion(SegmentVersion)
	h.SetTotalSize(total)
	h.SetRingOffset(ringOff)
	h.SetRingCapacity(4096)

	// Not ready until the creator publishes.
	assert.Error(t, ValidateHeader(h))
	h.SetOwnerReady(true)
	assert.NoError(t, ValidateHeader(h))

	h.SetVersion(SegmentVersion + 1)
	assert.Error(t, ValidateHeader(h))
	h.SetVersion(SegmentVersion)

	h.SetTotalSize(total + 64)
	assert.Error(t, ValidateHeader(h))
	h.SetTotalSize(total)

	h.SetRingCapacity(4095)
	assert.Error(t, ValidateHeader(h))
}

func TestAttachRefCounting(t *testing.T) {
	var h SegmentHeader
	assert.Equal(t, uint32(1), h.IncAttachRefs())
	assert.Equal(t, uint32(2), h.IncAttachRefs())
	assert.Equal(t, uint32(1), h.DecAttachRefs())
	assert.Equal(t, uint32(0), h.DecAttachRefs())
}

func TestRingAtViews(t *testing.T) {
	capacity := uint64(256)
	total, ringOff, err := CalculateLayout(capacity)
	require.NoError(t, err)
	mem := make([]byte, total)

	rh := RingAt(mem, ringOff)
	rh.SetCapacity(capacity)
	rh.SetWriteIndex(7)

	// Same memory, fresh view.
	again := RingAt(mem, ringOff)
	assert.Equal(t, uint64(7), again.WriteIndex())

	data := RingData(mem, ringOff, capacity)
	require.Equal(t, int(capacity), len(data))
	data[0] = 0xAB
	assert.Equal(t, byte(0xAB), mem[ringOff+RingHeaderSize])
}
