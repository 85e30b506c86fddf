// Package shm provides the shared memory primitives behind shmchan: segment
// layout, futex wait/notify and platform mapping helpers.
//
// A segment holds one SPSC ring. All cross-context state lives in the two
// headers below; indices are published with atomic stores so that a futex
// wake on one side always observes the data written before it.
package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants.
const (
	// SegmentMagic identifies a shmchan segment.
	SegmentMagic = "SHMCHAN\x00"

	// SegmentVersion is the current layout version.
	SegmentVersion = uint32(1)

	// SegmentHeaderSize is the segment header size (aligned to 128 bytes).
	SegmentHeaderSize = 128

	// RingHeaderSize is the ring header size (aligned to 64 bytes).
	RingHeaderSize = 64

	// MinRingCapacity is the smallest data area the layout accepts.
	MinRingCapacity = 64

	// DefaultRingCapacity is used when a Config does not name one.
	DefaultRingCapacity = 64 * 1024
)

// SegmentHeader is the first 128 bytes of a mapped segment.
type SegmentHeader struct {
	magic      [8]byte  // 0x00: "SHMCHAN\0"
	version    uint32   // 0x08: layout version
	flags      uint32   // 0x0C: reserved
	totalSize  uint64   // 0x10: total segment size in bytes
	ringOff    uint64   // 0x18: offset of the ring header
	ringCap    uint64   // 0x20: ring data capacity (power of two)
	ownerPID   uint32   // 0x28: creating process
	attachPID  uint32   // 0x2C: last attaching process
	ownerReady uint32   // 0x30: set once the creator finished init
	attachRefs uint32   // 0x34: live mapping count across contexts
	closed     uint32   // 0x38: segment closed flag
	pad        uint32   // 0x3C
	reserved   [64]byte // 0x40-0x7F
}

// Magic returns the magic bytes.
func (h *SegmentHeader) Magic() [8]byte { return h.magic }

// SetMagic sets the magic bytes. Only the creator writes it, before
// publishing ownerReady.
func (h *SegmentHeader) SetMagic(magic [8]byte) { h.magic = magic }

func (h *SegmentHeader) Version() uint32     { return atomic.LoadUint32(&h.version) }
func (h *SegmentHeader) SetVersion(v uint32) { atomic.StoreUint32(&h.version, v) }

func (h *SegmentHeader) TotalSize() uint64     { return atomic.LoadUint64(&h.totalSize) }
func (h *SegmentHeader) SetTotalSize(n uint64) { atomic.StoreUint64(&h.totalSize, n) }

func (h *SegmentHeader) RingOffset() uint64       { return atomic.LoadUint64(&h.ringOff) }
func (h *SegmentHeader) SetRingOffset(off uint64) { atomic.StoreUint64(&h.ringOff, off) }

func (h *SegmentHeader) RingCapacity() uint64     { return atomic.LoadUint64(&h.ringCap) }
func (h *SegmentHeader) SetRingCapacity(c uint64) { atomic.StoreUint64(&h.ringCap, c) }

func (h *SegmentHeader) OwnerPID() uint32       { return atomic.LoadUint32(&h.ownerPID) }
func (h *SegmentHeader) SetOwnerPID(pid uint32) { atomic.StoreUint32(&h.ownerPID, pid) }

func (h *SegmentHeader) AttachPID() uint32       { return atomic.LoadUint32(&h.attachPID) }
func (h *SegmentHeader) SetAttachPID(pid uint32) { atomic.StoreUint32(&h.attachPID, pid) }

// OwnerReady reports whether the creator finished initializing the layout.
func (h *SegmentHeader) OwnerReady() bool { return atomic.LoadUint32(&h.ownerReady) != 0 }

// SetOwnerReady publishes the initialized layout to attaching contexts.
func (h *SegmentHeader) SetOwnerReady(ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	atomic.StoreUint32(&h.ownerReady, v)
}

// AttachRefs returns the number of live mappings.
func (h *SegmentHeader) AttachRefs() uint32 { return atomic.LoadUint32(&h.attachRefs) }

// IncAttachRefs registers a new mapping and returns the new count.
func (h *SegmentHeader) IncAttachRefs() uint32 { return atomic.AddUint32(&h.attachRefs, 1) }

// DecAttachRefs drops a mapping and returns the remaining count. The context
// that observes zero unlinks the backing file.
func (h *SegmentHeader) DecAttachRefs() uint32 { return atomic.AddUint32(&h.attachRefs, ^uint32(0)) }

func (h *SegmentHeader) Closed() bool { return atomic.LoadUint32(&h.closed) != 0 }

func (h *SegmentHeader) SetClosed(closed bool) {
	var v uint32
	if closed {
		v = 1
	}
	atomic.StoreUint32(&h.closed, v)
}

// RingHeader is the 64-byte control block in front of the ring data area.
//
// The producer owns widx and dataSeq, the consumer owns ridx and spaceSeq;
// the cursors are disjoint so the only shared synchronization is the two
// futex cells.
type RingHeader struct {
	capacity uint64   // 0x00: power-of-two data capacity in bytes
	widx     uint64   // 0x08: monotonic write index (producer)
	ridx     uint64   // 0x10: monotonic read index (consumer)
	dataSeq  uint32   // 0x18: futex cell, bumped on empty -> non-empty
	spaceSeq uint32   // 0x1C: futex cell, bumped on full -> not-full
	closed   uint32   // 0x20: producer sets to 1
	pad      uint32   // 0x24
	reserved [24]byte // 0x28-0x3F
}

func (r *RingHeader) Capacity() uint64     { return atomic.LoadUint64(&r.capacity) }
func (r *RingHeader) SetCapacity(c uint64) { atomic.StoreUint64(&r.capacity, c) }

func (r *RingHeader) WriteIndex() uint64       { return atomic.LoadUint64(&r.widx) }
func (r *RingHeader) SetWriteIndex(idx uint64) { atomic.StoreUint64(&r.widx, idx) }

func (r *RingHeader) ReadIndex() uint64       { return atomic.LoadUint64(&r.ridx) }
func (r *RingHeader) SetReadIndex(idx uint64) { atomic.StoreUint64(&r.ridx, idx) }

func (r *RingHeader) DataSequence() uint32      { return atomic.LoadUint32(&r.dataSeq) }
func (r *RingHeader) IncrementDataSequence() uint32 { return atomic.AddUint32(&r.dataSeq, 1) }

func (r *RingHeader) SpaceSequence() uint32      { return atomic.LoadUint32(&r.spaceSeq) }
func (r *RingHeader) IncrementSpaceSequence() uint32 { return atomic.AddUint32(&r.spaceSeq, 1) }

// DataSeqAddr exposes the data futex cell for wait/wake.
func (r *RingHeader) DataSeqAddr() *uint32 { return &r.dataSeq }

// SpaceSeqAddr exposes the space futex cell for wait/wake.
func (r *RingHeader) SpaceSeqAddr() *uint32 { return &r.spaceSeq }

func (r *RingHeader) Closed() bool { return atomic.LoadUint32(&r.closed) != 0 }

func (r *RingHeader) SetClosed(closed bool) {
	var v uint32
	if closed {
		v = 1
	}
	atomic.StoreUint32(&r.closed, v)
}

// Used returns the number of bytes currently in the ring. The monotonic
// uint64 indices make the subtraction wrap-safe.
func (r *RingHeader) Used() uint64 {
	w := atomic.LoadUint64(&r.widx)
	rd := atomic.LoadUint64(&r.ridx)
	return w - rd
}

// Available returns the number of bytes writable without overwriting.
func (r *RingHeader) Available() uint64 {
	return atomic.LoadUint64(&r.capacity) - r.Used()
}

// Offset converts a monotonic index into a data area offset.
func (r *RingHeader) Offset(index uint64) uint64 {
	return index & (atomic.LoadUint64(&r.capacity) - 1)
}

func (r *RingHeader) IsEmpty() bool { return r.Used() == 0 }
func (r *RingHeader) IsFull() bool  { return r.Available() == 0 }

// HeaderAt interprets mem as a segment header. mem must be at least
// SegmentHeaderSize bytes of mapped memory.
func HeaderAt(mem []byte) *SegmentHeader {
	return (*SegmentHeader)(unsafe.Pointer(&mem[0]))
}

// RingAt interprets mem[off:] as a ring header.
func RingAt(mem []byte, off uint64) *RingHeader {
	return (*RingHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(&mem[0])) + uintptr(off)))
}

// RingData returns the ring data area following the ring header at off.
func RingData(mem []byte, off uint64, capacity uint64) []byte {
	start := off + RingHeaderSize
	return mem[start : start+capacity]
}

// IsPowerOfTwo reports whether n is a power of two.
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// NextPowerOfTwo returns the next power of two >= n.
func NextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if IsPowerOfTwo(n) {
		return n
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// CalculateLayout computes the total size and ring offset for a segment with
// the given data capacity.
func CalculateLayout(ringCapacity uint64) (totalSize, ringOffset uint64, err error) {
	if !IsPowerOfTwo(ringCapacity) {
		return 0, 0, fmt.Errorf("ring capacity %d is not a power of two", ringCapacity)
	}
	if ringCapacity < MinRingCapacity {
		return 0, 0, fmt.Errorf("ring capacity %d is below minimum %d", ringCapacity, MinRingCapacity)
	}
	ringOffset = alignTo64(SegmentHeaderSize)
	totalSize = alignTo64(ringOffset + RingHeaderSize + ringCapacity)
	return totalSize, ringOffset, nil
}

func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// MagicBytes returns SegmentMagic as a byte array for header comparison.
func MagicBytes() [8]byte {
	return [8]byte{'S', 'H', 'M', 'C', 'H', 'A', 'N', 0}
}

// ValidateHeader checks a mapped segment header for consistency before any
// ring access. Reconstruction from a transferred handle goes through here.
func ValidateHeader(h *SegmentHeader) error {
	if h.Magic() != MagicBytes() {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), SegmentVersion)
	}
	if !h.OwnerReady() {
		return fmt.Errorf("segment is not initialized")
	}
	expectedTotal, expectedRingOff, err := CalculateLayout(h.RingCapacity())
	if err != nil {
		return fmt.Errorf("layout check failed: %w", err)
	}
	if h.TotalSize() != expectedTotal {
		return fmt.Errorf("total size mismatch: got %d, expected %d", h.TotalSize(), expectedTotal)
	}
	if h.RingOffset() != expectedRingOff {
		return fmt.Errorf("ring offset mismatch: got %d, expected %d", h.RingOffset(), expectedRingOff)
	}
	return nil
}
