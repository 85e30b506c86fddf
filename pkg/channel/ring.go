package channel

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/valyala/bytebufferpool"

	internalshm "github.com/shmchan/shmchan/internal/shm"
	"github.com/shmchan/shmchan/pkg/shm"
)

// Each message occupies one frame: a 4-byte little-endian payload length
// followed by the payload. The producer advances widx once per complete
// frame, so any nonzero used count is a whole number of frames.
const frameHeaderSize = 4

// ring is the SPSC frame queue over a segment's data area. One context
// writes, one context reads; the futex cells in the ring header are the only
// shared synchronization.
type ring struct {
	hdr      *internalshm.RingHeader
	data     []byte
	capacity uint64
	capMask  uint64
}

func newRing(seg *shm.Segment) *ring {
	capacity := seg.Capacity()
	return &ring{
		hdr:      seg.Ring,
		data:     seg.Data,
		capacity: capacity,
		capMask:  capacity - 1,
	}
}

// copyIn copies src into the data area starting at monotonic index idx,
// splitting at the wrap point when needed.
func (r *ring) copyIn(idx uint64, src []byte) {
	pos := idx & r.capMask
	n := uint64(len(src))
	if pos+n <= r.capacity {
		copy(r.data[pos:], src)
		return
	}
	first := r.capacity - pos
	copy(r.data[pos:], src[:first])
	copy(r.data, src[first:])
}

// copyOut copies len(dst) bytes out of the data area starting at idx.
func (r *ring) copyOut(idx uint64, dst []byte) {
	pos := idx & r.capMask
	n := uint64(len(dst))
	if pos+n <= r.capacity {
		copy(dst, r.data[pos:pos+n])
		return
	}
	first := r.capacity - pos
	copy(dst, r.data[pos:])
	copy(dst[first:], r.data[:n-first])
}

// tryPush appends one frame if it currently fits. The data-seq futex is
// bumped and woken only on the empty to non-empty transition; the consumer
// never sleeps while data is present, so that is the only edge that matters.
func (r *ring) tryPush(payload []byte) (bool, error) {
	need := uint64(frameHeaderSize + len(payload))
	if need > r.capacity {
		return false, ErrPayloadTooLarge
	}
	if r.hdr.Closed() {
		return false, ErrChannelClosed
	}

	widx := r.hdr.WriteIndex()
	ridx := r.hdr.ReadIndex()
	usedBefore := widx - ridx
	if need > r.capacity-usedBefore {
		return false, nil
	}

	var fh [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(fh[:], uint32(len(payload)))
	r.copyIn(widx, fh[:])
	r.copyIn(widx+frameHeaderSize, payload)

	// Publishing widx is the release point; the consumer's atomic load of
	// widx is the matching acquire.
	r.hdr.SetWriteIndex(widx + need)

	if usedBefore == 0 {
		r.hdr.IncrementDataSequence()
		_, _ = internalshm.FutexWake(r.hdr.DataSeqAddr(), 1)
	}
	return true, nil
}

// push is the blocking variant. Waits on the space futex until the frame
// fits, the channel closes, or ctx ends. Waits are capped at pollInterval so
// a plain cancel (no deadline) is observed.
func (r *ring) push(ctx context.Context, payload []byte, pollInterval time.Duration) error {
	for {
		ok, err := r.tryPush(payload)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timeoutNs := pollInterval.Nanoseconds()
		if deadline, has := ctx.Deadline(); has {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return context.DeadlineExceeded
			}
			if remaining.Nanoseconds() < timeoutNs {
				timeoutNs = remaining.Nanoseconds()
			}
		}

		seq := r.hdr.SpaceSequence()
		if stillFull := r.hdr.Available() < uint64(frameHeaderSize+len(payload)); !stillFull {
			continue
		}
		err = internalshm.FutexWaitTimeout(r.hdr.SpaceSeqAddr(), seq, timeoutNs)
		switch err {
		case nil, internalshm.ErrFutexTimeout, internalshm.ErrWaitInterrupted:
			// Re-check space and ctx on any wake.
		default:
			return err
		}
	}
}

// tryPop moves the next frame's payload into dst. Returns false when no
// frame is queued; returns ErrChannelClosed once closed and drained.
func (r *ring) tryPop(dst *bytebufferpool.ByteBuffer) (bool, error) {
	widx := r.hdr.WriteIndex()
	ridx := r.hdr.ReadIndex()
	usedBefore := widx - ridx
	if usedBefore == 0 {
		if r.hdr.Closed() {
			return false, ErrChannelClosed
		}
		return false, nil
	}

	var fh [frameHeaderSize]byte
	r.copyOut(ridx, fh[:])
	payloadLen := uint64(binary.LittleEndian.Uint32(fh[:]))

	dst.Reset()
	if payloadLen > 0 {
		b := dst.B
		if uint64(cap(b)) < payloadLen {
			b = make([]byte, payloadLen)
		}
		b = b[:payloadLen]
		r.copyOut(ridx+frameHeaderSize, b)
		dst.B = b
	}

	r.hdr.SetReadIndex(ridx + frameHeaderSize + payloadLen)

	// A producer blocked on space always re-checks after a wake, so waking
	// on the full transition plus once per drain cycle (see Replica) covers
	// every blocked writer.
	if usedBefore == r.capacity {
		r.wakeSpace()
	}
	return true, nil
}

func (r *ring) wakeSpace() {
	r.hdr.IncrementSpaceSequence()
	_, _ = internalshm.FutexWake(r.hdr.SpaceSeqAddr(), 1)
}

// waitData parks the consumer until a data wake, the timeout, or an
// interrupt. The sequence snapshot is taken before the emptiness check; a
// push between the two bumps the cell and the futex returns immediately.
func (r *ring) waitData(timeoutNs int64) error {
	seq := r.hdr.DataSequence()
	if r.hdr.Used() > 0 {
		return nil
	}
	if r.hdr.Closed() {
		return ErrChannelClosed
	}
	return internalshm.FutexWaitTimeout(r.hdr.DataSeqAddr(), seq, timeoutNs)
}

// close marks the ring closed for writing and wakes both sides.
func (r *ring) close() {
	r.hdr.SetClosed(true)
	r.hdr.IncrementDataSequence()
	_, _ = internalshm.FutexWake(r.hdr.DataSeqAddr(), 1)
	r.wakeSpace()
}

func (r *ring) used() uint64      { return r.hdr.Used() }
func (r *ring) available() uint64 { return r.hdr.Available() }
func (r *ring) closed() bool      { return r.hdr.Closed() }
